package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

func newTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), JournalFile)
	return NewJournal(path), path
}

func settled(id, command string, outcome events.Outcome, err error) *events.MutationSettled {
	ref := tracking.Ref{Kind: tracking.KindTask, ID: id}
	return events.NewMutationSettled(ref, command, outcome, time.Millisecond, err, "alice", time.Now())
}

func TestJournal_AppendChainsEntries(t *testing.T) {
	j, _ := newTestJournal(t)
	ctx := context.Background()

	if err := j.Handle(ctx, settled("t1", "create", events.OutcomeApplied, nil)); err != nil {
		t.Fatal(err)
	}
	if err := j.Handle(ctx, settled("t1", "update", events.OutcomeRejected, errors.New("guard"))); err != nil {
		t.Fatal(err)
	}
	if err := j.Handle(ctx, settled("t2", "create", events.OutcomeApplied, nil)); err != nil {
		t.Fatal(err)
	}

	all, err := j.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].PrevHash != "" || all[1].PrevHash != all[0].Hash || all[2].PrevHash != all[1].Hash {
		t.Error("expected entries to be hash-chained")
	}
	if all[1].Error != "guard" || all[1].Actor != "alice" || all[1].Kind != "task" {
		t.Errorf("unexpected entry: %+v", all[1])
	}

	byEntity, err := j.LoadByEntity("t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(byEntity) != 2 {
		t.Errorf("expected 2 entries for t1, got %d", len(byEntity))
	}

	violations, err := j.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("expected an intact chain, got %v", violations)
	}
}

func TestJournal_SkipsNoopsAndOtherEvents(t *testing.T) {
	j, path := newTestJournal(t)
	ctx := context.Background()

	_ = j.Handle(ctx, settled("t1", "update", events.OutcomeNoop, nil))
	_ = j.Handle(ctx, events.NewEntityChanged(tracking.Ref{Kind: tracking.KindTask, ID: "t1"}, events.PhaseConfirmed, false, 1, time.Now()))

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected no journal file, got %v", err)
	}
	all, err := j.LoadAll()
	if err != nil || all != nil {
		t.Errorf("expected empty journal, got %v %v", all, err)
	}
}

func TestJournal_VerifyDetectsTampering(t *testing.T) {
	j, path := newTestJournal(t)
	ctx := context.Background()
	_ = j.Handle(ctx, settled("t1", "create", events.OutcomeApplied, nil))
	_ = j.Handle(ctx, settled("t1", "delete", events.OutcomeApplied, nil))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	tampered := strings.Replace(string(data), `"command":"delete"`, `"command":"update"`, 1)
	if err := os.WriteFile(path, []byte(tampered), 0600); err != nil {
		t.Fatal(err)
	}

	violations, err := j.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 1 || !strings.Contains(violations[0], "content modified") {
		t.Errorf("expected one modified entry, got %v", violations)
	}
}

func TestJournal_SharedFileKeepsChain(t *testing.T) {
	_, path := newTestJournal(t)
	first, second := NewJournal(path), NewJournal(path)
	ctx := context.Background()

	_ = first.Handle(ctx, settled("t1", "create", events.OutcomeApplied, nil))
	_ = second.Handle(ctx, settled("t2", "create", events.OutcomeApplied, nil))
	_ = first.Handle(ctx, settled("t3", "create", events.OutcomeApplied, nil))

	violations, err := first.VerifyIntegrity()
	if err != nil {
		t.Fatal(err)
	}
	if len(violations) != 0 {
		t.Errorf("expected an intact chain across writers, got %v", violations)
	}
}
