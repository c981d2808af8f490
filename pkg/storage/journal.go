package storage

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/events"
)

// JournalFile is the append-only command history inside .stride.
const JournalFile = "events.jsonl"

// JournalEntry records one settled command. Entries are hash-chained so
// edits to the file are detectable.
type JournalEntry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	Actor     string        `json:"actor,omitempty"`
	Kind      string        `json:"kind"`
	EntityID  string        `json:"entity_id"`
	Command   string        `json:"command"`
	Outcome   string        `json:"outcome"`
	Duration  time.Duration `json:"duration_ns"`
	Error     string        `json:"error,omitempty"`
	PrevHash  string        `json:"prev_hash,omitempty"`
	Hash      string        `json:"hash"`
}

// CalculateHash returns the SHA-256 over the entry's content and its
// predecessor's hash.
func (e *JournalEntry) CalculateHash() string {
	h := sha256.New()
	for _, s := range []string{
		e.PrevHash, e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Actor,
		e.Kind, e.EntityID, e.Command, e.Outcome, e.Error,
	} {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Journal appends settled commands to a JSON Lines file.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal creates a journal at path. The file is created on first append.
func NewJournal(path string) *Journal {
	return &Journal{path: path}
}

// Append chains e to the last entry on disk and writes it.
func (j *Journal) Append(e *JournalEntry) (err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	// Re-read the tail so appends from other processes keep the chain intact.
	entries, err := j.load()
	if err != nil {
		return err
	}
	e.PrevHash = ""
	if len(entries) > 0 {
		e.PrevHash = entries[len(entries)-1].Hash
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Hash = e.CalculateHash()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	// #nosec G304 -- path comes from FilesystemRepository.ResolvePath
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close journal: %w", cerr)
		}
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	return nil
}

// LoadAll returns every entry in append order.
func (j *Journal) LoadAll() ([]*JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.load()
}

// LoadByEntity returns the entries touching one entity.
func (j *Journal) LoadByEntity(id string) ([]*JournalEntry, error) {
	all, err := j.LoadAll()
	if err != nil {
		return nil, err
	}
	var out []*JournalEntry
	for _, e := range all {
		if e.EntityID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

// VerifyIntegrity walks the hash chain and describes every broken link.
func (j *Journal) VerifyIntegrity() ([]string, error) {
	all, err := j.LoadAll()
	if err != nil {
		return nil, err
	}
	var violations []string
	prev := ""
	for i, e := range all {
		if e.PrevHash != prev {
			violations = append(violations, fmt.Sprintf("entry %d (%s): chain broken", i, e.ID))
		}
		if e.Hash != e.CalculateHash() {
			violations = append(violations, fmt.Sprintf("entry %d (%s): content modified", i, e.ID))
		}
		prev = e.Hash
	}
	return violations, nil
}

// Handle journals settled commands. No-ops and other notifications are
// ignored.
func (j *Journal) Handle(_ context.Context, event events.DomainEvent) error {
	settled, ok := event.(*events.MutationSettled)
	if !ok || settled.Outcome == events.OutcomeNoop {
		return nil
	}
	return j.Append(&JournalEntry{
		ID:        settled.ID,
		Timestamp: settled.Timestamp,
		Actor:     settled.Actor,
		Kind:      settled.AggregateType(),
		EntityID:  settled.AggregateID(),
		Command:   settled.Command,
		Outcome:   string(settled.Outcome),
		Duration:  settled.Duration,
		Error:     settled.Error,
	})
}

// Registration subscribes the journal to settled commands.
func (j *Journal) Registration() events.HandlerRegistration {
	return events.HandlerRegistration{
		EventTypes: []string{events.EventTypeMutationSettled},
		Handler:    j.Handle,
		Name:       "Journal",
	}
}

func (j *Journal) load() ([]*JournalEntry, error) {
	// #nosec G304 -- path comes from FilesystemRepository.ResolvePath
	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only file

	var out []*JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e JournalEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("unmarshal journal entry: %w", err)
		}
		out = append(out, &e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return out, nil
}
