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
	"github.com/felixgeelhaar/stride/pkg/mutation"
	"github.com/felixgeelhaar/stride/pkg/remote"
	"github.com/felixgeelhaar/stride/pkg/store"
)

func newRepo(t *testing.T) *FilesystemRepository {
	t.Helper()
	repo := NewFilesystemRepository(t.TempDir())
	if err := repo.Initialize(); err != nil {
		t.Fatal(err)
	}
	return repo
}

func servicesFor(t *testing.T, srv *Server, user string) mutation.Services {
	t.Helper()
	return remote.NewServices(srv, remote.WithActor(user))
}

func defaultArea(t *testing.T, svc mutation.Services) tracking.KeyArea {
	t.Helper()
	areas, err := svc.KeyAreas.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, ka := range areas {
		if ka.IsDefault {
			return ka
		}
	}
	t.Fatal("no default key area")
	return tracking.KeyArea{}
}

func newTask(id, keyAreaID, title string) tracking.Task {
	return tracking.Task{
		ID:         id,
		KeyAreaID:  keyAreaID,
		Title:      title,
		Status:     tracking.TaskOpen,
		Priority:   tracking.PriorityMedium,
		ListIndex:  1,
		Delegation: tracking.Delegation{Status: tracking.DelegationNone},
	}
}

func TestInitialize_SeedsDefaultKeyArea(t *testing.T) {
	repo := newRepo(t)
	if !repo.IsInitialized() {
		t.Fatal("expected workspace to be initialized")
	}

	st, revision, err := repo.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if revision != 1 {
		t.Errorf("expected revision 1, got %d", revision)
	}
	def, ok := st.DefaultKeyArea()
	if !ok {
		t.Fatal("expected a default key area")
	}
	if def.Title != tracking.DefaultKeyAreaTitle {
		t.Errorf("expected %q, got %q", tracking.DefaultKeyAreaTitle, def.Title)
	}

	// a second Initialize keeps the existing state
	if err := repo.Initialize(); err != nil {
		t.Fatal(err)
	}
	again, _, err := repo.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if d, _ := again.DefaultKeyArea(); d.ID != def.ID {
		t.Errorf("default key area was replaced: %s != %s", d.ID, def.ID)
	}
}

func TestLoad_NotInitialized(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())
	if _, _, err := repo.Load(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestResolvePath_RejectsTraversal(t *testing.T) {
	repo := NewFilesystemRepository(t.TempDir())
	for _, name := range []string{"", "../secrets", "sub/state.json"} {
		if _, err := repo.ResolvePath(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
	if _, err := repo.ResolvePath(StateFile); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_RejectsInvalidDocument(t *testing.T) {
	repo := newRepo(t)
	path := filepath.Join(repo.Dir(), StateFile)
	if err := os.WriteFile(path, []byte(`{"revision": 3, "tasks": [{"title": "no id"}]}`), 0600); err != nil {
		t.Fatal(err)
	}

	_, _, err := repo.Load(context.Background())
	if err == nil {
		t.Fatal("expected schema validation error")
	}
	if !strings.Contains(err.Error(), "state file is invalid") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestSave_WritesPrivateFileAndBumpsRevision(t *testing.T) {
	repo := newRepo(t)
	st, revision, err := repo.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Save(st, revision); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(repo.Dir(), StateFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}
	_, next, err := repo.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if next != revision+1 {
		t.Errorf("expected revision %d, got %d", revision+1, next)
	}
}

func TestServer_CreateAndUpdateTask(t *testing.T) {
	srv := NewServer(newRepo(t))
	svc := servicesFor(t, srv, "alice")
	ctx := context.Background()
	def := defaultArea(t, svc)

	created, err := svc.Tasks.Create(ctx, newTask("t1", def.ID, "Draft plan"))
	if err != nil {
		t.Fatal(err)
	}
	if created.Version != 1 || created.Assignee != "alice" {
		t.Errorf("unexpected created task: %+v", created)
	}

	created.Title = "Final plan"
	created.Status = tracking.TaskCompleted
	updated, err := svc.Tasks.Update(ctx, created)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}
	if updated.CompletionDate.IsZero() {
		t.Error("expected completion date on a completed task")
	}

	stale := created
	stale.Title = "Late edit"
	if _, err := svc.Tasks.Update(ctx, stale); !errors.Is(err, tracking.ErrConflict) {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}

	got, err := svc.Tasks.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Final plan" {
		t.Errorf("expected persisted title, got %q", got.Title)
	}
}

func TestServer_RejectsUnknownReferences(t *testing.T) {
	srv := NewServer(newRepo(t))
	svc := servicesFor(t, srv, "alice")

	_, err := svc.Tasks.Create(context.Background(), newTask("t1", "missing", "Orphan"))
	if !errors.Is(err, tracking.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServer_DeleteTaskWithActivitiesIsGuarded(t *testing.T) {
	srv := NewServer(newRepo(t))
	svc := servicesFor(t, srv, "alice")
	ctx := context.Background()
	def := defaultArea(t, svc)

	if _, err := svc.Tasks.Create(ctx, newTask("t1", def.ID, "Parent")); err != nil {
		t.Fatal(err)
	}
	act := tracking.Activity{ID: "a1", TaskID: "t1", Text: "Step", Priority: tracking.PriorityLow}
	if _, err := svc.Activities.Create(ctx, act); err != nil {
		t.Fatal(err)
	}

	err := svc.Tasks.Remove(ctx, "t1")
	var guard *tracking.GuardViolation
	if !errors.As(err, &guard) || guard.Rule != "task-has-activities" {
		t.Fatalf("expected task-has-activities guard, got %v", err)
	}

	if err := svc.Activities.Remove(ctx, "a1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Tasks.Remove(ctx, "t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Tasks.Get(ctx, "t1"); !errors.Is(err, tracking.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestServer_KeyAreaLayout(t *testing.T) {
	srv := NewServer(newRepo(t))
	svc := servicesFor(t, srv, "alice")
	ctx := context.Background()

	for _, id := range []string{"health", "work", "family"} {
		// the server assigns positions; whatever the client sends is ignored
		if _, err := svc.KeyAreas.Create(ctx, tracking.KeyArea{ID: id, Title: id, Position: 7}); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := svc.KeyAreas.Create(ctx, tracking.KeyArea{ID: "dup", Title: "ideas"}); !errors.Is(err, tracking.ErrGuardViolation) {
		t.Fatalf("expected reserved title guard, got %v", err)
	}

	if err := svc.KeyAreas.Remove(ctx, "health"); err != nil {
		t.Fatal(err)
	}
	areas, err := svc.KeyAreas.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]int{"work": 1, "family": 2}
	for _, ka := range areas {
		if ka.IsDefault {
			continue
		}
		if want[ka.ID] != ka.Position {
			t.Errorf("%s at position %d, want %d", ka.ID, ka.Position, want[ka.ID])
		}
	}

	reordered, err := svc.KeyAreas.Reorder(ctx, []mutation.KeyAreaPosition{{ID: "family", Position: 1}, {ID: "work", Position: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if len(reordered) != 2 || reordered[0].ID != "family" {
		t.Errorf("unexpected reorder result: %+v", reordered)
	}

	_, err = svc.KeyAreas.Reorder(ctx, []mutation.KeyAreaPosition{{ID: "family", Position: 5}})
	if !errors.Is(err, tracking.ErrValidation) {
		t.Fatalf("expected gap to be rejected, got %v", err)
	}
}

func TestServer_KeyAreaCapacity(t *testing.T) {
	srv := NewServer(newRepo(t))
	svc := servicesFor(t, srv, "alice")
	ctx := context.Background()

	for i := 1; i <= 9; i++ {
		title := "Area " + string(rune('0'+i))
		if _, err := svc.KeyAreas.Create(ctx, tracking.KeyArea{ID: title, Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	_, err := svc.KeyAreas.Create(ctx, tracking.KeyArea{ID: "tenth", Title: "Tenth"})
	var capacity *tracking.CapacityError
	if !errors.As(err, &capacity) || capacity.Limit != 9 {
		t.Fatalf("expected capacity error, got %v", err)
	}
}

func TestServer_GoalDeleteCascades(t *testing.T) {
	srv := NewServer(newRepo(t))
	svc := servicesFor(t, srv, "alice")
	ctx := context.Background()
	def := defaultArea(t, svc)

	goal := tracking.Goal{ID: "g1", Title: "Launch", Status: tracking.GoalActive, Visibility: tracking.VisibilityPrivate}
	if _, err := svc.Goals.Create(ctx, goal); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Milestones.Create(ctx, tracking.Milestone{ID: "m1", GoalID: "g1", Title: "Beta", Weight: 1}); err != nil {
		t.Fatal(err)
	}
	task := newTask("t1", def.ID, "Ship")
	task.GoalID = "g1"
	if _, err := svc.Tasks.Create(ctx, task); err != nil {
		t.Fatal(err)
	}

	if err := svc.Goals.Remove(ctx, "g1"); err != nil {
		t.Fatal(err)
	}
	ms, err := svc.Milestones.ListByGoal(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 0 {
		t.Errorf("expected milestones removed, got %d", len(ms))
	}
	got, err := svc.Tasks.Get(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.GoalID != "" {
		t.Errorf("expected task unlinked, got goal %q", got.GoalID)
	}
}

func TestServer_DelegationFlow(t *testing.T) {
	srv := NewServer(newRepo(t))
	alice := servicesFor(t, srv, "alice")
	bob := servicesFor(t, srv, "bob")
	carol := servicesFor(t, srv, "carol")
	ctx := context.Background()
	def := defaultArea(t, alice)

	if _, err := alice.Tasks.Create(ctx, newTask("t1", def.ID, "Review")); err != nil {
		t.Fatal(err)
	}
	ref := tracking.Ref{Kind: tracking.KindTask, ID: "t1"}

	if _, err := carol.Delegations.Delegate(ctx, ref, "bob"); !errors.Is(err, tracking.ErrGuardViolation) {
		t.Fatalf("expected only the owner to delegate, got %v", err)
	}
	if _, err := alice.Delegations.Delegate(ctx, ref, "bob"); err != nil {
		t.Fatal(err)
	}
	inbox, err := bob.Delegations.ListDelegatedToMe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(inbox.Tasks) != 1 || inbox.Tasks[0].ID != "t1" {
		t.Fatalf("expected t1 in bob's inbox, got %+v", inbox.Tasks)
	}

	if _, err := carol.Delegations.Accept(ctx, ref); !errors.Is(err, tracking.ErrGuardViolation) {
		t.Fatalf("expected only the recipient to answer, got %v", err)
	}

	accepted, err := bob.Delegations.Accept(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	task := accepted.(tracking.Task)
	if task.Assignee != "bob" || task.Delegation.Status != tracking.DelegationAccepted {
		t.Errorf("unexpected task after accept: %+v", task)
	}

	again, err := bob.Delegations.Accept(ctx, ref)
	if err != nil {
		t.Fatal(err)
	}
	if again.(tracking.Task).Version != task.Version {
		t.Error("expected a repeated accept to leave the task untouched")
	}
}

func TestServer_DelegationNeedsActor(t *testing.T) {
	srv := NewServer(newRepo(t))
	anonymous := remote.NewServices(srv)

	_, err := anonymous.Delegations.ListDelegatedToMe(context.Background())
	if !errors.Is(err, tracking.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestServer_DrivesCoordinator(t *testing.T) {
	repo := newRepo(t)
	srv := NewServer(repo)
	ctx := context.Background()

	newCoordinator := func() *mutation.Coordinator {
		st := store.New()
		c := mutation.NewCoordinator(st, servicesFor(t, srv, "alice"), events.NewEventDispatcher(),
			mutation.WithActor("alice"),
			mutation.WithTimeout(5*time.Second),
		)
		if err := c.Sync(ctx); err != nil {
			t.Fatal(err)
		}
		return c
	}

	first := newCoordinator()
	res, err := first.Apply(ctx, mutation.Create{Entity: tracking.Task{Title: "Plan sprint", Priority: tracking.PriorityHigh}})
	if err != nil {
		t.Fatal(err)
	}
	created := res.Entity.(tracking.Task)
	if created.Version != 1 {
		t.Errorf("expected server version, got %d", created.Version)
	}

	second := newCoordinator()
	got, ok := second.Store().Task(created.ID)
	if !ok {
		t.Fatal("expected the task to be visible after sync")
	}
	if got.Title != "Plan sprint" || got.Priority != tracking.PriorityHigh {
		t.Errorf("unexpected synced task: %+v", got)
	}
}
