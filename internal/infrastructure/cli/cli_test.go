package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

// run executes one stride invocation as alice unless args override --user.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--workspace", dir, "--user", "alice"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	if err != nil {
		t.Fatalf("stride %s: %v", strings.Join(args, " "), err)
	}
	return out
}

func decode[T any](t *testing.T, out string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return v
}

func initWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustRun(t, dir, "init")
	return dir
}

func onlyTask(t *testing.T, dir string, args ...string) tracking.Task {
	t.Helper()
	tasks := decode[[]tracking.Task](t, mustRun(t, dir, append([]string{"task", "list", "--json"}, args...)...))
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	return tasks[0]
}

func TestCommandsNeedInitializedWorkspace(t *testing.T) {
	_, err := run(t, t.TempDir(), "task", "list")
	var cliErr *CLIError
	if !errors.As(err, &cliErr) {
		t.Fatalf("expected CLIError, got %v", err)
	}
	if !strings.Contains(cliErr.Hint, "stride init") {
		t.Errorf("expected init hint, got %q", cliErr.Hint)
	}
}

func TestKeyAreaCommands(t *testing.T) {
	dir := initWorkspace(t)

	mustRun(t, dir, "keyarea", "add", "Health")
	mustRun(t, dir, "keyarea", "add", "Work")
	areas := decode[[]tracking.KeyArea](t, mustRun(t, dir, "keyarea", "list", "--json"))
	if len(areas) != 3 {
		t.Fatalf("expected 3 key areas, got %d", len(areas))
	}
	if areas[0].Title != "Health" || areas[1].Title != "Work" || !areas[2].IsDefault {
		t.Errorf("unexpected order: %+v", areas)
	}

	mustRun(t, dir, "keyarea", "move", "Work", "Health")
	areas = decode[[]tracking.KeyArea](t, mustRun(t, dir, "keyarea", "list", "--json"))
	if areas[0].Title != "Work" || areas[0].Position != 1 || areas[1].Position != 2 {
		t.Errorf("expected Work first after move, got %+v", areas)
	}

	_, err := run(t, dir, "keyarea", "add", "ideas")
	if !errors.Is(err, tracking.ErrGuardViolation) {
		t.Fatalf("expected reserved title guard, got %v", err)
	}
	if ExitCode(err) != exitRejected {
		t.Errorf("expected exit code %d, got %d", exitRejected, ExitCode(err))
	}

	mustRun(t, dir, "keyarea", "rename", "Health", "Fitness")
	mustRun(t, dir, "keyarea", "delete", "Fitness")
	areas = decode[[]tracking.KeyArea](t, mustRun(t, dir, "keyarea", "list", "--json"))
	if len(areas) != 2 || areas[0].Title != "Work" {
		t.Errorf("unexpected key areas after delete: %+v", areas)
	}
}

func TestListCommands(t *testing.T) {
	dir := initWorkspace(t)
	mustRun(t, dir, "keyarea", "add", "Work")

	mustRun(t, dir, "list", "add", "Work", "Next")
	mustRun(t, dir, "list", "add", "Work", "Later")
	names := decode[map[string]string](t, mustRun(t, dir, "list", "show", "Work", "--json"))
	if names["1"] != "Next" || names["2"] != "Later" {
		t.Fatalf("unexpected lists: %v", names)
	}

	mustRun(t, dir, "list", "rename", "Work", "2", "Someday")
	mustRun(t, dir, "list", "delete", "Work", "1")
	names = decode[map[string]string](t, mustRun(t, dir, "list", "show", "Work", "--json"))
	if len(names) != 1 || names["2"] != "Someday" {
		t.Errorf("unexpected lists after rename and delete: %v", names)
	}

	if _, err := run(t, dir, "list", "add", "Ideas", "Nope"); !errors.Is(err, tracking.ErrGuardViolation) {
		t.Errorf("expected the default key area to refuse lists, got %v", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	dir := initWorkspace(t)
	mustRun(t, dir, "keyarea", "add", "Work")

	mustRun(t, dir, "task", "add", "Write report", "--key-area", "Work", "--priority", "3")
	task := onlyTask(t, dir)
	if task.Priority != tracking.PriorityHigh || task.Status != tracking.TaskOpen || task.Assignee != "alice" {
		t.Errorf("unexpected task: %+v", task)
	}

	mustRun(t, dir, "task", "update", task.ID, "--title", "Write the report", "--status", "doing")
	task = onlyTask(t, dir)
	if task.Title != "Write the report" || task.Status != tracking.TaskInProgress {
		t.Errorf("unexpected task after update: %+v", task)
	}

	mustRun(t, dir, "task", "done", task.ID)
	task = onlyTask(t, dir, "--status", "done")
	if task.CompletionDate.IsZero() {
		t.Error("expected a completion date")
	}

	if _, err := run(t, dir, "task", "add", "Bad", "--deadline", "tomorrow"); !errors.Is(err, tracking.ErrValidation) {
		t.Errorf("expected validation error for a malformed date, got %v", err)
	}

	mustRun(t, dir, "task", "delete", task.ID)
	if tasks := decode[[]tracking.Task](t, mustRun(t, dir, "task", "list", "--json")); len(tasks) != 0 {
		t.Errorf("expected no tasks, got %d", len(tasks))
	}
}

func TestTaskWithActivitiesCannotBeDeleted(t *testing.T) {
	dir := initWorkspace(t)
	mustRun(t, dir, "task", "add", "Plan trip")
	task := onlyTask(t, dir)

	mustRun(t, dir, "activity", "add", "Book flights", "--task", task.ID)
	_, err := run(t, dir, "task", "delete", task.ID)
	if !errors.Is(err, tracking.ErrGuardViolation) {
		t.Fatalf("expected guard violation, got %v", err)
	}
	var cliErr *CLIError
	if !errors.As(err, &cliErr) || !strings.Contains(cliErr.Hint, "activities") {
		t.Errorf("expected a hint about activities, got %v", err)
	}

	acts := decode[[]tracking.Activity](t, mustRun(t, dir, "activity", "list", "--task", task.ID, "--json"))
	if len(acts) != 1 || acts[0].KeyAreaID != task.KeyAreaID {
		t.Fatalf("expected the activity to inherit the key area, got %+v", acts)
	}
	mustRun(t, dir, "activity", "done", acts[0].ID)
	mustRun(t, dir, "activity", "delete", acts[0].ID)
	mustRun(t, dir, "task", "delete", task.ID)
}

func TestDelegationCommands(t *testing.T) {
	dir := initWorkspace(t)
	mustRun(t, dir, "task", "add", "Review budget")
	task := onlyTask(t, dir)

	mustRun(t, dir, "task", "delegate", task.ID, "bob")

	inbox := decode[[]inboxItem](t, mustRun(t, dir, "--user", "bob", "inbox", "--json"))
	if len(inbox) != 1 || inbox[0].ID != task.ID || inbox[0].DelegatedBy != "alice" {
		t.Fatalf("unexpected inbox: %+v", inbox)
	}

	if _, err := run(t, dir, "task", "accept", task.ID); err == nil {
		t.Fatal("expected alice to be unable to accept her own delegation")
	}

	mustRun(t, dir, "--user", "bob", "task", "accept", task.ID)
	out := mustRun(t, dir, "--user", "bob", "task", "accept", task.ID)
	if !strings.Contains(out, "Nothing to do") {
		t.Errorf("expected a second accept to be a no-op, got %q", out)
	}

	task = onlyTask(t, dir, "--mine", "--user", "bob")
	if task.Delegation.Status != tracking.DelegationAccepted {
		t.Errorf("expected accepted delegation, got %+v", task.Delegation)
	}
}

func TestMatrixCommand(t *testing.T) {
	dir := initWorkspace(t)
	tomorrow := time.Now().AddDate(0, 0, 1).Format(dateLayout)
	mustRun(t, dir, "task", "add", "Ship release", "--priority", "high", "--deadline", tomorrow)
	mustRun(t, dir, "task", "add", "Tidy desk", "--priority", "low")

	matrix := decode[map[tracking.Quadrant][]matrixEntry](t, mustRun(t, dir, "matrix", "--json"))
	if len(matrix[tracking.DoFirst]) != 1 || matrix[tracking.DoFirst][0].Title != "Ship release" {
		t.Errorf("expected the release in do first, got %+v", matrix[tracking.DoFirst])
	}
	if len(matrix[tracking.Eliminate]) != 1 || matrix[tracking.Eliminate][0].Title != "Tidy desk" {
		t.Errorf("expected the desk in eliminate, got %+v", matrix[tracking.Eliminate])
	}

	out := mustRun(t, dir, "matrix")
	for _, q := range tracking.Quadrants() {
		if !strings.Contains(out, q.DisplayName()) {
			t.Errorf("expected %q in the matrix view", q.DisplayName())
		}
	}
}

func TestGoalProgressCommands(t *testing.T) {
	dir := initWorkspace(t)
	mustRun(t, dir, "goal", "add", "Run a marathon", "--due", "2030-05-01")
	goals := decode[[]tracking.Goal](t, mustRun(t, dir, "goal", "list", "--json"))
	if len(goals) != 1 {
		t.Fatalf("expected one goal, got %d", len(goals))
	}
	goalID := goals[0].ID

	mustRun(t, dir, "milestone", "add", goalID, "10k", "--weight", "1")
	mustRun(t, dir, "milestone", "add", goalID, "Half", "--weight", "3")
	milestones := decode[[]tracking.Milestone](t, mustRun(t, dir, "milestone", "list", goalID, "--json"))
	if len(milestones) != 2 {
		t.Fatalf("expected two milestones, got %d", len(milestones))
	}
	for _, m := range milestones {
		if m.Title == "10k" {
			mustRun(t, dir, "milestone", "done", m.ID)
		}
	}

	rows := decode[[]goalProgress](t, mustRun(t, dir, "progress", "--json"))
	if len(rows) != 1 || rows[0].Progress != 25 {
		t.Fatalf("expected 25%% progress, got %+v", rows)
	}

	mustRun(t, dir, "goal", "update", goalID, "--status", "paused")
	goals = decode[[]tracking.Goal](t, mustRun(t, dir, "goal", "list", "--json"))
	if goals[0].Status != tracking.GoalPaused {
		t.Errorf("expected paused goal, got %s", goals[0].Status)
	}
}

func TestProgressBar(t *testing.T) {
	if got := progressBar(0); !strings.HasSuffix(got, "  0%") {
		t.Errorf("unexpected bar: %q", got)
	}
	if got := progressBar(100); strings.Contains(got, "░") {
		t.Errorf("expected a full bar, got %q", got)
	}
}

func TestWebhookCommandsOnFreshWorkspace(t *testing.T) {
	dir := initWorkspace(t)

	out := mustRun(t, dir, "webhook", "list")
	if !strings.Contains(out, "No webhooks configured") {
		t.Errorf("expected empty webhook listing, got %q", out)
	}
	out = mustRun(t, dir, "webhook", "failed")
	if !strings.Contains(out, "No failed deliveries") {
		t.Errorf("expected no dead letters, got %q", out)
	}

	if _, err := run(t, t.TempDir(), "webhook", "failed"); err == nil {
		t.Error("expected an error outside a workspace")
	}
}

func TestHistoryCommand(t *testing.T) {
	dir := initWorkspace(t)
	mustRun(t, dir, "keyarea", "add", "Work")
	mustRun(t, dir, "task", "add", "Write report", "--key-area", "Work")
	task := onlyTask(t, dir)
	mustRun(t, dir, "task", "done", task.ID)

	type entry struct {
		Command  string `json:"command"`
		EntityID string `json:"entity_id"`
		Outcome  string `json:"outcome"`
		Actor    string `json:"actor"`
	}
	all := decode[[]entry](t, mustRun(t, dir, "history", "--json"))
	if len(all) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(all))
	}
	if all[2].Command != "update" || all[2].Outcome != "applied" || all[2].Actor != "alice" {
		t.Errorf("unexpected last entry: %+v", all[2])
	}

	forTask := decode[[]entry](t, mustRun(t, dir, "history", task.ID, "--json"))
	if len(forTask) != 2 || forTask[0].Command != "create" {
		t.Errorf("expected create and update for the task, got %+v", forTask)
	}

	if out := mustRun(t, dir, "history", "--verify"); !strings.Contains(out, "History intact") {
		t.Errorf("expected an intact history, got %q", out)
	}
}
