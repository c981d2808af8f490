package tracking

import "time"

// Quadrant is an Eisenhower urgency/importance label.
type Quadrant string

const (
	DoFirst   Quadrant = "do_first"
	Schedule  Quadrant = "schedule"
	Delegate  Quadrant = "delegate"
	Eliminate Quadrant = "eliminate"
)

// Quadrants lists the labels in display order.
func Quadrants() []Quadrant {
	return []Quadrant{DoFirst, Schedule, Delegate, Eliminate}
}

func (q Quadrant) DisplayName() string {
	switch q {
	case DoFirst:
		return "Do First"
	case Schedule:
		return "Schedule"
	case Delegate:
		return "Delegate"
	case Eliminate:
		return "Eliminate"
	default:
		return string(q)
	}
}

// DefaultUrgencyWindow is how close a deadline must be for an item to count as urgent.
const DefaultUrgencyWindow = 72 * time.Hour

// Signals are the inputs of the classification.
type Signals struct {
	Priority Priority
	Deadline time.Time
	Terminal bool
	GoalID   string
}

// SignalsOfTask extracts the classification inputs of a task.
func SignalsOfTask(t Task) Signals {
	return Signals{
		Priority: t.Priority,
		Deadline: t.Deadline,
		Terminal: t.Status.IsTerminal(),
		GoalID:   t.GoalID,
	}
}

// SignalsOfActivity extracts the classification inputs of an activity. Pass the
// result of Effective so the parent task's goal linkage is taken into account.
func SignalsOfActivity(a Activity) Signals {
	return Signals{
		Priority: a.Priority,
		Deadline: a.Deadline,
		Terminal: a.Completed,
		GoalID:   a.GoalID,
	}
}

// Classifier classifies items against a configurable urgency window.
type Classifier struct {
	UrgencyWindow time.Duration
}

// NewClassifier returns a classifier; a non-positive window selects the default.
func NewClassifier(window time.Duration) Classifier {
	if window <= 0 {
		window = DefaultUrgencyWindow
	}
	return Classifier{UrgencyWindow: window}
}

// Urgent reports whether the item needs attention within the window. Finished
// items and items without a deadline are never urgent.
func (c Classifier) Urgent(s Signals, now time.Time) bool {
	if s.Terminal || s.Deadline.IsZero() {
		return false
	}
	window := c.UrgencyWindow
	if window <= 0 {
		window = DefaultUrgencyWindow
	}
	return s.Deadline.Sub(now) <= window
}

// Important reports whether the item is high priority or linked to a goal.
func (c Classifier) Important(s Signals) bool {
	return s.Priority == PriorityHigh || s.GoalID != ""
}

// Classify maps the signals to a quadrant.
func (c Classifier) Classify(s Signals, now time.Time) Quadrant {
	urgent := c.Urgent(s, now)
	important := c.Important(s)
	switch {
	case urgent && important:
		return DoFirst
	case important:
		return Schedule
	case urgent:
		return Delegate
	default:
		return Eliminate
	}
}

// Classify uses the default urgency window.
func Classify(s Signals, now time.Time) Quadrant {
	return Classifier{UrgencyWindow: DefaultUrgencyWindow}.Classify(s, now)
}

// QuadrantOfTask classifies a task with the default window.
func QuadrantOfTask(t Task, now time.Time) Quadrant {
	return Classify(SignalsOfTask(t), now)
}
