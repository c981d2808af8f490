package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/felixgeelhaar/stride/pkg/domain/tracking"
)

const dateLayout = "2006-01-02"

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	quadrantStyles = map[tracking.Quadrant]lipgloss.Style{
		tracking.DoFirst:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		tracking.Schedule:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33")),
		tracking.Delegate:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		tracking.Eliminate: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245")),
	}
)

func quadrantLabel(q tracking.Quadrant) string {
	style, ok := quadrantStyles[q]
	if !ok {
		return q.DisplayName()
	}
	return style.Render(q.DisplayName())
}

func newTable(w io.Writer, header ...any) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row(header))
	return t
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}

// parseDate accepts YYYY-MM-DD; empty means no date.
func parseDate(field, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &tracking.ValidationError{Field: field, Reason: fmt.Sprintf("expected YYYY-MM-DD, got %q", s)}
	}
	return t, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func delegationLabel(d tracking.Delegation) string {
	switch d.Status {
	case tracking.DelegationPending:
		return "→ " + d.DelegatedTo + " (pending)"
	case tracking.DelegationAccepted:
		return "→ " + d.DelegatedTo
	case tracking.DelegationRejected:
		return mutedStyle.Render(d.DelegatedTo + " declined")
	}
	return "-"
}
