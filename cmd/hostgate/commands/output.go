package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/hostgate/pkg/engine"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stateStyle(s engine.State) lipgloss.Style {
	switch s {
	case engine.StateRunning:
		return successStyle
	case engine.StatePending, engine.StateStopping:
		return warnStyle
	case engine.StateTerminated:
		return errorStyle
	default:
		return mutedStyle
	}
}

// renderResponse writes one line summarizing an Execute result.
func renderResponse(w io.Writer, kind engine.OperationKind, resp *engine.Response) error {
	var line string
	switch {
	case resp.Success:
		line = fmt.Sprintf("%s %s dispatched, resource is %s",
			successStyle.Render("OK"), kind, stateStyle(resp.State).Render(string(resp.State)))
	case resp.Rejected != "":
		line = fmt.Sprintf("%s %s rejected (%s)", warnStyle.Render("REJECTED"), kind, resp.Rejected)
		if resp.Message != "" {
			line += ": " + resp.Message
		}
	default:
		line = fmt.Sprintf("%s %s failed: %s %s",
			errorStyle.Render("ERROR"), kind, resp.Error, mutedStyle.Render("["+resp.Code+"]"))
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func renderStatus(w io.Writer, status *engine.Status) error {
	rows := [][]string{{"Resource", status.ResourceID}}
	if status.State != nil {
		rows = append(rows,
			[]string{"State", stateStyle(status.State.State).Render(string(status.State.State))},
			[]string{"Observed", status.State.ObservedAt.Format(time.RFC3339)})
		if status.State.StartedAt != nil {
			rows = append(rows, []string{"Started", status.State.StartedAt.Format(time.RFC3339)})
		}
	}

	inProgress := mutedStyle.Render("none")
	if len(status.InProgress) > 0 {
		kinds := make([]string, 0, len(status.InProgress))
		for _, k := range status.InProgress {
			kinds = append(kinds, string(k))
		}
		inProgress = warnStyle.Render(strings.Join(kinds, ", "))
	}
	rows = append(rows, []string{"In progress", inProgress})

	switch {
	case status.App != nil && status.App.Ready:
		rows = append(rows, []string{"Application", successStyle.Render("ready") + " " + mutedStyle.Render(status.App.Detail)})
	case status.App != nil:
		rows = append(rows, []string{"Application", warnStyle.Render("not ready") + " " + mutedStyle.Render(status.App.Detail)})
	case status.AppError != "":
		rows = append(rows, []string{"Application", errorStyle.Render(status.AppError)})
	}

	for _, row := range rows {
		label := headerStyle.Render(padRight(row[0]+":", 13))
		if _, err := fmt.Fprintf(w, "%s %s\n", label, row[1]); err != nil {
			return err
		}
	}
	return nil
}

func renderLeases(w io.Writer, leases []*engine.Lease, now time.Time) error {
	if len(leases) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no leases"))
		return err
	}

	rows := make([][]string, 0, len(leases))
	for _, l := range leases {
		state := warnStyle.Render("active")
		if l.Expired(now) {
			state = mutedStyle.Render("expired")
		}
		rows = append(rows, []string{
			l.ID,
			string(l.Kind),
			l.CreatedAt.Format(time.RFC3339),
			l.ExpiresAt.Format(time.RFC3339),
			state,
		})
	}
	return renderTable(w, []string{"LEASE", "OPERATION", "CREATED", "EXPIRES", "STATE"}, rows)
}

func renderAudit(w io.Writer, records []*engine.AuditRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render("no operations recorded"))
		return err
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		outcome := r.Outcome
		switch {
		case outcome == string(engine.OutcomeSucceeded):
			outcome = successStyle.Render(outcome)
		case strings.HasPrefix(outcome, string(engine.OutcomeRejected)):
			outcome = warnStyle.Render(outcome)
		default:
			outcome = errorStyle.Render(outcome)
		}
		detail := r.Reason
		if r.ErrorCode != "" {
			detail = r.ErrorCode
		}
		rows = append(rows, []string{
			r.CreatedAt.Format(time.RFC3339),
			string(r.Kind),
			r.Actor,
			outcome,
			r.State,
			detail,
			r.Duration.Round(time.Millisecond).String(),
		})
	}
	return renderTable(w, []string{"TIME", "OPERATION", "ACTOR", "OUTCOME", "STATE", "DETAIL", "DURATION"}, rows)
}

// renderTable writes left-aligned columns sized to their widest visible cell.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	widths := make([]int, len(header))
	for i, cell := range header {
		widths[i] = lipgloss.Width(cell)
	}
	for _, row := range rows {
		for i, cell := range row {
			if width := lipgloss.Width(cell); i < len(widths) && width > widths[i] {
				widths[i] = width
			}
		}
	}

	line := func(cells []string, style *lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if style != nil {
				cell = style.Render(cell)
			}
			parts[i] = cell + strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		}
		return strings.TrimRight(strings.Join(parts, "  "), " ")
	}

	if _, err := fmt.Fprintln(w, line(header, &headerStyle)); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, line(row, nil)); err != nil {
			return err
		}
	}
	return nil
}

func padRight(s string, width int) string {
	if n := lipgloss.Width(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}
