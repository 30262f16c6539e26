// Package report renders worklists, plans and run history for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"dispensecore/internal/consolidate"
	"dispensecore/internal/planner"
	"dispensecore/pkg/domain"
)

var (
	colorAccent  = lipgloss.Color("#5B8DEF")
	colorMuted   = lipgloss.Color("#888888")
	colorBorder  = lipgloss.Color("#444444")
	colorSuccess = lipgloss.Color("#8BC34A")
	colorFailure = lipgloss.Color("#E53935")
)

// Styles holds the styles a Renderer applies.
type Styles struct {
	Title   lipgloss.Style
	Header  lipgloss.Style
	Cell    lipgloss.Style
	Muted   lipgloss.Style
	Success lipgloss.Style
	Failure lipgloss.Style
	Box     lipgloss.Style
}

// DefaultStyles returns the colored styles.
func DefaultStyles() Styles {
	return Styles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Header:  lipgloss.NewStyle().Bold(true).Underline(true),
		Cell:    lipgloss.NewStyle(),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
		Success: lipgloss.NewStyle().Foreground(colorSuccess),
		Failure: lipgloss.NewStyle().Bold(true).Foreground(colorFailure),
		Box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1),
	}
}

// PlainStyles returns styles that emit no escape codes and no borders.
func PlainStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{Title: plain, Header: plain, Cell: plain, Muted: plain, Success: plain, Failure: plain, Box: plain}
}

// Renderer writes styled reports.
type Renderer struct {
	styles Styles
}

// New returns a renderer. NoColor output is plain text suitable for pipes
// and golden comparisons.
func New(noColor bool) *Renderer {
	if noColor {
		return &Renderer{styles: PlainStyles()}
	}
	return &Renderer{styles: DefaultStyles()}
}

// NewWithStyles returns a renderer using custom styles.
func NewWithStyles(s Styles) *Renderer {
	return &Renderer{styles: s}
}

// Batches prints one row per dispense grouped by batch, followed by a summary
// of volumes per destination plate.
func (r *Renderer) Batches(w io.Writer, batches []domain.TransferBatch) error {
	t := table{header: []string{"#", "Source", "Destination", "Volume", "Batch total"}}
	for n, b := range batches {
		for i, d := range b.Dispenses() {
			row := []string{"", "", d.Plate + " " + d.Well, volume(d.Volume), ""}
			if i == 0 {
				row[0] = strconv.Itoa(n + 1)
				row[1] = b.SourcePlate + " " + b.SourceWell
				row[4] = volume(b.TotalVolume)
			}
			t.rows = append(t.rows, row)
		}
	}
	s := consolidate.Summarize(batches)
	summary := []string{
		fmt.Sprintf("%d batches, %d dispenses, %s µL", s.Batches, s.Requests, volume(s.TotalVolume)),
	}
	for _, plate := range s.DestinationPlates() {
		summary = append(summary, r.styles.Muted.Render(fmt.Sprintf("  %s: %s µL", plate, volume(s.PlateVolumes[plate]))))
	}
	out := lipgloss.JoinVertical(lipgloss.Left,
		r.styles.Title.Render("Worklist"),
		t.render(r.styles),
		"",
		r.styles.Box.Render(strings.Join(summary, "\n")),
	)
	_, err := fmt.Fprintln(w, out)
	return err
}

// Plan prints every distribution with its aspirate cycles.
func (r *Renderer) Plan(w io.Writer, plan planner.Plan) error {
	lines := []string{r.styles.Title.Render(fmt.Sprintf("Plan for %s (%s µL)", plan.Pipette.Model, volume(plan.Pipette.MaxVolume)))}
	for n, d := range plan.Distributions {
		lines = append(lines, r.styles.Header.Render(fmt.Sprintf("%d. %s", n+1, d.Source)))
		for c, cyc := range d.Cycles {
			lines = append(lines, fmt.Sprintf("  cycle %d: aspirate %s µL (disposal %s)", c+1, volume(cyc.Aspirate), volume(cyc.Disposal)))
			for _, t := range cyc.Dispenses {
				lines = append(lines, r.styles.Muted.Render(fmt.Sprintf("    %s µL -> %s", volume(t.Volume), t.Location)))
			}
		}
	}
	tot := plan.Totals()
	summary := fmt.Sprintf("%d tips, %d aspirates, %d dispenses\ndrawn %s µL, delivered %s µL",
		tot.Tips, tot.Aspirates, tot.Dispenses, volume(tot.Drawn), volume(tot.Delivered))
	lines = append(lines, "", r.styles.Box.Render(summary))
	_, err := fmt.Fprintln(w, lipgloss.JoinVertical(lipgloss.Left, lines...))
	return err
}

// Runs prints the run history as a table.
func (r *Renderer) Runs(w io.Writer, runs []domain.Run) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, r.styles.Muted.Render("no runs recorded"))
		return err
	}
	t := table{header: []string{"ID", "Name", "Status", "Batches", "Dispenses", "Volume", "Started", "Duration"}}
	for _, run := range runs {
		t.rows = append(t.rows, []string{
			shortID(run.ID),
			run.Name,
			r.status(run.Status),
			strconv.Itoa(run.Batches),
			strconv.Itoa(run.Dispenses),
			volume(run.TotalVolume),
			run.StartedAt.UTC().Format(time.RFC3339),
			run.Duration().Round(time.Millisecond).String(),
		})
	}
	_, err := fmt.Fprintln(w, t.render(r.styles))
	return err
}

// Run prints a single run with its per-plate volumes and artifacts.
func (r *Renderer) Run(w io.Writer, run domain.Run) error {
	fields := [][2]string{
		{"ID", run.ID},
		{"Name", run.Name},
		{"Status", r.status(run.Status)},
		{"Pipette", run.Pipette},
		{"Requests", strconv.Itoa(run.Requests)},
		{"Batches", strconv.Itoa(run.Batches)},
		{"Cycles", strconv.Itoa(run.Cycles)},
		{"Dispenses", strconv.Itoa(run.Dispenses)},
		{"Volume", volume(run.TotalVolume) + " µL"},
		{"Disposal", volume(run.DisposalVolume) + " µL"},
		{"Started", run.StartedAt.UTC().Format(time.RFC3339)},
		{"Duration", run.Duration().Round(time.Millisecond).String()},
	}
	if run.Error != "" {
		fields = append(fields, [2]string{"Error", r.styles.Failure.Render(run.Error)})
	}
	lines := make([]string, 0, len(fields)+len(run.PlateVolumes)+len(run.Artifacts)+2)
	for _, f := range fields {
		lines = append(lines, fmt.Sprintf("%-10s %s", f[0], f[1]))
	}
	if len(run.PlateVolumes) > 0 {
		plates := make([]string, 0, len(run.PlateVolumes))
		for p := range run.PlateVolumes {
			plates = append(plates, p)
		}
		sort.Strings(plates)
		lines = append(lines, r.styles.Header.Render("Plates"))
		for _, p := range plates {
			lines = append(lines, fmt.Sprintf("  %s: %s µL", p, volume(run.PlateVolumes[p])))
		}
	}
	if len(run.Artifacts) > 0 {
		lines = append(lines, r.styles.Header.Render("Artifacts"))
		for _, a := range run.Artifacts {
			lines = append(lines, r.styles.Muted.Render("  "+a))
		}
	}
	_, err := fmt.Fprintln(w, r.styles.Box.Render(strings.Join(lines, "\n")))
	return err
}

func (r *Renderer) status(s domain.RunStatus) string {
	if s == domain.RunStatusSucceeded {
		return r.styles.Success.Render(string(s))
	}
	return r.styles.Failure.Render(string(s))
}

type table struct {
	header []string
	rows   [][]string
}

// render pads every column but the last to its widest cell. Widths are
// measured with lipgloss so styled cells align.
func (t table) render(s Styles) string {
	widths := make([]int, len(t.header))
	for i, h := range t.header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	line := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			styled := style.Render(cell)
			if i < len(cells)-1 {
				styled += strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
			}
			parts[i] = styled
		}
		return strings.Join(parts, "  ")
	}
	lines := make([]string, 0, len(t.rows)+1)
	lines = append(lines, line(t.header, s.Header))
	for _, row := range t.rows {
		lines = append(lines, line(row, s.Cell))
	}
	return strings.Join(lines, "\n")
}

func volume(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
