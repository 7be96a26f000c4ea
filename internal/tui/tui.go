package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"round-finalizer/internal/progress"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

// truncate cuts s to width display cells, marking the cut with "...".
func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func fit(s string, width int) string {
	return padToWidth(truncate(s, width), width)
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + fit(text, width-2) + "│"
}

// RoundInfo is the round header shown on the dashboard
type RoundInfo struct {
	RoundID       string
	State         string
	EndTime       time.Time
	MatchingPool  string
	Token         string
	SnapshotBlock uint64
	Custom        bool
	Pointer       string
	MerkleRoot    string
	LastError     string
	Updated       time.Time
}

// EntryInfo is one row of the distribution table
type EntryInfo struct {
	ProjectID     string
	Name          string
	Contributors  int
	Percentage    float64
	Amount        string
	PayoutAddress string
}

// RoundMsg is sent when the round should be redrawn
type RoundMsg struct {
	Round RoundInfo
}

// DistributionMsg is sent when the active distribution changed
type DistributionMsg struct {
	Entries []EntryInfo
}

// ProgressMsg carries the steps of the running operation
type ProgressMsg struct {
	Operation string
	Steps     []progress.Step
}

var (
	stateStyles = map[string]lipgloss.Style{
		"OPEN":                   lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		"TALLYING":               lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"DISTRIBUTION_PROPOSED":  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		"DISTRIBUTION_FINALIZED": lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		"READY_FOR_PAYOUT":       lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		"ERROR_REVIEW":           lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

const minWidth = 40

// Model holds the TUI state
type Model struct {
	round     RoundInfo
	entries   []EntryInfo
	operation string
	steps     []progress.Step
	offset    int
	width     int
	height    int
}

// NewModel creates a new TUI model
func NewModel() Model {
	return Model{}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case RoundMsg:
		m.round = msg.Round
		return m, nil

	case DistributionMsg:
		m.entries = msg.Entries
		m.offset = m.clampOffset(m.offset)
		return m, nil

	case ProgressMsg:
		m.operation = msg.Operation
		m.steps = msg.Steps
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "down", "j":
			m.offset = m.clampOffset(m.offset + 1)
		case "up", "k":
			m.offset = m.clampOffset(m.offset - 1)
		case "home", "g":
			m.offset = 0
		}
	}

	return m, nil
}

// tableRows is the number of distribution rows that fit on screen.
func (m Model) tableRows() int {
	// header 6, table borders and caption 4, progress block
	rows := m.height - 10 - (len(m.steps) + 1)
	if rows < 1 {
		rows = 1
	}
	return rows
}

func (m Model) clampOffset(offset int) int {
	maxOffset := len(m.entries) - m.tableRows()
	if offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if m.width < minWidth {
		return "Window too small"
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderDistribution(),
		m.renderProgress(),
	)
}

func (m Model) renderState() string {
	state := m.round.State
	if state == "" {
		return "unknown"
	}
	if style, ok := stateStyles[state]; ok {
		return style.Render(state)
	}
	return state
}

// renderHeader renders the top header section
func (m Model) renderHeader() string {
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4

	endStr := "N/A"
	if !m.round.EndTime.IsZero() {
		endStr = m.round.EndTime.Format(time.RFC3339)
	}
	kind := "default"
	if m.round.Custom {
		kind = "custom"
	}
	updated := "never"
	if !m.round.Updated.IsZero() {
		updated = m.round.Updated.Format("15:04:05")
	}

	leftLines := []string{
		fmt.Sprintf("round: %s", m.round.RoundID),
		fmt.Sprintf("state: %s", m.renderState()),
		fmt.Sprintf("voting ends: %s", endStr),
	}
	middleLines := []string{
		fmt.Sprintf("pool: %s %s", m.round.MatchingPool, m.round.Token),
		fmt.Sprintf("snapshot block: %d", m.round.SnapshotBlock),
		fmt.Sprintf("distribution: %s (%d projects)", kind, len(m.entries)),
	}
	rightLines := []string{
		fmt.Sprintf("pointer: %s", m.round.Pointer),
		fmt.Sprintf("root: %s", m.round.MerkleRoot),
		fmt.Sprintf("updated: %s", updated),
	}

	var rows []string
	for i := range leftLines {
		rows = append(rows, fmt.Sprintf("│ %s │ %s │ %s │",
			fitStyled(leftLines[i], colWidth-2),
			fit(middleLines[i], colWidth-2),
			fit(rightLines[i], rightColWidth-2)))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))
	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	out := topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
	if m.round.LastError != "" {
		out += "\n" + "│" + errorStyle.Render(fit("last error: "+m.round.LastError, m.width-2)) + "│"
	}
	return out
}

// fitStyled pads a line that may carry ANSI styling, measured by lipgloss.
func fitStyled(s string, width int) string {
	if !strings.Contains(s, "\x1b") {
		return fit(s, width)
	}
	w := lipgloss.Width(s)
	if w >= width {
		return s
	}
	return s + strings.Repeat(" ", width-w)
}

// renderDistribution renders the distribution table
func (m Model) renderDistribution() string {
	inner := m.width - 2
	if inner < 10 {
		return ""
	}
	if len(m.entries) == 0 {
		return formatInfoLine(" no distribution proposed", m.width) + "\n" + separatorLine(m.width)
	}

	const (
		idxWidth    = 4
		pctWidth    = 9
		amountWidth = 16
		countWidth  = 7
	)
	nameWidth := inner - idxWidth - pctWidth - amountWidth - countWidth - 4
	if nameWidth < 8 {
		nameWidth = 8
	}

	formatRow := func(idx, name, pct, amount, count string) string {
		line := fmt.Sprintf("%s %s %s %s %s",
			fit(idx, idxWidth),
			fit(name, nameWidth),
			padLeft(pct, pctWidth),
			padLeft(amount, amountWidth),
			padLeft(count, countWidth))
		return "│" + fit(line, inner) + "│"
	}

	lines := []string{formatRow("  #", "project", "share", "amount", "voters")}
	end := m.offset + m.tableRows()
	if end > len(m.entries) {
		end = len(m.entries)
	}
	for i := m.offset; i < end; i++ {
		e := m.entries[i]
		name := e.Name
		if name == "" {
			name = e.ProjectID
		}
		lines = append(lines, formatRow(
			fmt.Sprintf("%3d", i+1),
			name,
			fmt.Sprintf("%.2f%%", e.Percentage*100),
			e.Amount,
			fmt.Sprintf("%d", e.Contributors),
		))
	}

	caption := fmt.Sprintf("rows %d-%d of %d, ↑/↓ scroll, q quit", m.offset+1, end, len(m.entries))
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" + formatInfoLine(caption, m.width) + "\n" + separatorLine(m.width)
}

func padLeft(s string, width int) string {
	s = truncate(s, width)
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return strings.Repeat(" ", width-current) + s
}

// renderProgress renders the steps of the latest operation
func (m Model) renderProgress() string {
	bottomBorder := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	if m.operation == "" {
		return formatInfoLine(" no operation running", m.width) + "\n" + bottomBorder
	}
	lines := []string{formatInfoLine(" operation: "+m.operation, m.width)}
	for _, s := range m.steps {
		text := fmt.Sprintf(" %s %s", getStepSymbol(s.Status), s.Description)
		if s.Attempts > 1 {
			text += fmt.Sprintf(" (attempt %d)", s.Attempts)
		}
		if s.Err != "" {
			text += ": " + s.Err
		}
		lines = append(lines, formatInfoLine(text, m.width))
	}
	return strings.Join(lines, "\n") + "\n" + bottomBorder
}

// getStepSymbol returns the symbol for a step status
func getStepSymbol(status progress.Status) string {
	switch status {
	case progress.InProgress:
		return "⏳"
	case progress.IsSuccess:
		return "✅"
	case progress.IsError:
		return "❌"
	default:
		return "··"
	}
}

// Run starts the TUI program and feeds it from updateCh until ctx is done or
// the channel is closed.
func Run(ctx context.Context, updateCh <-chan interface{}) error {
	p := tea.NewProgram(NewModel(), tea.WithAltScreen())

	go func() {
		defer p.Quit()
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-updateCh:
				if !ok {
					return
				}
				switch v := data.(type) {
				case RoundInfo:
					p.Send(RoundMsg{Round: v})
				case []EntryInfo:
					p.Send(DistributionMsg{Entries: v})
				case ProgressMsg, RoundMsg, DistributionMsg:
					p.Send(v)
				}
			}
		}
	}()

	_, err := p.Run()
	return err
}
