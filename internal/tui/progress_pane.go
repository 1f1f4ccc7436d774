package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/grader/internal/events"
)

// ProgressPaneModel shows batch counters and a progress bar.
type ProgressPaneModel struct {
	total    int
	finished int
	running  int
	failed   int
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates an empty pane for a batch of total targets.
func NewProgressPaneModel(total int) ProgressPaneModel {
	return ProgressPaneModel{total: total}
}

// Update handles messages for the pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.BatchProgressEvent:
		m.total = msg.Total
		m.finished = msg.Finished
		m.running = msg.Running
		m.failed = msg.Failed
	}
	return m, nil
}

// Graded is the number of submissions graded without a run error.
func (m ProgressPaneModel) Graded() int { return m.finished - m.failed }

// Pending is the number of submissions not started yet.
func (m ProgressPaneModel) Pending() int { return max(0, m.total-m.finished-m.running) }

// Done reports whether every submission has finished.
func (m ProgressPaneModel) Done() bool { return m.total > 0 && m.finished >= m.total }

// View renders the pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	title := StyleTitle.Render("Batch Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:   %d\n", m.total))
	b.WriteString(fmt.Sprintf("Graded:  %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", m.Graded()))))
	b.WriteString(fmt.Sprintf("Running: %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:  %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Pending: %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.Pending()))))
	b.WriteString("\n")

	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		gradedWidth := (m.Graded() * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - gradedWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, gradedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.finished, m.total))
	}
	if m.Done() {
		b.WriteString("\n")
		b.WriteString(StyleStatusComplete.Render("Batch finished, press q to exit"))
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
