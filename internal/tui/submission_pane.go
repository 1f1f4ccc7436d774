package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/grader/internal/events"
)

// Submission states.
const (
	StatusRunning = "running"
	StatusGraded  = "graded"
	StatusFailed  = "failed"
)

// SubmissionState is what the pane knows about one graded target.
type SubmissionState struct {
	RunID     string
	Name      string
	Status    string
	Lines     []string
	StartTime time.Time
	Duration  time.Duration
}

// SubmissionPaneModel lists submissions and shows the task results of the
// selected one.
type SubmissionPaneModel struct {
	submissions map[string]*SubmissionState // runID -> state
	order       []string                    // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewSubmissionPaneModel creates an empty pane.
func NewSubmissionPaneModel() SubmissionPaneModel {
	return SubmissionPaneModel{
		submissions: make(map[string]*SubmissionState),
		viewport:    viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the pane.
func (m SubmissionPaneModel) Update(msg tea.Msg) (SubmissionPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.SubmissionStartedEvent:
		if _, exists := m.submissions[msg.Run]; !exists {
			m.submissions[msg.Run] = &SubmissionState{
				RunID:     msg.Run,
				Name:      filepath.Base(msg.Target),
				Status:    StatusRunning,
				StartTime: msg.Timestamp,
			}
			m.order = append(m.order, msg.Run)
			if len(m.order) == 1 {
				m.selectedIdx = 0
				m.updateViewportContent()
			}
		}

	case events.TaskFinishedEvent:
		if s, exists := m.submissions[msg.Run]; exists {
			s.Lines = append(s.Lines, fmt.Sprintf("%s %s/%s: %s",
				resultIcon(msg.Complete, msg.Passing), msg.Problem, msg.Task, msg.Summary))
			if m.selectedRunID() == msg.Run {
				m.updateTag++
				tag := m.updateTag
				return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
					return tickMsg{tag: tag}
				})
			}
		}

	case events.SubmissionFinishedEvent:
		if s, exists := m.submissions[msg.Run]; exists {
			s.Duration = msg.Duration
			if msg.Err != nil {
				s.Status = StatusFailed
				s.Lines = append(s.Lines, fmt.Sprintf("\n[Failed: %v]", msg.Err))
			} else {
				s.Status = StatusGraded
				s.Lines = append(s.Lines, fmt.Sprintf("\n[%d/%d tasks passing, graded in %v]",
					msg.TasksPassing, msg.TasksTotal, msg.Duration.Round(time.Millisecond)))
			}
			if m.selectedRunID() == msg.Run {
				m.updateViewportContent()
			}
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// View renders the pane.
func (m SubmissionPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 25
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m SubmissionPaneModel) renderList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Submissions")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, runID := range m.order {
		s := m.submissions[runID]
		name := s.Name
		if len(name) > width-6 {
			name = name[:width-9] + "..."
		}
		line := fmt.Sprintf("%s %s", StatusIcon(s.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled indicator for a submission status.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusGraded:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func resultIcon(complete, passing bool) string {
	switch {
	case passing:
		return StyleStatusComplete.Render("✓")
	case complete:
		return StyleStatusFailed.Render("✗")
	}
	return StyleStatusPending.Render("-")
}

func (m SubmissionPaneModel) selectedRunID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// Selected returns the selected submission, if any.
func (m SubmissionPaneModel) Selected() (*SubmissionState, bool) {
	s, ok := m.submissions[m.selectedRunID()]
	return s, ok
}

func (m *SubmissionPaneModel) updateViewportContent() {
	s, ok := m.Selected()
	if !ok {
		m.viewport.SetContent("Waiting for submissions...")
		return
	}
	m.viewport.SetContent(strings.Join(s.Lines, "\n"))
	m.viewport.GotoBottom()
}

func (m *SubmissionPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-25-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *SubmissionPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *SubmissionPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
