package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/grader/internal/config"
	"github.com/aristath/grader/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneSubmissions PaneID = iota
	PaneProgress
)

const paneCount = 2

// Model is the root Bubble Tea model for the batch view.
type Model struct {
	submissionPane SubmissionPaneModel
	progressPane   ProgressPaneModel
	settingsPane   SettingsPaneModel
	focusedPane    PaneID
	eventSub       <-chan events.Event
	width          int
	height         int
	quitting       bool
	showSettings   bool
}

// New creates a new TUI model for a batch of total targets.
// It subscribes to all events from the event bus using SubscribeAll.
func New(eventBus *events.EventBus, total int, cfg *config.GraderConfig, globalPath, projectPath string) Model {
	m := Model{
		submissionPane: NewSubmissionPaneModel(),
		progressPane:   NewProgressPaneModel(total),
		settingsPane:   NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:    PaneSubmissions,
		eventSub:       eventBus.SubscribeAll(256),
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The settings form is modal while open.
		if m.showSettings {
			if msg.String() == KeyEsc {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneSubmissions
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneProgress
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneSubmissions {
				var cmd tea.Cmd
				m.submissionPane, cmd = m.submissionPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case tickMsg:
		var cmd tea.Cmd
		m.submissionPane, cmd = m.submissionPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.SubmissionStartedEvent, events.TaskFinishedEvent, events.SubmissionFinishedEvent:
		var cmd tea.Cmd
		m.submissionPane, cmd = m.submissionPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.BatchProgressEvent:
		var cmd tea.Cmd
		m.progressPane, cmd = m.progressPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	default:
		// Form internals while the settings overlay is open.
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	mainContent := lipgloss.JoinVertical(lipgloss.Left, m.submissionPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// Done reports whether the batch has finished.
func (m Model) Done() bool {
	return m.progressPane.Done()
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	availableHeight := m.height - 1 // help bar
	topHeight := (availableHeight * 70) / 100

	m.submissionPane.SetSize(m.width, topHeight)
	m.progressPane.SetSize(m.width, availableHeight-topHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.submissionPane.SetFocused(m.focusedPane == PaneSubmissions)
	m.progressPane.SetFocused(m.focusedPane == PaneProgress)
}
