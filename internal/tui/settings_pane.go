package tui

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/shlex"

	"github.com/aristath/grader/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.GraderConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget      string
	compilerCommand string
	compilerOptions string
	makeCommand     string
	valgrindCommand string
	valgrindOptions string
	testTimeout     string
	parallelism     string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.GraderConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

// loadFromConfig copies the config into the form field bindings.
func (m *SettingsPaneModel) loadFromConfig() {
	cfg := m.config
	m.saveTarget = "global"
	m.compilerCommand = cfg.Tools[config.ToolCompiler].Command
	m.compilerOptions = cfg.Tools[config.ToolCompiler].Options
	m.makeCommand = cfg.Tools[config.ToolMake].Command
	m.valgrindCommand = cfg.Tools[config.ToolValgrind].Command
	m.valgrindOptions = cfg.Tools[config.ToolValgrind].Options
	m.testTimeout = time.Duration(cfg.Process.TestTimeout).String()
	m.parallelism = strconv.Itoa(cfg.Batch.Parallelism)
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func validateParallelism(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil {
		return errors.New("must be a number")
	}
	if n < 1 {
		return errors.New("must be at least 1")
	}
	return nil
}

func validateOptions(s string) error {
	_, err := shlex.Split(s)
	return err
}

func validateCommand(s string) error {
	if s == "" {
		return errors.New("command is required")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.grader/config.json)", "global"),
					huh.NewOption("Project (.grader/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("compilerCommand").
				Title("Compiler").
				Value(&m.compilerCommand).
				Placeholder("g++").
				Validate(validateCommand),

			huh.NewInput().
				Key("compilerOptions").
				Title("Compiler Options").
				Value(&m.compilerOptions).
				Placeholder("-std=c++17").
				Validate(validateOptions),

			huh.NewInput().
				Key("makeCommand").
				Title("Make").
				Value(&m.makeCommand).
				Placeholder("make").
				Validate(validateCommand),

			huh.NewInput().
				Key("valgrindCommand").
				Title("Valgrind").
				Value(&m.valgrindCommand).
				Placeholder("valgrind").
				Validate(validateCommand),

			huh.NewInput().
				Key("valgrindOptions").
				Title("Valgrind Options").
				Value(&m.valgrindOptions).
				Placeholder("--tool=memcheck --leak-check=yes --xml=yes").
				Validate(validateOptions),
		).Title("Toolchain"),

		huh.NewGroup(
			huh.NewInput().
				Key("testTimeout").
				Title("Test Timeout").
				Value(&m.testTimeout).
				Placeholder("1s").
				Validate(validateDuration),

			huh.NewInput().
				Key("parallelism").
				Title("Parallel Submissions").
				Value(&m.parallelism).
				Placeholder("1").
				Validate(validateParallelism),
		).Title("Grading"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.err = m.save()
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// save applies the form to the config and writes it to the chosen file.
func (m *SettingsPaneModel) save() error {
	if err := m.applyFormToConfig(); err != nil {
		return err
	}
	targetPath := m.globalPath
	if m.saveTarget == "project" {
		targetPath = m.projectPath
	}
	return config.Save(m.config, targetPath)
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() error {
	timeout, err := time.ParseDuration(m.testTimeout)
	if err != nil {
		return fmt.Errorf("test timeout: %w", err)
	}
	parallelism, err := strconv.Atoi(m.parallelism)
	if err != nil {
		return fmt.Errorf("parallelism: %w", err)
	}

	if m.config.Tools == nil {
		m.config.Tools = make(map[string]config.ToolConfig)
	}
	m.config.Tools[config.ToolCompiler] = config.ToolConfig{Command: m.compilerCommand, Options: m.compilerOptions}
	m.config.Tools[config.ToolMake] = config.ToolConfig{Command: m.makeCommand, Options: m.config.Tools[config.ToolMake].Options}
	m.config.Tools[config.ToolValgrind] = config.ToolConfig{Command: m.valgrindCommand, Options: m.valgrindOptions}
	m.config.Process.TestTimeout = config.Duration(timeout)
	m.config.Batch.Parallelism = parallelism
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.loadFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
