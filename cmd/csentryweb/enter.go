package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/gregvolny/CSEntryWeb-sub001/config"
	"github.com/gregvolny/CSEntryWeb-sub001/dialog"
	"github.com/gregvolny/CSEntryWeb-sub001/engine"
	"github.com/gregvolny/CSEntryWeb-sub001/session"
	"github.com/gregvolny/CSEntryWeb-sub001/vfs"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	fieldStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	savedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	dialogStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFD700"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var enterCmd = &cobra.Command{
	Use:   "enter <application.pff>",
	Short: "Run interactive data entry in the terminal",
	Long: `Boots the entry engine locally, loads the application named by the PFF
descriptor along with every file beside it, and drives one entry session
from the keyboard.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if module, _ := cmd.Flags().GetString("module"); module != "" {
			cfg.Engine.Module = module
		}
		if cfg.Engine.Module == "" {
			return fmt.Errorf("engine module path is required (--module, engine.module or %s)", config.EnvModule)
		}
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("enter needs an interactive terminal")
		}
		mode, _ := cmd.Flags().GetString("mode")
		return runEnter(cfg, args[0], mode)
	},
}

func init() {
	rootCmd.AddCommand(enterCmd)
	enterCmd.Flags().String("module", "", "Entry engine wasm module path (overrides config)")
	enterCmd.Flags().String("mode", "add", "Entry mode: add or modify")
}

// pageField is the loosely typed shape of one field in the engine's page
// snapshot. Unknown keys are ignored.
type pageField struct {
	Name     string `mapstructure:"name"`
	Label    string `mapstructure:"label"`
	Value    any    `mapstructure:"value"`
	ReadOnly bool   `mapstructure:"readOnly"`
}

type entryPage struct {
	Title        string      `mapstructure:"title"`
	CurrentField string      `mapstructure:"currentField"`
	Fields       []pageField `mapstructure:"fields"`
}

func decodePage(v any) entryPage {
	var p entryPage
	if v == nil {
		return p
	}
	_ = mapstructure.Decode(v, &p)
	return p
}

type enterState int

const (
	stateLoading enterState = iota
	stateEntering
	stateStopped
)

type enterModel struct {
	err     error
	cfg     *config.Config
	pffPath string
	mode    string

	svc     *session.Service
	id      string
	appName string
	cleanup func()

	page    entryPage
	notice  string
	dialogs []dialog.Record
	input   textinput.Model
	saved   bool
	state   enterState
}

func newEnterModel(cfg *config.Config, pffPath, mode string) *enterModel {
	ti := textinput.New()
	ti.Prompt = "value: "
	ti.Width = 40
	ti.Focus()
	return &enterModel{
		cfg:     cfg,
		pffPath: pffPath,
		mode:    mode,
		input:   ti,
		state:   stateLoading,
	}
}

type sessionReadyMsg struct {
	err     error
	svc     *session.Service
	id      string
	appName string
	cleanup func()
	page    entryPage
	dialogs []dialog.Record
}

type pageMsg struct {
	err error
	res session.OpResult
}

type stoppedMsg struct {
	err   error
	saved bool
}

func (m *enterModel) Init() tea.Cmd {
	return m.bootSession
}

func (m *enterModel) bootSession() tea.Msg {
	ctx := context.Background()

	pffContent, files, err := gatherApplicationFiles(m.pffPath)
	if err != nil {
		return sessionReadyMsg{err: err}
	}

	responder := dialog.NewResponder()
	rt := engine.NewRuntime(engine.Config{
		ModulePath:        m.cfg.Engine.Module,
		Dialog:            responder.Answer,
		MemoryLimitPages:  m.cfg.Engine.MemoryLimitPages,
		AsyncifyStackSize: m.cfg.Engine.AsyncStackSize,
	})
	if err := rt.Initialize(ctx); err != nil {
		return sessionReadyMsg{err: err}
	}

	dir, err := os.MkdirTemp("", "csentry-enter-")
	if err != nil {
		rt.Close(ctx)
		return sessionReadyMsg{err: err}
	}
	spaces, err := vfs.NewManager(dir)
	if err != nil {
		rt.Close(ctx)
		os.RemoveAll(dir)
		return sessionReadyMsg{err: err}
	}

	log := zap.NewNop()
	registry := session.NewRegistry(&session.EngineFactory{Runtime: rt}, spaces, log)
	svc := session.NewService(registry, session.NewInvoker(log), spaces, log)

	cleanup := func() {
		registry.Close(ctx)
		rt.Close(ctx)
		os.RemoveAll(dir)
	}

	sess, err := svc.Create(ctx)
	if err != nil {
		cleanup()
		return sessionReadyMsg{err: err}
	}

	res, err := svc.LoadApplication(ctx, sess.ID, pffContent, files, "")
	if err == nil && !res.Success {
		err = fmt.Errorf("%s", res.Error)
	}
	if err != nil {
		cleanup()
		return sessionReadyMsg{err: fmt.Errorf("load application: %w", err)}
	}

	res, err = svc.StartEntry(ctx, sess.ID, m.mode)
	if err == nil && !res.Success {
		err = fmt.Errorf("%s", res.Error)
	}
	if err != nil {
		cleanup()
		return sessionReadyMsg{err: fmt.Errorf("start entry: %w", err)}
	}

	page, err := svc.GetCurrentPage(ctx, sess.ID)
	if err != nil {
		cleanup()
		return sessionReadyMsg{err: err}
	}

	appName := ""
	if s, ok := svc.Session(sess.ID); ok {
		appName = s.AppName
	}

	return sessionReadyMsg{
		svc:     svc,
		id:      sess.ID,
		appName: appName,
		cleanup: cleanup,
		page:    decodePage(page.Page),
		dialogs: page.Dialogs,
	}
}

func (m *enterModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cleanup != nil {
				m.cleanup()
			}
			return m, tea.Quit

		case "enter":
			switch m.state {
			case stateEntering:
				value := m.input.Value()
				m.input.Reset()
				return m, m.operation(func(ctx context.Context) (session.OpResult, error) {
					return m.svc.AdvanceField(ctx, m.id, value)
				})
			case stateStopped:
				if m.cleanup != nil {
					m.cleanup()
				}
				return m, tea.Quit
			}

		case "ctrl+p":
			if m.state == stateEntering {
				return m, m.operation(func(ctx context.Context) (session.OpResult, error) {
					return m.svc.PreviousField(ctx, m.id)
				})
			}

		case "ctrl+g":
			if m.state == stateEntering {
				return m, m.operation(func(ctx context.Context) (session.OpResult, error) {
					return m.svc.EndGroup(ctx, m.id)
				})
			}

		case "ctrl+r":
			if m.state == stateEntering {
				return m, m.operation(func(ctx context.Context) (session.OpResult, error) {
					return m.svc.EndRoster(ctx, m.id)
				})
			}

		case "ctrl+s":
			if m.state == stateEntering {
				return m, m.stop(true)
			}

		case "esc":
			switch m.state {
			case stateEntering:
				return m, m.stop(false)
			case stateStopped:
				if m.cleanup != nil {
					m.cleanup()
				}
				return m, tea.Quit
			}
		}

	case sessionReadyMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.svc = msg.svc
		m.id = msg.id
		m.appName = msg.appName
		m.cleanup = msg.cleanup
		m.page = msg.page
		m.dialogs = msg.dialogs
		m.state = stateEntering

	case pageMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.notice = ""
		if !msg.res.Success {
			m.notice = msg.res.Error
		}
		if msg.res.Page != nil {
			m.page = decodePage(msg.res.Page)
		}
		m.dialogs = msg.res.Dialogs

	case stoppedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.saved = msg.saved
		m.state = stateStopped
	}

	if m.state == stateEntering {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *enterModel) operation(op func(ctx context.Context) (session.OpResult, error)) tea.Cmd {
	return func() tea.Msg {
		res, err := op(context.Background())
		return pageMsg{res: res, err: err}
	}
}

func (m *enterModel) stop(save bool) tea.Cmd {
	return func() tea.Msg {
		res, err := m.svc.StopEntry(context.Background(), m.id, save)
		if err != nil {
			return stoppedMsg{err: err}
		}
		return stoppedMsg{saved: res.Saved != nil && *res.Saved}
	}
}

func (m *enterModel) View() string {
	if m.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+c to quit.", m.err))
	}

	if m.state == stateLoading {
		return "Loading application..."
	}

	var b strings.Builder

	title := m.appName
	if title == "" {
		title = filepath.Base(m.pffPath)
	}
	b.WriteString(titleStyle.Render("CSEntry"))
	b.WriteString(" ")
	b.WriteString(title)
	b.WriteString("\n\n")

	switch m.state {
	case stateEntering:
		if m.page.Title != "" {
			b.WriteString(m.page.Title)
			b.WriteString("\n\n")
		}
		for _, f := range m.page.Fields {
			label := f.Label
			if label == "" {
				label = f.Name
			}
			switch {
			case f.Name != "" && f.Name == m.page.CurrentField:
				b.WriteString(selectedStyle.Render("> " + label + " = " + renderValue(f.Value)))
			case f.ReadOnly:
				b.WriteString("  " + helpStyle.Render(label+" = "+renderValue(f.Value)))
			default:
				b.WriteString("  " + fieldStyle.Render(label) + " = " + valueStyle.Render(renderValue(f.Value)))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(m.input.View())
		b.WriteString("\n")

		if m.notice != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(m.notice))
			b.WriteString("\n")
		}
		for _, d := range m.dialogs {
			b.WriteString("\n")
			b.WriteString(dialogStyle.Render(fmt.Sprintf("[%s] %s", d.DialogName, renderValue(d.InputData))))
		}
		if len(m.dialogs) > 0 {
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("enter advance • ctrl+p previous • ctrl+g end group • ctrl+r end roster • ctrl+s save • esc discard"))

	case stateStopped:
		if m.saved {
			b.WriteString(savedStyle.Render("Case saved."))
		} else {
			b.WriteString(errorStyle.Render("Case discarded."))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter quit"))
	}

	return b.String()
}

func renderValue(v any) string {
	if v == nil {
		return ""
	}
	if m, ok := v.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", v)
}

// gatherApplicationFiles reads the PFF descriptor and every file in its
// directory, splitting them into the text/binary union the loader expects.
func gatherApplicationFiles(pffPath string) (string, []session.FileSpec, error) {
	raw, err := os.ReadFile(pffPath)
	if err != nil {
		return "", nil, err
	}

	dir := filepath.Dir(pffPath)
	base := filepath.Base(pffPath)
	var files []session.FileSpec
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == base {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		spec := session.FileSpec{Path: filepath.ToSlash(rel)}
		if utf8.Valid(data) {
			spec.Content = string(data)
		} else {
			spec.Content = base64.StdEncoding.EncodeToString(data)
			spec.Binary = true
		}
		files = append(files, spec)
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return string(raw), files, nil
}

func runEnter(cfg *config.Config, pffPath, mode string) error {
	p := tea.NewProgram(newEnterModel(cfg, pffPath, mode), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
