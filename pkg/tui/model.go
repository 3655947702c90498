// pkg/tui/model.go - terminal customization screen.
//
// The model is a thin adapter: key presses become calls on a
// selection.Session and the view renders whatever the session holds.

package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/selection"
)

// FolderPicker asks the operator for a directory. An empty result with a
// nil error means the dialog was dismissed.
type FolderPicker func(title string) (string, error)

type pane int

const (
	paneSelected pane = iota
	paneAvailable
	paneEnvs
	paneCount
)

const listHeight = 15

type folderPickedMsg struct {
	key string
	dir string
	err error
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	focusStyle   = boxStyle.BorderForeground(lipgloss.Color("#5B8DEF"))
	cursorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#5B8DEF"))
	hintStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B"))
	versionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Model is the bubbletea model of the customization screen.
type Model struct {
	session *selection.Session
	pick    FolderPicker

	focus   pane
	cursor  [paneCount]int
	inputs  []textinput.Model
	editing bool
	status  string
	width   int

	accepted  bool
	cancelled bool
}

// NewModel wraps a session. pick may be nil where no native dialog exists.
func NewModel(s *selection.Session, pick FolderPicker) Model {
	inputs := make([]textinput.Model, len(selection.TrackedEnvs))
	for i, key := range selection.TrackedEnvs {
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 260
		ti.Width = 60
		ti.SetValue(s.Env(key))
		inputs[i] = ti
	}
	return Model{session: s, pick: pick, inputs: inputs}
}

// Accepted reports whether the operator finished with ctrl+s.
func (m Model) Accepted() bool { return m.accepted }

// Cancelled reports whether the operator backed out.
func (m Model) Cancelled() bool { return m.cancelled }

// Session returns the underlying session.
func (m Model) Session() *selection.Session { return m.session }

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case folderPickedMsg:
		switch {
		case msg.err != nil:
			m.status = fmt.Sprintf("Folder selection failed: %v", msg.err)
		case msg.dir == "":
			m.status = "Folder selection cancelled"
		default:
			if err := m.session.ChooseFolder(msg.key, msg.dir); err != nil {
				m.status = err.Error()
			} else {
				m.syncInputs()
				m.status = fmt.Sprintf("%s set to %s", msg.key, m.session.Env(msg.key))
			}
		}
		return m, nil

	case tea.KeyMsg:
		if m.editing {
			return m.updateEditing(msg)
		}
		return m.updateBrowsing(msg)
	}
	return m, nil
}

func (m Model) updateEditing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	i := m.cursor[paneEnvs]
	key := selection.TrackedEnvs[i]
	switch msg.Type {
	case tea.KeyEnter:
		if err := m.session.SetEnv(key, strings.TrimSpace(m.inputs[i].Value())); err != nil {
			m.status = err.Error()
			m.inputs[i].SetValue(m.session.Env(key))
		} else {
			m.status = fmt.Sprintf("%s updated", key)
		}
		m.stopEditing()
		return m, nil
	case tea.KeyEsc:
		m.inputs[i].SetValue(m.session.Env(key))
		m.stopEditing()
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[i], cmd = m.inputs[i].Update(msg)
	return m, cmd
}

func (m *Model) stopEditing() {
	m.inputs[m.cursor[paneEnvs]].Blur()
	m.editing = false
}

func (m Model) updateBrowsing(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.status = ""
	switch msg.String() {
	case "ctrl+c", "esc":
		m.cancelled = true
		return m, tea.Quit
	case "ctrl+s":
		m.accepted = true
		return m, tea.Quit
	case "tab":
		m.focus = (m.focus + 1) % paneCount
	case "shift+tab":
		m.focus = (m.focus + paneCount - 1) % paneCount
	case "up", "k":
		m.cursor[m.focus]--
	case "down", "j":
		m.cursor[m.focus]++
	case " ", "space", "enter":
		switch m.focus {
		case paneSelected:
			if it, ok := m.current(m.session.Selected()); ok {
				m.session.RemoveSelected(it.Name)
			}
		case paneAvailable:
			if it, ok := m.current(m.session.Available()); ok {
				m.session.AddSelected(it.Name)
			}
		case paneEnvs:
			return m.startEditing()
		}
	case "e":
		if m.focus == paneEnvs {
			return m.startEditing()
		}
	case "a":
		m.session.AddAll()
	case "r":
		m.session.RemoveAll()
	case "z":
		m.session.Reset()
		m.status = "Selection reset to defaults"
	case "d":
		if m.focus == paneEnvs {
			key := selection.TrackedEnvs[m.cursor[paneEnvs]]
			m.session.ResetEnv(key)
			m.syncInputs()
		}
	case "f":
		if m.focus == paneEnvs {
			return m, m.chooseFolder()
		}
	}
	m.clamp()
	return m, nil
}

func (m Model) startEditing() (tea.Model, tea.Cmd) {
	m.editing = true
	i := m.cursor[paneEnvs]
	m.inputs[i].CursorEnd()
	return m, m.inputs[i].Focus()
}

func (m *Model) chooseFolder() tea.Cmd {
	key := selection.TrackedEnvs[m.cursor[paneEnvs]]
	if m.pick == nil {
		m.status = "No folder picker on this system; press e to type a path"
		return nil
	}
	pick := m.pick
	return func() tea.Msg {
		dir, err := pick("Select a folder for " + key)
		return folderPickedMsg{key: key, dir: dir, err: err}
	}
}

func (m Model) current(items []catalog.Item) (catalog.Item, bool) {
	i := m.cursor[m.focus]
	if i < 0 || i >= len(items) {
		return catalog.Item{}, false
	}
	return items[i], true
}

func (m *Model) clamp() {
	sizes := [paneCount]int{
		len(m.session.Selected()),
		len(m.session.Available()),
		len(selection.TrackedEnvs),
	}
	for p := range m.cursor {
		if m.cursor[p] >= sizes[p] {
			m.cursor[p] = sizes[p] - 1
		}
		if m.cursor[p] < 0 {
			m.cursor[p] = 0
		}
	}
}

func (m *Model) syncInputs() {
	for i, key := range selection.TrackedEnvs {
		m.inputs[i].SetValue(m.session.Env(key))
	}
}

func (m Model) View() string {
	colWidth := 38
	if m.width > 0 {
		colWidth = max(24, m.width/2-4)
	}

	selected := m.renderList("Install", m.session.Selected(), paneSelected, colWidth)
	available := m.renderList("Available", m.session.Available(), paneAvailable, colWidth)
	lists := lipgloss.JoinHorizontal(lipgloss.Top, selected, available)

	var b strings.Builder
	for i, key := range selection.TrackedEnvs {
		label := fmt.Sprintf("%-14s ", key)
		value := m.inputs[i].View()
		if !(m.editing && i == m.cursor[paneEnvs]) {
			value = m.session.Env(key)
		}
		line := label + value
		if m.focus == paneEnvs && i == m.cursor[paneEnvs] && !m.editing {
			line = cursorStyle.Render(line)
		}
		b.WriteString(line + "\n")
	}
	envStyle := boxStyle
	if m.focus == paneEnvs {
		envStyle = focusStyle
	}
	envs := envStyle.Render(titleStyle.Render("Environment") + "\n" + strings.TrimRight(b.String(), "\n"))

	help := hintStyle.Render("tab switch pane • space/enter move or edit • a add all • r remove all • z reset • e edit • f browse • d default • ctrl+s install • esc cancel")
	parts := []string{lists, envs, help}
	if m.status != "" {
		parts = append(parts, statusStyle.Render(m.status))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderList(title string, items []catalog.Item, p pane, width int) string {
	cursor := m.cursor[p]
	start := 0
	if cursor >= listHeight {
		start = cursor - listHeight + 1
	}

	lines := []string{titleStyle.Render(fmt.Sprintf("%s (%d)", title, len(items)))}
	for i := start; i < len(items) && i < start+listHeight; i++ {
		line := items[i].Name
		if items[i].Version != "" {
			line += " " + versionStyle.Render(items[i].Version)
		}
		if m.focus == p && i == cursor {
			line = cursorStyle.Render(items[i].Name)
		}
		lines = append(lines, line)
	}
	if len(items) == 0 {
		lines = append(lines, hintStyle.Render("(none)"))
	}

	style := boxStyle
	if m.focus == p {
		style = focusStyle
	}
	return style.Width(width).Render(strings.Join(lines, "\n"))
}
