package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/selection"
)

func newTestModel(pick FolderPicker) Model {
	s := selection.NewSession(catalog.Resolution{
		ToInstall: []catalog.Item{{Name: "7zip.vm"}, {Name: "ghidra.vm", Version: "11.1"}},
		Available: []catalog.Item{{Name: "ida.free.vm"}, {Name: "x64dbg.vm"}},
	}, map[string]string{
		selection.EnvCommonDir:   `%ProgramData%\_VM`,
		selection.EnvToolListDir: `%ProgramData%\Microsoft\Windows\Start Menu\Programs\Tools`,
		selection.EnvRawToolsDir: `%SystemDrive%\Tools`,
	})
	return NewModel(s, pick)
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

func press(t *testing.T, m Model, keys ...tea.KeyMsg) (Model, tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var next tea.Model
		next, cmd = m.Update(k)
		var ok bool
		m, ok = next.(Model)
		require.True(t, ok, "expected Model, got %T", next)
	}
	return m, cmd
}

func names(items []catalog.Item) []string { return catalog.Names(items) }

func TestMoveItemsBetweenPanes(t *testing.T) {
	m := newTestModel(nil)

	// Remove the first selected item.
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, []string{"ghidra.vm"}, names(m.Session().Selected()))

	// Available is now 7zip, ida.free, x64dbg; add the last one.
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyTab}, runes("j"), runes("j"), tea.KeyMsg{Type: tea.KeySpace})
	assert.Equal(t, []string{"ghidra.vm", "x64dbg.vm"}, names(m.Session().Selected()))
	assert.Equal(t, []string{"7zip.vm", "ida.free.vm"}, names(m.Session().Available()))

	m, _ = press(t, m, runes("a"))
	assert.Empty(t, m.Session().Available())
	m, _ = press(t, m, runes("r"))
	assert.Empty(t, m.Session().Selected())

	m, _ = press(t, m, runes("z"))
	assert.Equal(t, []string{"7zip.vm", "ghidra.vm"}, names(m.Session().Selected()))
	assert.Contains(t, m.View(), "Selection reset")
}

func TestCursorStaysInRange(t *testing.T) {
	m := newTestModel(nil)
	m, _ = press(t, m, runes("k"), runes("k"))
	assert.Equal(t, 0, m.cursor[paneSelected])
	m, _ = press(t, m, runes("j"), runes("j"), runes("j"))
	assert.Equal(t, 1, m.cursor[paneSelected])

	m, _ = press(t, m, runes("r"))
	assert.Equal(t, 0, m.cursor[paneSelected])
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Empty(t, m.Session().Selected())
}

func TestEditEnvironmentField(t *testing.T) {
	m := newTestModel(nil)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyShiftTab}, runes("j"), runes("j"), runes("e"))
	require.True(t, m.editing)

	for range len(`%SystemDrive%\Tools`) {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	}
	m, _ = press(t, m, runes(`D:\Tools`), tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.editing)
	assert.Equal(t, `D:\Tools`, m.Session().Env(selection.EnvRawToolsDir))

	// Escape discards an edit in progress.
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter}, runes("junk"), tea.KeyMsg{Type: tea.KeyEsc})
	assert.False(t, m.editing)
	assert.False(t, m.Cancelled())
	assert.Equal(t, `D:\Tools`, m.Session().Env(selection.EnvRawToolsDir))

	m, _ = press(t, m, runes("d"))
	assert.Equal(t, `%SystemDrive%\Tools`, m.Session().Env(selection.EnvRawToolsDir))
}

func TestClearingEnvironmentFieldIsRejected(t *testing.T) {
	m := newTestModel(nil)
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyShiftTab}, runes("e"))
	require.True(t, m.editing)

	for range len(`%ProgramData%\_VM`) {
		m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyBackspace})
	}
	m, _ = press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, m.editing)
	assert.Equal(t, `%ProgramData%\_VM`, m.Session().Env(selection.EnvCommonDir))
	assert.Contains(t, m.View(), "must not be empty")
}

func TestFolderPicker(t *testing.T) {
	var asked string
	m := newTestModel(func(title string) (string, error) {
		asked = title
		return `E:\`, nil
	})
	m, cmd := press(t, m, tea.KeyMsg{Type: tea.KeyShiftTab}, runes("f"))
	require.NotNil(t, cmd)

	next, _ := m.Update(cmd())
	m = next.(Model)
	assert.Contains(t, asked, selection.EnvCommonDir)
	assert.Equal(t, `E:\_VM`, m.Session().Env(selection.EnvCommonDir))

	failing := newTestModel(func(string) (string, error) { return "", errors.New("no shell") })
	failing, cmd = press(t, failing, tea.KeyMsg{Type: tea.KeyShiftTab}, runes("f"))
	next, _ = failing.Update(cmd())
	assert.Contains(t, next.(Model).View(), "Folder selection failed")

	none := newTestModel(nil)
	none, cmd = press(t, none, tea.KeyMsg{Type: tea.KeyShiftTab}, runes("f"))
	assert.Nil(t, cmd)
	assert.Contains(t, none.View(), "No folder picker")
}

func TestAcceptAndCancel(t *testing.T) {
	m, cmd := press(t, newTestModel(nil), tea.KeyMsg{Type: tea.KeyCtrlS})
	assert.True(t, m.Accepted())
	require.NotNil(t, cmd)
	_, isQuit := cmd().(tea.QuitMsg)
	assert.True(t, isQuit)

	m, cmd = press(t, newTestModel(nil), runes("a"), tea.KeyMsg{Type: tea.KeyEsc})
	assert.True(t, m.Cancelled())
	assert.False(t, m.Accepted())
	require.NotNil(t, cmd)
}
