package tui

import (
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
	"github.com/windowsadmins/vmprovision/pkg/selection"
)

// Negotiator runs the customization screen in the terminal.
type Negotiator struct {
	Input      io.Reader
	Output     io.Writer
	PickFolder FolderPicker
}

// NewNegotiator uses the standard streams and the platform folder picker.
func NewNegotiator() *Negotiator {
	return &Negotiator{PickFolder: DefaultFolderPicker()}
}

// Negotiate implements selection.Negotiator.
func (n *Negotiator) Negotiate(ctx context.Context, defaults, available []catalog.Item, envDefaults map[string]string) (selection.Outcome, error) {
	s := selection.NewSession(catalog.Resolution{ToInstall: defaults, Available: available}, envDefaults)

	opts := []tea.ProgramOption{tea.WithContext(ctx)}
	if n.Input != nil {
		opts = append(opts, tea.WithInput(n.Input))
	}
	if n.Output != nil {
		opts = append(opts, tea.WithOutput(n.Output))
	} else {
		opts = append(opts, tea.WithAltScreen())
	}

	final, err := tea.NewProgram(NewModel(s, n.PickFolder), opts...).Run()
	if err != nil {
		if ctx.Err() != nil {
			return selection.Outcome{}, ctx.Err()
		}
		if errors.Is(err, tea.ErrProgramKilled) {
			return selection.Outcome{}, selection.ErrCancelled
		}
		return selection.Outcome{}, fmt.Errorf("customization screen: %w", err)
	}

	m, ok := final.(Model)
	if !ok || !m.Accepted() {
		return selection.Outcome{}, selection.ErrCancelled
	}
	return m.Session().Result(), nil
}
