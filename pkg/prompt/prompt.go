// pkg/prompt/prompt.go - blocking console prompts for the operator.
//
// Prompts never time out: an unattended run is expected to pass the flags
// that make them unnecessary.

package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrNoInput is returned when the input stream closes before an answer.
var ErrNoInput = errors.New("no input available")

// Console asks questions on Out and reads answers from In.
type Console struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// New returns a Console bound to the process's standard streams.
func New() *Console {
	return &Console{In: os.Stdin, Out: os.Stdout}
}

func (c *Console) readLine() (string, error) {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.In)
	}
	line, err := c.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", ErrNoInput
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Confirm asks a yes/no question. Anything other than y or yes, including
// a closed input, counts as no.
func (c *Console) Confirm(question string) bool {
	fmt.Fprintf(c.Out, "%s [y/N]: ", question)
	answer, err := c.readLine()
	if err != nil {
		fmt.Fprintln(c.Out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}

// Secret reads a value without echo when In is a terminal, otherwise a
// plain line.
func (c *Console) Secret(label string) (string, error) {
	fmt.Fprintf(c.Out, "%s: ", label)
	if f, ok := c.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(c.Out)
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return string(b), nil
	}
	return c.readLine()
}

// Pause waits for the operator to press enter.
func (c *Console) Pause(message string) {
	fmt.Fprintf(c.Out, "%s ", message)
	_, _ = c.readLine()
}

// Interactive reports whether In is attached to a terminal.
func (c *Console) Interactive() bool {
	f, ok := c.In.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
