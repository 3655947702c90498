// pkg/scripts/scripts.go - PowerShell execution for host queries and the
// installation engine.

package scripts

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/windowsadmins/vmprovision/pkg/logging"
)

// Shells are tried in order; Windows PowerShell 5.1 ships with every
// supported build, pwsh only when installed.
var Shells = []string{"pwsh.exe", "powershell.exe"}

// Runner executes PowerShell commands and other host programs.
type Runner struct {
	Shell string
	Dir   string
}

// NewRunner resolves the first available shell.
func NewRunner() (*Runner, error) {
	for _, s := range Shells {
		if path, err := exec.LookPath(s); err == nil {
			return &Runner{Shell: path}, nil
		}
	}
	return nil, fmt.Errorf("no PowerShell found (tried %s)", strings.Join(Shells, ", "))
}

func (r *Runner) command(ctx context.Context, script string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, r.Shell,
		"-NoLogo",
		"-NoProfile",
		"-NonInteractive",
		"-ExecutionPolicy", "Bypass",
		"-Command", script,
	)
	cmd.Dir = r.Dir
	return cmd
}

// Run executes a PowerShell command and returns its cleaned output.
func (r *Runner) Run(ctx context.Context, script string) (string, error) {
	out, err := r.command(ctx, script).CombinedOutput()
	text := strings.Join(CleanLines(string(out)), "\n")
	if err != nil {
		logging.Debug("PowerShell command failed", "command", script, "output", text, "error", err)
		return text, fmt.Errorf("powershell: %w: %s", err, text)
	}
	return text, nil
}

// Exec runs a program directly, without a shell.
func (r *Runner) Exec(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	out, err := cmd.CombinedOutput()
	text := strings.Join(CleanLines(string(out)), "\n")
	if err != nil {
		return text, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, text)
	}
	return text, nil
}

// Stream runs a long PowerShell command, copying each cleaned output line
// to w and the run log as it arrives. env entries are added to the child
// environment only.
func (r *Runner) Stream(ctx context.Context, env map[string]string, script string, w io.Writer) error {
	cmd := r.command(ctx, script)
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting powershell: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(pr)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			for _, line := range CleanLines(sc.Text()) {
				logging.Info(line)
				if w != nil {
					fmt.Fprintln(w, line)
				}
			}
		}
		io.Copy(io.Discard, pr)
	}()

	err := cmd.Wait()
	pw.Close()
	<-done
	if err != nil {
		return fmt.Errorf("powershell: %w", err)
	}
	return nil
}

// CleanLines splits output into trimmed, non-empty lines with any BOM and
// ANSI colour sequences removed.
func CleanLines(output string) []string {
	var lines []string
	for _, line := range strings.Split(output, "\n") {
		txt := strings.TrimSpace(line)
		txt = strings.TrimPrefix(txt, "\ufeff")
		txt = stripANSI(txt)
		if txt == "" {
			continue
		}
		lines = append(lines, txt)
	}
	return lines
}

func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b[") {
		return s
	}
	var b bytes.Buffer
	for i := 0; i < len(s); i++ {
		if s[i] == 0x1b && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 0x40 || s[j] > 0x7e) {
				j++
			}
			i = j
			continue
		}
		b.WriteByte(s[i])
	}
	return strings.TrimSpace(b.String())
}

// Quote returns s as a single-quoted PowerShell string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
