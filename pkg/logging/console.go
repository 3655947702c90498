// pkg/logging/console.go - coloured operator-facing console output.

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGreen  = "\033[32m"
)

// Console prints timestamped, coloured messages for the operator. Every
// message is also forwarded to the run log at the matching level.
type Console struct {
	mu      sync.Mutex
	out     *log.Logger
	verbose bool
}

// New creates a Console writing to stdout.
func New(verbose bool) *Console {
	enableColors()
	return &Console{
		out:     log.New(os.Stdout, "", 0),
		verbose: verbose,
	}
}

// SetOutput changes the output destination.
func (c *Console) SetOutput(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.SetOutput(w)
}

func (c *Console) colorPrintf(color, format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	c.out.Printf("%s[%s] %s%s", color, ts, fmt.Sprintf(format, v...), colorReset)
}

// Printf prints a regular message.
func (c *Console) Printf(format string, v ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05")
	c.out.Printf("[%s] %s", ts, fmt.Sprintf(format, v...))
}

// Info prints an informational message.
func (c *Console) Info(format string, v ...interface{}) {
	c.Printf(format, v...)
	Info(fmt.Sprintf(format, v...))
}

// Success prints a success message in green.
func (c *Console) Success(format string, v ...interface{}) {
	c.colorPrintf(colorGreen, format, v...)
	Info(fmt.Sprintf(format, v...))
}

// Warning prints a warning message in yellow.
func (c *Console) Warning(format string, v ...interface{}) {
	c.colorPrintf(colorYellow, format, v...)
	Warn(fmt.Sprintf(format, v...))
}

// Error prints an error message in red.
func (c *Console) Error(format string, v ...interface{}) {
	c.colorPrintf(colorRed, format, v...)
	Error(fmt.Sprintf(format, v...))
}

// Debug prints a debug message in blue when verbose output is enabled.
func (c *Console) Debug(format string, v ...interface{}) {
	if c.verbose {
		c.colorPrintf(colorBlue, format, v...)
	}
	Debug(fmt.Sprintf(format, v...))
}
