// pkg/blocking/blocking.go - detects a package manager run already in flight.
//
// Only one installation may run per host. Before handing off, the driver
// asks whether any of the engine's processes are alive and refuses to
// start a second run alongside them.

package blocking

import (
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/windowsadmins/vmprovision/pkg/logging"
)

// EngineProcesses are the executables of an active install.
var EngineProcesses = []string{"choco.exe"}

// Proc is the name and executable path of a running process.
type Proc struct {
	PID  int32
	Name string
	Exe  string
}

// ListProcesses enumerates the running processes. Processes whose name
// cannot be read are skipped.
func ListProcesses() ([]Proc, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, err
	}
	out := make([]Proc, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		exe, _ := p.Exe()
		out = append(out, Proc{PID: p.Pid, Name: name, Exe: exe})
	}
	return out, nil
}

// Matches reports whether p is the application named by pattern. A
// pattern may be an absolute path, an executable name, or a bare name
// matched with or without .exe.
func Matches(p Proc, pattern string) bool {
	clean := strings.ToLower(pattern)
	name := strings.ToLower(p.Name)
	switch {
	case strings.HasPrefix(clean, "/") || filepath.VolumeName(pattern) != "" || (len(clean) > 2 && clean[1] == ':'):
		return p.Exe != "" && strings.EqualFold(p.Exe, pattern)
	case strings.HasSuffix(clean, ".exe"):
		return name == clean
	default:
		return name == clean || name == clean+".exe"
	}
}

// Running returns the patterns that match a live process, excluding the
// process with PID self.
func Running(procs []Proc, self int32, patterns ...string) []string {
	var running []string
	for _, pattern := range patterns {
		for _, p := range procs {
			if p.PID == self {
				continue
			}
			if Matches(p, pattern) {
				logging.Debug("Found running application", "pattern", pattern, "pid", p.PID, "process", p.Name)
				running = append(running, pattern)
				break
			}
		}
	}
	return running
}
