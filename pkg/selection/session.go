// pkg/selection/session.go - the customization state machine.
//
// A Session partitions the resolved catalog between "selected" and
// "available". Every transition moves items between the two halves, so
// their union never changes and no item is ever in both.

package selection

import (
	"errors"
	"fmt"
	"strings"

	"github.com/windowsadmins/vmprovision/pkg/catalog"
)

// ErrCancelled is returned when the operator abandons customization.
var ErrCancelled = errors.New("customization cancelled by operator")

// Tracked environment bindings that the operator may edit.
const (
	EnvCommonDir   = "COMMON_DIR"
	EnvToolListDir = "TOOL_LIST_DIR"
	EnvRawToolsDir = "RAW_TOOLS_DIR"
)

// TrackedEnvs lists the editable bindings in display order.
var TrackedEnvs = []string{EnvCommonDir, EnvToolListDir, EnvRawToolsDir}

// Outcome is the accepted result of a session.
type Outcome struct {
	Selected []string
	Envs     map[string]string
}

// Session holds the current partition and env field values.
type Session struct {
	origSelected  []catalog.Item
	origAvailable []catalog.Item
	origEnvs      map[string]string

	selected  []catalog.Item
	available []catalog.Item
	envs      map[string]string
}

// NewSession starts from the resolver's partition. Env defaults for keys
// outside TrackedEnvs are ignored.
func NewSession(res catalog.Resolution, envDefaults map[string]string) *Session {
	s := &Session{
		origSelected:  cloneItems(res.ToInstall),
		origAvailable: cloneItems(res.Available),
		origEnvs:      make(map[string]string, len(TrackedEnvs)),
		envs:          make(map[string]string, len(TrackedEnvs)),
	}
	for _, k := range TrackedEnvs {
		s.origEnvs[k] = envDefaults[k]
		s.envs[k] = envDefaults[k]
	}
	s.Reset()
	return s
}

// Selected returns a copy of the selected items, sorted by name.
func (s *Session) Selected() []catalog.Item { return cloneItems(s.selected) }

// Available returns a copy of the available items, sorted by name.
func (s *Session) Available() []catalog.Item { return cloneItems(s.available) }

// AddSelected moves the named available items into the selection and
// returns how many moved. Unknown names are ignored.
func (s *Session) AddSelected(names ...string) int {
	var moved int
	s.available, s.selected, moved = move(s.available, s.selected, names)
	return moved
}

// AddAll moves every available item into the selection.
func (s *Session) AddAll() {
	s.selected = append(s.selected, s.available...)
	s.available = nil
	catalog.SortItems(s.selected)
}

// RemoveSelected moves the named selected items back to available.
func (s *Session) RemoveSelected(names ...string) int {
	var moved int
	s.selected, s.available, moved = move(s.selected, s.available, names)
	return moved
}

// RemoveAll moves every selected item back to available.
func (s *Session) RemoveAll() {
	s.available = append(s.available, s.selected...)
	s.selected = nil
	catalog.SortItems(s.available)
}

// Reset restores the resolver's original partition. Env fields are left
// as edited; they are reset individually with ResetEnv.
func (s *Session) Reset() {
	s.selected = cloneItems(s.origSelected)
	s.available = cloneItems(s.origAvailable)
	catalog.SortItems(s.selected)
	catalog.SortItems(s.available)
}

// Env returns the current value of a tracked binding.
func (s *Session) Env(key string) string { return s.envs[key] }

// SetEnv sets a tracked binding from direct text entry. A blank value is
// rejected; ResetEnv restores the default instead.
func (s *Session) SetEnv(key, value string) error {
	if _, ok := s.envs[key]; !ok {
		return fmt.Errorf("%s is not an editable environment variable", key)
	}
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	s.envs[key] = value
	return nil
}

// ResetEnv restores one binding to its default.
func (s *Session) ResetEnv(key string) {
	if v, ok := s.origEnvs[key]; ok {
		s.envs[key] = v
	}
}

// ChooseFolder sets key to dir joined with the leaf name of the binding's
// default, so choosing D:\ for a default of %SystemDrive%\Tools yields D:\Tools.
func (s *Session) ChooseFolder(key, dir string) error {
	if _, ok := s.envs[key]; !ok {
		return fmt.Errorf("%s is not an editable environment variable", key)
	}
	if strings.TrimSpace(dir) == "" {
		return errors.New("no folder chosen")
	}
	s.envs[key] = joinLeaf(dir, leafName(s.origEnvs[key]))
	return nil
}

// Result snapshots the current state as an Outcome. A binding the
// document never defined and the operator never set is left out.
func (s *Session) Result() Outcome {
	envs := make(map[string]string, len(s.envs))
	for k, v := range s.envs {
		if v != "" {
			envs[k] = v
		}
	}
	return Outcome{Selected: catalog.Names(s.selected), Envs: envs}
}

func move(from, to []catalog.Item, names []string) ([]catalog.Item, []catalog.Item, int) {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = struct{}{}
	}
	kept := from[:0:0]
	moved := 0
	for _, it := range from {
		if _, ok := want[strings.ToLower(it.Name)]; ok {
			to = append(to, it)
			moved++
			continue
		}
		kept = append(kept, it)
	}
	catalog.SortItems(to)
	return kept, to, moved
}

func cloneItems(items []catalog.Item) []catalog.Item {
	if len(items) == 0 {
		return nil
	}
	out := make([]catalog.Item, len(items))
	copy(out, items)
	return out
}

// leafName returns the final path element, accepting either separator since
// defaults are Windows paths regardless of the host running the tests.
func leafName(p string) string {
	p = strings.TrimRight(p, `\/`)
	if i := strings.LastIndexAny(p, `\/`); i >= 0 {
		return p[i+1:]
	}
	return p
}

func joinLeaf(dir, leaf string) string {
	if leaf == "" {
		return dir
	}
	sep := `\`
	if strings.Contains(dir, "/") && !strings.Contains(dir, `\`) {
		sep = "/"
	}
	return strings.TrimRight(dir, `\/`) + sep + leaf
}
