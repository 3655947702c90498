// pkg/manifest/expand.go - %NAME% expansion of environment bindings.

package manifest

import (
	"fmt"
	"strings"
)

// ExpandEnvs resolves %NAME% references in every binding. Names are looked
// up among the document's own bindings first and then via lookup (usually
// the process environment). Unknown references are left verbatim, as
// Windows does. A reference cycle is an error.
func (d *Document) ExpandEnvs(lookup func(string) (string, bool)) (map[string]string, error) {
	raw := d.EnvMap()
	resolved := make(map[string]string, len(raw))
	visiting := make(map[string]bool)

	var resolve func(name string) (string, error)
	resolve = func(name string) (string, error) {
		if v, ok := resolved[name]; ok {
			return v, nil
		}
		if visiting[name] {
			return "", fmt.Errorf("environment variable %s references itself", name)
		}
		visiting[name] = true
		defer delete(visiting, name)

		v, err := expandString(raw[name], func(ref string) (string, bool, error) {
			if _, ok := raw[ref]; ok {
				val, err := resolve(ref)
				return val, true, err
			}
			if lookup != nil {
				if val, ok := lookup(ref); ok {
					return val, true, nil
				}
			}
			return "", false, nil
		})
		if err != nil {
			return "", err
		}
		resolved[name] = v
		return v, nil
	}

	for _, e := range d.Envs {
		if _, err := resolve(e.Name); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

func expandString(s string, ref func(string) (string, bool, error)) (string, error) {
	var b strings.Builder
	for {
		start := strings.IndexByte(s, '%')
		if start < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			b.WriteString(s)
			return b.String(), nil
		}
		end += start + 1
		name := s[start+1 : end]

		b.WriteString(s[:start])
		if name == "" {
			b.WriteString("%%")
		} else if val, ok, err := ref(name); err != nil {
			return "", err
		} else if ok {
			b.WriteString(val)
		} else {
			b.WriteString(s[start : end+1])
		}
		s = s[end+1:]
	}
}
