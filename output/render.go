// Package output renders %var% event templates and dispatches the
// results to files and user commands.
package output

import (
	"fmt"
	"strings"
)

// Resolver supplies variable values during rendering. The controller
// implements it with the full run-time vocabulary: FSM state, match
// fields, configuration snapshot, version metadata and time formats.
type Resolver interface {
	// Resolve returns the value of a template variable. An error marks
	// the variable as unknown and fails the whole rendering.
	Resolve(name string) (string, error)
}

// Render expands every %name% in tmpl through the resolver. %% yields
// a literal percent sign. An unterminated variable or an unknown name
// is a template error; nothing is partially rendered.
//
// Rendering is pure: the same template and resolver values always
// produce byte-identical output.
func Render(res Resolver, tmpl string) (string, error) {
	var out strings.Builder
	out.Grow(2 * len(tmpl))

	line := 1
	i := 0
	for i < len(tmpl) {
		ch := tmpl[i]

		if ch == '\n' {
			line++
		}

		if ch != '%' {
			out.WriteByte(ch)
			i++
			continue
		}

		i++
		if i < len(tmpl) && tmpl[i] == '%' {
			out.WriteByte('%')
			i++
			continue
		}

		start := i
		for i < len(tmpl) && tmpl[i] != '%' && tmpl[i] != '\n' {
			i++
		}
		if i >= len(tmpl) || tmpl[i] != '%' {
			return "", fmt.Errorf("variable %q not terminated on template line %d", tmpl[start:i], line)
		}

		name := tmpl[start:i]
		i++

		value, err := res.Resolve(name)
		if err != nil {
			return "", fmt.Errorf("unknown template variable %q: %w", name, err)
		}
		out.WriteString(value)
	}

	return out.String(), nil
}

// SanitizePath replaces whitespace and colons in a rendered target
// path with underscores, so time values can be embedded directly.
func SanitizePath(path string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', ':':
			return '_'
		}
		return r
	}, path)
}
