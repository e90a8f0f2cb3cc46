// Package paramsubst implements the ${name} parameter-substitution pass
// applied to every configuration attribute before instantiation: each
// value of that form is replaced by the corresponding entry in a
// parameter map, with missing required references failing as
// configuration_invalid.
//
// Masterminds/sprig's string functions are exposed via Func/FuncMap for
// parameter values that benefit from simple text transforms (trimming,
// casing, defaults) before being substituted in, e.g. inside an
// activity's parameter-replace list.
package paramsubst

import (
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"muster/internal/runtimeerrors"
)

var placeholder = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_.-]*)\}`)

// Engine substitutes ${name} placeholders from a parameter map.
type Engine struct {
	funcs template.FuncMap
}

// New creates a substitution engine with sprig's function map available
// for value post-processing via Func.
func New() *Engine {
	return &Engine{funcs: sprig.TxtFuncMap()}
}

// Func looks up a sprig text-function by name (e.g. "trim", "upper",
// "default"), returning ok=false if name is not one of sprig's
// registered functions. The result must be invoked via reflection (as
// text/template itself does) since sprig functions have varied
// signatures; FuncMap is exposed directly for that purpose.
func (e *Engine) Func(name string) (interface{}, bool) {
	fn, ok := e.funcs[name]
	return fn, ok
}

// FuncMap exposes the full sprig function map, for callers that want to
// build a text/template and execute it directly rather than calling
// functions one at a time via reflection. Substitute itself does not
// apply these functions.
func (e *Engine) FuncMap() template.FuncMap {
	return e.funcs
}

// Substitute replaces every ${name} occurrence in s using params.
// required controls whether an unresolved reference is an error; when
// required is false, an unresolved placeholder is left untouched in the
// output instead of erroring.
func (e *Engine) Substitute(s string, params map[string]string, required bool) (string, error) {
	var missing []string
	result := placeholder.ReplaceAllStringFunc(s, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]
		v, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return v
	})
	if len(missing) > 0 && required {
		return "", fmt.Errorf("%w: unresolved parameter(s): %s", runtimeerrors.ErrConfigurationInvalid, strings.Join(missing, ", "))
	}
	return result, nil
}

// References reports every ${name} reference appearing in s, in order
// of first appearance, without resolving them. Used to validate an
// activity's parameter-replace list against its sub-configuration.
func References(s string) []string {
	matches := placeholder.FindAllStringSubmatch(s, -1)
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
