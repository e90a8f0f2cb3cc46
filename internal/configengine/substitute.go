package configengine

import (
	"fmt"

	"muster/internal/paramsubst"
	"muster/internal/runtimeerrors"
)

// optionalAttr names the attribute, when present and "true", that marks
// an element's other attributes as tolerant of unresolved ${name}
// references.
const optionalAttr = "optional"

// substitute deep-copies root and replaces every ${name} attribute value
// using params, collecting every unresolved required reference into a
// single aggregated configuration_invalid error.
func substitute(root *Node, params map[string]string, subst *paramsubst.Engine) (*Node, error) {
	clone := root.Clone()
	var collected runtimeerrors.ErrorCollection

	clone.walk(func(n *Node) {
		optional := n.attrs[optionalAttr] == "true"
		for key, value := range n.attrs {
			resolved, err := subst.Substitute(value, params, !optional)
			if err != nil {
				collected.Add(fmt.Errorf("<%s %s>: %w", n.tag, key, err))
				continue
			}
			n.attrs[key] = resolved
		}
	})

	if collected.HasErrors() {
		return nil, collected.AsError()
	}
	return clone, nil
}
