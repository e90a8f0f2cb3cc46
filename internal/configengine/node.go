// Package configengine implements the application-configuration engine:
// parsing an XML configuration document, substituting ${name}
// parameters, instantiating objects and services, wiring connections,
// and driving dependency-ordered start/stop.
package configengine

import (
	"encoding/xml"
	"fmt"
	"strings"

	"muster/internal/service"
)

// rawNode mirrors encoding/xml's generic element shape so any
// configuration document can be parsed without a fixed schema.
type rawNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	CharData string     `xml:",chardata"`
	Children []rawNode  `xml:",any"`
}

// Node is an immutable parsed configuration element: a tag, its
// attributes, child nodes, and any direct text content. It implements
// service.ConfigNode.
type Node struct {
	tag      string
	attrs    map[string]string
	children []*Node
	text     string
}

var _ service.ConfigNode = (*Node)(nil)

func (n *Node) Tag() string { return n.tag }

func (n *Node) Attr(name string) (string, bool) {
	v, ok := n.attrs[name]
	return v, ok
}

// Children returns n's direct children, satisfying service.ConfigNode.
// Use ChildrenTagged or the concrete children field (via ChildrenOf) when
// Node-specific behavior (e.g. Clone, SetAttr) is needed.
func (n *Node) Children() []service.ConfigNode {
	out := make([]service.ConfigNode, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out
}

// ChildrenOf returns n's direct children as concrete *Node values.
func (n *Node) ChildrenOf() []*Node { return n.children }

func (n *Node) Text() string { return n.text }

// ChildrenTagged returns the direct children whose tag equals tag, in
// document order.
func (n *Node) ChildrenTagged(tag string) []*Node {
	var out []*Node
	for _, c := range n.ChildrenOf() {
		if c.tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// Parse parses an XML configuration document into a Node tree.
func Parse(data []byte) (*Node, error) {
	var raw rawNode
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing configuration document: %w", err)
	}
	return fromRaw(&raw), nil
}

func fromRaw(raw *rawNode) *Node {
	n := &Node{
		tag:   raw.XMLName.Local,
		attrs: make(map[string]string, len(raw.Attrs)),
		text:  strings.TrimSpace(raw.CharData),
	}
	for _, a := range raw.Attrs {
		n.attrs[a.Name.Local] = a.Value
	}
	for i := range raw.Children {
		n.children = append(n.children, fromRaw(&raw.Children[i]))
	}
	return n
}

// Clone deep-copies n, used before substitution so the original parsed
// document is never mutated.
func (n *Node) Clone() *Node {
	clone := &Node{
		tag:  n.tag,
		text: n.text,
	}
	clone.attrs = make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		clone.attrs[k] = v
	}
	for _, c := range n.children {
		clone.children = append(clone.children, c.Clone())
	}
	return clone
}

// SetAttr overwrites (or adds) an attribute. Used internally during
// substitution.
func (n *Node) SetAttr(key, value string) {
	n.attrs[key] = value
}

// walk visits n and every descendant, depth first.
func (n *Node) walk(visit func(*Node)) {
	visit(n)
	for _, c := range n.children {
		c.walk(visit)
	}
}
