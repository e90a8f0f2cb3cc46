package service

// ConfigNode is the minimal view of a parsed, parameter-substituted
// configuration subtree that a service's Configure hook needs.
// internal/configengine's node type satisfies
// this interface structurally; service does not import configengine, to
// keep the dependency direction configengine -> service.
type ConfigNode interface {
	Tag() string
	Attr(name string) (string, bool)
	Children() []ConfigNode
	Text() string
}
