package service

// Access is a data port's access mode.
type Access int

const (
	AccessIn Access = iota
	AccessInout
	AccessOut
)

func (a Access) String() string {
	switch a {
	case AccessIn:
		return "in"
	case AccessInout:
		return "inout"
	case AccessOut:
		return "out"
	default:
		return "unknown"
	}
}

// PortDecl declares a data port on a service class: a key name, the
// required type tag, its access mode, whether binding is optional, and
// whether it accepts an indexed list of bindings (a group port).
type PortDecl struct {
	Key      string
	TypeTag  string
	Access   Access
	Optional bool
	Group    bool
}

// AutoConnDecl declares a standing auto-connection: at start, for the
// object bound to PortKey, connect its named signal to the service's
// named slot; at stop, the connection is torn down.
type AutoConnDecl struct {
	PortKey    string
	SignalName string
	SlotName   string
}

// boundPort is the runtime binding state of a declared port. objectIDs
// holds a single entry unless Group is set, in which case it holds the
// indexed list of bound object IDs.
type boundPort struct {
	decl      PortDecl
	objectIDs []string
}

func (p *boundPort) bound() bool {
	return len(p.objectIDs) > 0
}
