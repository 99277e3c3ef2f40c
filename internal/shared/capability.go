package shared

// Capability records whether an optional collaborator is usable. It is
// resolved once at startup and handed to components through their config.
type Capability int

// Capability values.
const (
	Unavailable Capability = iota
	Available
)

// CapabilityOf maps a boolean probe result to a Capability.
func CapabilityOf(ok bool) Capability {
	if ok {
		return Available
	}
	return Unavailable
}

// Available reports whether the capability is usable.
func (c Capability) Available() bool {
	return c == Available
}

func (c Capability) String() string {
	if c == Available {
		return "available"
	}
	return "unavailable"
}
