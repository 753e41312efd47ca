package state

// StateStore persists the inventory of currently applied rules.
// Purely observational, rules are always re-derived from the static
// bindings on activation.
type StateStore interface {
	Get() ([]byte, error)
	Put(data interface{}) error
}
