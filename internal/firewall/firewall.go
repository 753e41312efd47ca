package firewall

import "github.com/gutmensch/bridgenat-controller/internal/api"

// Processor installs and removes the NAT redirect rules derived from
// the static port bindings. Install is fail-fast, Remove is
// best-effort and never returns a fatal error.
type Processor interface {
	Install(bindings []api.PortBinding) error
	Remove(bindings []api.PortBinding) error
}

// Exposer opens inbound tcp ports at the packet filter. Expose is
// fail-fast, Unexpose best-effort, mirroring Processor.
type Exposer interface {
	Expose(ports []uint16) error
	Unexpose(ports []uint16) error
}
