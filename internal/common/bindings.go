package common

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/gutmensch/bridgenat-controller/internal/api"
)

const (
	LegacyTelnetPort uint16 = 23
	LegacyWebPort    uint16 = 80
)

// BuildBindings derives the static port binding set from the
// configured actual ports and validates it. One binding per role,
// actual ports must be unprivileged and distinct from the legacy
// ports they replace.
func BuildBindings(telnetPort, webPort int) ([]api.PortBinding, error) {
	bindings := []api.PortBinding{
		{Role: api.RoleTelnet, LegacyPort: LegacyTelnetPort, ActualPort: uint16(telnetPort), Protocol: "tcp"},
		{Role: api.RoleWeb, LegacyPort: LegacyWebPort, ActualPort: uint16(webPort), Protocol: "tcp"},
	}

	restricted := parseRestrictedPorts(RestrictedPorts)

	seen := map[api.PortRole]bool{}
	for _, b := range bindings {
		if seen[b.Role] {
			return nil, errors.New(fmt.Sprintf("duplicate port binding for role %s", b.Role))
		}
		seen[b.Role] = true

		if b.ActualPort == 0 {
			return nil, errors.New("port 0 is reserved and cannot be used")
		}

		if b.ActualPort <= 1024 {
			return nil, errors.New(
				fmt.Sprintf("actual port %d for role %s must be unprivileged (> 1024)", b.ActualPort, b.Role),
			)
		}

		if b.ActualPort == b.LegacyPort {
			return nil, errors.New(
				fmt.Sprintf("actual port for role %s must differ from legacy port %d", b.Role, b.LegacyPort),
			)
		}

		if b.Protocol != "tcp" {
			return nil, errors.New("supported protocol for redirect rules is 'tcp'")
		}

		if !RestrictedEnable && slices.Contains(restricted, b.ActualPort) {
			return nil, errors.New(
				fmt.Sprintf("restricted ports %s are not allowed unless specified with cmd flag -restrictedEnable", RestrictedPorts),
			)
		}
	}

	return bindings, nil
}

// ExposedPorts is the union of legacy and actual ports from all
// bindings, sorted ascending. Legacy ports must stay reachable for
// redirection to take effect, actual ports for the bridge listeners.
func ExposedPorts(bindings []api.PortBinding) []uint16 {
	var ports []uint16
	for _, b := range bindings {
		for _, p := range []uint16{b.LegacyPort, b.ActualPort} {
			if !slices.Contains(ports, p) {
				ports = append(ports, p)
			}
		}
	}
	slices.Sort(ports)
	return ports
}

func parseRestrictedPorts(s string) []uint16 {
	var ports []uint16
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		val, err := strconv.ParseUint(f, 10, 16)
		if err != nil {
			continue
		}
		ports = append(ports, uint16(val))
	}
	return ports
}
