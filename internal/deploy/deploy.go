package deploy

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/firewall"
	"github.com/gutmensch/bridgenat-controller/internal/supervisor"
)

// Unit names of the fixed deployment graph.
const (
	UnitNetwork       = "network.target"
	UnitNetworkOnline = "network-online.target"
	UnitFirewall      = "firewall"
	UnitNATRules      = "nat-rules"
	UnitBridge        = "bridge"
	UnitConsumer      = "consumer"
)

const bridgeRestartDelay = 5 * time.Second

// Config fixes the deployment-time inputs: where the bridge keeps its
// runtime files, which binary to run, and the port bindings.
type Config struct {
	DataRoot     string
	BridgeBinary string
	ConsumerUnit string
	Bindings     []api.PortBinding
}

// DirectorySpecs returns the runtime tree the bridge expects: the
// data root holding config.toml, and the certificates subdirectory
// locked down to the service owner.
func (c Config) DirectorySpecs() []api.DirectorySpec {
	return []api.DirectorySpec{
		{Path: c.DataRoot, Mode: 0755},
		{Path: filepath.Join(c.DataRoot, "certs"), Mode: 0700},
	}
}

// BridgeCommand is the serve-mode invocation of the bridge binary.
// The bridge binds its two listeners to the actual ports only, the
// legacy ports are reached exclusively through the redirect rules.
func (c Config) BridgeCommand() []string {
	webPort := uint16(8080)
	for _, b := range c.Bindings {
		if b.Role == api.RoleWeb {
			webPort = b.ActualPort
		}
	}
	return []string{
		c.BridgeBinary, "serve",
		"--config", filepath.Join(c.DataRoot, "config.toml"),
		"--certs-dir", filepath.Join(c.DataRoot, "certs"),
		"--web-port", fmt.Sprint(webPort),
	}
}

// consumerName lets a deployment rename the downstream consumer unit,
// its lifecycle stays externally owned either way.
func consumerName(cfg Config) string {
	if cfg.ConsumerUnit != "" {
		return cfg.ConsumerUnit
	}
	return UnitConsumer
}

// Graph assembles the supervisor with the fixed dependency graph:
//
//	firewall        (oneshot, opens inbound ports)
//	nat-rules       after firewall+network, PartOf firewall (oneshot)
//	bridge          after nat-rules+network-online, wants nat-rules,
//	                on-failure restart with fixed 5s delay
//	consumer        after bridge, wants bridge (externally owned)
//
// exposedPorts must be the union of legacy and actual ports from the
// bindings.
func Graph(cfg Config, proc firewall.Processor, exp firewall.Exposer, exposedPorts []uint16) (*supervisor.Supervisor, error) {
	sup := supervisor.New()

	nodes := []struct {
		node  api.ServiceNode
		hooks supervisor.Hooks
	}{
		{
			node: api.ServiceNode{Name: UnitNetwork, Kind: api.KindExternal},
		},
		{
			node: api.ServiceNode{Name: UnitNetworkOnline, Kind: api.KindExternal, After: []string{UnitNetwork}},
		},
		{
			node: api.ServiceNode{Name: UnitFirewall, Kind: api.KindOneshot, After: []string{UnitNetwork}},
			hooks: supervisor.Hooks{
				Start: func() error { return exp.Expose(exposedPorts) },
				Stop:  func() error { return exp.Unexpose(exposedPorts) },
			},
		},
		{
			node: api.ServiceNode{
				Name:   UnitNATRules,
				Kind:   api.KindOneshot,
				After:  []string{UnitFirewall, UnitNetwork},
				PartOf: UnitFirewall,
				Restart: api.RestartPolicy{
					Kind: api.RestartNever,
				},
			},
			hooks: supervisor.Hooks{
				Start: func() error { return proc.Install(cfg.Bindings) },
				Stop:  func() error { return proc.Remove(cfg.Bindings) },
			},
		},
		{
			node: api.ServiceNode{
				Name:         UnitBridge,
				Kind:         api.KindProcess,
				StartCommand: cfg.BridgeCommand(),
				After:        []string{UnitNATRules, UnitNetworkOnline},
				Wants:        []string{UnitNATRules},
				Restart: api.RestartPolicy{
					Kind:  api.RestartOnFailure,
					Delay: bridgeRestartDelay,
				},
			},
		},
		{
			node: api.ServiceNode{
				Name:  consumerName(cfg),
				Kind:  api.KindExternal,
				After: []string{UnitBridge},
				Wants: []string{UnitBridge},
			},
		},
	}

	for _, n := range nodes {
		if err := sup.Add(n.node, n.hooks); err != nil {
			return nil, err
		}
	}

	if err := sup.Validate(); err != nil {
		return nil, err
	}

	return sup, nil
}
