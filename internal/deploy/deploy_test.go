package deploy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/exp/slices"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
	"github.com/gutmensch/bridgenat-controller/internal/firewall"
	"github.com/gutmensch/bridgenat-controller/internal/provision"
)

func init() {
	common.ResourcePrefix = "bridgenat"
}

// fake bridge binary that ignores its serve arguments and stays up
func fakeBridge(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ra-bridge")
	script := "#!/bin/sh\nexec sleep 30\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake bridge: %v", err)
	}
	return path
}

func testConfig(t *testing.T) Config {
	t.Helper()
	bindings, err := common.BuildBindings(6023, 8080)
	if err != nil {
		t.Fatalf("bindings: %v", err)
	}
	return Config{
		DataRoot:     filepath.Join(t.TempDir(), "ra-bridge"),
		BridgeBinary: fakeBridge(t),
		Bindings:     bindings,
	}
}

func TestBridgeCommandServeContract(t *testing.T) {
	cfg := testConfig(t)

	cmd := cfg.BridgeCommand()
	joined := strings.Join(cmd, " ")

	if cmd[0] != cfg.BridgeBinary || cmd[1] != "serve" {
		t.Fatalf("bridge not invoked in serve mode: %v", cmd)
	}
	for _, want := range []string{
		"--config " + filepath.Join(cfg.DataRoot, "config.toml"),
		"--certs-dir " + filepath.Join(cfg.DataRoot, "certs"),
		"--web-port 8080",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("bridge command %q misses %q", joined, want)
		}
	}
}

func TestDeploymentScenario(t *testing.T) {
	cfg := testConfig(t)
	mock := firewall.NewIPTablesMock()

	if err := provision.EnsureAll(cfg.DirectorySpecs()); err != nil {
		t.Fatalf("provisioning: %v", err)
	}
	for _, spec := range cfg.DirectorySpecs() {
		info, err := os.Stat(spec.Path)
		if err != nil || !info.IsDir() {
			t.Fatalf("directory %s missing after provisioning: %v", spec.Path, err)
		}
		if info.Mode().Perm() != spec.Mode.Perm() {
			t.Fatalf("%s mode = %04o, want %04o", spec.Path, info.Mode().Perm(), spec.Mode.Perm())
		}
	}

	proc, err := firewall.NewIPTablesProcessor(nil, mock)
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	exp, err := firewall.NewIPTablesExposer(mock)
	if err != nil {
		t.Fatalf("exposer: %v", err)
	}

	sup, err := Graph(cfg, proc, exp, common.ExposedPorts(cfg.Bindings))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}

	order := sup.Order()
	for _, pair := range [][2]string{
		{UnitFirewall, UnitNATRules},
		{UnitNATRules, UnitBridge},
		{UnitBridge, UnitConsumer},
	} {
		if slices.Index(order, pair[0]) >= slices.Index(order, pair[1]) {
			t.Fatalf("expected %s before %s in %v", pair[0], pair[1], order)
		}
	}

	if err := sup.StartAll(); err != nil {
		t.Fatalf("start all: %v", err)
	}
	defer sup.StopAll()

	// exactly four redirect rules, two per chain
	if got := len(mock.Rules("nat", "BRIDGENAT_OUT")); got != 2 {
		t.Fatalf("OUTPUT redirect rules = %d, want 2", got)
	}
	if got := len(mock.Rules("nat", "BRIDGENAT_PRE")); got != 2 {
		t.Fatalf("PREROUTING redirect rules = %d, want 2", got)
	}
	// exposed ports = union of legacy and actual ports
	if got := len(mock.Rules("filter", "BRIDGENAT_IN")); got != 4 {
		t.Fatalf("exposed port rules = %d, want 4", got)
	}

	for unit, want := range map[string]api.UnitState{
		UnitFirewall: api.UnitActive,
		UnitNATRules: api.UnitActive,
		UnitBridge:   api.UnitActive,
		UnitConsumer: api.UnitActive,
	} {
		if got := sup.State(unit); got != want {
			t.Fatalf("unit %s state = %s, want %s", unit, got, want)
		}
	}

	sup.StopAll()

	if got := len(mock.Rules("nat", "BRIDGENAT_OUT")) + len(mock.Rules("nat", "BRIDGENAT_PRE")); got != 0 {
		t.Fatalf("redirect rules left after teardown: %d", got)
	}
	if got := len(mock.Rules("filter", "BRIDGENAT_IN")); got != 0 {
		t.Fatalf("exposed port rules left after teardown: %d", got)
	}
}

func TestFirewallRestartReinstallsRules(t *testing.T) {
	cfg := testConfig(t)
	mock := firewall.NewIPTablesMock()

	proc, err := firewall.NewIPTablesProcessor(nil, mock)
	if err != nil {
		t.Fatalf("processor: %v", err)
	}
	exp, err := firewall.NewIPTablesExposer(mock)
	if err != nil {
		t.Fatalf("exposer: %v", err)
	}

	sup, err := Graph(cfg, proc, exp, common.ExposedPorts(cfg.Bindings))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if err := sup.StartAll(); err != nil {
		t.Fatalf("start all: %v", err)
	}
	defer sup.StopAll()

	mock.Ops = nil
	if err := sup.Restart(UnitFirewall); err != nil {
		t.Fatalf("restart firewall: %v", err)
	}

	var deleted, appended bool
	for _, op := range mock.Ops {
		if strings.HasPrefix(op, "delete nat") {
			deleted = true
		}
		if strings.HasPrefix(op, "append nat") && deleted {
			appended = true
		}
	}
	if !deleted || !appended {
		t.Fatalf("expected rule removal then reinstall on firewall restart, ops: %v", mock.Ops)
	}

	if got := len(mock.Rules("nat", "BRIDGENAT_OUT")) + len(mock.Rules("nat", "BRIDGENAT_PRE")); got != 4 {
		t.Fatalf("redirect rules after cascade restart = %d, want 4", got)
	}
	if got := sup.State(UnitNATRules); got != api.UnitActive {
		t.Fatalf("nat-rules state = %s, want active after cascade restart", got)
	}
}
