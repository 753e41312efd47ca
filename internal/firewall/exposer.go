package firewall

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/coreos/go-iptables/iptables"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
)

// IPTablesExposer opens inbound tcp ports with ACCEPT rules in a
// dedicated filter-table chain jumped from INPUT. Legacy ports must
// stay open for redirection to take effect at all, actual ports for
// the bridge listeners themselves.
type IPTablesExposer struct {
	ipt   IPTablesInterface
	chain api.IpTablesChain
}

func (e *IPTablesExposer) portSpec(port uint16) []string {
	return []string{
		"-p", "tcp", "-m", "tcp", "--dport", fmt.Sprint(port),
		"-m", "comment", "--comment", fmt.Sprintf("%s:expose", common.ResourcePrefix),
		"-j", "ACCEPT",
	}
}

// Expose is fail-fast: a port that cannot be opened makes downstream
// redirection unreachable, so the firewall unit must end up failed.
func (e *IPTablesExposer) Expose(ports []uint16) error {
	for _, port := range ports {
		if common.DryRun {
			klog.Infof("dry-run activated, not exposing port: %v in chain %s\n", e.portSpec(port), e.chain.Name)
			continue
		}
		if err := e.ipt.AppendUnique(e.chain.Table, e.chain.Name, e.portSpec(port)...); err != nil {
			klog.Errorf("failed exposing tcp port %d in chain %s: %v\n", port, e.chain.Name, err)
			return &api.PortExposureError{Port: port, Err: err}
		}
		klog.Infof("inbound tcp port %d open\n", port)
	}
	return nil
}

// Unexpose is best-effort, individual failures are logged and skipped.
func (e *IPTablesExposer) Unexpose(ports []uint16) error {
	for _, port := range ports {
		if common.DryRun {
			klog.Infof("dry-run activated, not closing port: %v in chain %s\n", e.portSpec(port), e.chain.Name)
			continue
		}
		if err := e.ipt.DeleteIfExists(e.chain.Table, e.chain.Name, e.portSpec(port)...); err != nil {
			klog.Warningf("failed closing tcp port %d in chain %s: %v\n", port, e.chain.Name, err)
		}
	}
	return nil
}

func (e *IPTablesExposer) init() error {
	if common.DryRun {
		klog.Infof("dryRun mode enabled, not initializing iptables chain %s in table %s\n", e.chain.Name, e.chain.Table)
		return nil
	}

	if err := ensureChain(e.ipt, e.chain); err != nil {
		return fmt.Errorf("initializing iptables chain %s in table %s failed with error %v", e.chain.Name, e.chain.Table, err)
	}

	if err := ensureJumpToChain(e.ipt, e.chain); err != nil {
		return fmt.Errorf("setup jumping into iptables chain %s in table %s failed with error %v", e.chain.Name, e.chain.Table, err)
	}

	return nil
}

func NewIPTablesExposer(ipt IPTablesInterface) (*IPTablesExposer, error) {
	if ipt == nil {
		real, err := iptables.New()
		if err != nil {
			klog.Errorf("initializing of iptables failed: %v\n", err)
			return nil, err
		}
		ipt = real
	}

	exp := &IPTablesExposer{
		ipt: ipt,
		chain: api.IpTablesChain{
			Name:         strings.ToUpper(fmt.Sprintf("%s_IN", common.ResourcePrefix)),
			Table:        "filter",
			ParentChain:  "INPUT",
			RulePosition: common.ParseJumpPos(common.IptablesJump, 2),
		},
	}

	if err := exp.init(); err != nil {
		klog.Errorf("iptables basic setup failed: %v\n", err)
		return nil, err
	}

	return exp, nil
}
