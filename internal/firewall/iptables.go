package firewall

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/coreos/go-iptables/iptables"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
	"github.com/gutmensch/bridgenat-controller/internal/state"
)

// IPTablesProcessor owns the NAT redirect rules derived from the port
// bindings. Rules live in two dedicated chains (jumped from OUTPUT and
// PREROUTING in the nat table) so they stay distinguishable from rules
// other tooling puts into the builtin chains. The processor never
// assumes exclusive ownership of the table, only of its own chains.
type IPTablesProcessor struct {
	ipt     IPTablesInterface
	chains  []api.IpTablesChain
	applied map[string]*api.RedirectRule
	state   state.StateStore
}

// deriveRules expands every binding into one OUTPUT and one
// PREROUTING redirect. OUTPUT rules come first so locally originated
// loopback traffic is covered before any externally visible redirect
// appears, and the order is stable for a given binding set.
func (p *IPTablesProcessor) deriveRules(bindings []api.PortBinding) []*api.RedirectRule {
	var rules []*api.RedirectRule
	for _, chain := range p.chains {
		for _, b := range bindings {
			rules = append(rules, &api.RedirectRule{
				ParentChain: chain.ParentChain,
				Protocol:    b.Protocol,
				MatchPort:   b.LegacyPort,
				TargetPort:  b.ActualPort,
				Comment:     fmt.Sprintf("%s:%s", common.ResourcePrefix, b.Role),
			})
		}
	}
	return rules
}

func (p *IPTablesProcessor) chainFor(parent string) (api.IpTablesChain, bool) {
	for _, c := range p.chains {
		if c.ParentChain == parent {
			return c, true
		}
	}
	return api.IpTablesChain{}, false
}

func (p *IPTablesProcessor) ruleSpec(rule *api.RedirectRule) []string {
	spec := []string{}
	if rule.ParentChain == "OUTPUT" {
		// loopback egress only, covers same-host clients dialing the
		// legacy port via 127.0.0.1
		spec = append(spec, "-o", "lo")
	}
	spec = append(spec,
		"-p", rule.Protocol, "-m", rule.Protocol, "--dport", fmt.Sprint(rule.MatchPort),
		"-m", "comment", "--comment", rule.Comment,
		"-j", "REDIRECT", "--to-ports", fmt.Sprint(rule.TargetPort),
	)
	return spec
}

// Install applies every derived rule, all OUTPUT rules before all
// PREROUTING rules. The first failure aborts the whole operation: a
// half-redirected legacy port silently drops traffic, so the owning
// unit must end up failed rather than active.
func (p *IPTablesProcessor) Install(bindings []api.PortBinding) error {
	for _, rule := range p.deriveRules(bindings) {
		chain, ok := p.chainFor(rule.ParentChain)
		if !ok {
			return &api.RuleInstallError{Rule: rule, Err: fmt.Errorf("no chain for parent %s", rule.ParentChain)}
		}

		if common.DryRun {
			klog.Infof("dry-run activated, not applying rule: %v in chain %s\n", p.ruleSpec(rule), chain.Name)
			continue
		}

		if err := p.ipt.AppendUnique(chain.Table, chain.Name, p.ruleSpec(rule)...); err != nil {
			klog.Errorf("failed appending rule '%v' in chain '%s': %v\n", rule, chain.Name, err)
			return &api.RuleInstallError{Rule: rule, Err: err}
		}

		rule.Applied = time.Now()
		p.applied[rule.Key()] = rule
		klog.Infof("redirect active: %s:%d => %d (%s)\n", strings.ToLower(rule.ParentChain), rule.MatchPort, rule.TargetPort, rule.Comment)
	}

	p.syncState()

	return nil
}

// Remove deletes every derived rule unconditionally. Individual
// failures (rule already gone, table modified externally) are logged
// and skipped so teardown always reaches a fully-removed state, even
// after a crash mid-install.
func (p *IPTablesProcessor) Remove(bindings []api.PortBinding) error {
	for _, rule := range p.deriveRules(bindings) {
		chain, ok := p.chainFor(rule.ParentChain)
		if !ok {
			klog.Warningf("no chain for parent %s, skipping rule %s\n", rule.ParentChain, rule.Key())
			continue
		}

		if common.DryRun {
			klog.Infof("dry-run activated, not deleting rule: %v in chain %s\n", p.ruleSpec(rule), chain.Name)
			continue
		}

		if err := p.ipt.DeleteIfExists(chain.Table, chain.Name, p.ruleSpec(rule)...); err != nil {
			remErr := &api.RuleRemoveError{Rule: rule, Err: err}
			klog.Warningf("%v\n", remErr)
		}

		delete(p.applied, rule.Key())
	}

	p.syncState()

	return nil
}

// Applied returns the rule inventory for status reporting.
func (p *IPTablesProcessor) Applied() []*api.RedirectRule {
	var rules []*api.RedirectRule
	for _, r := range p.applied {
		rules = append(rules, r)
	}
	return rules
}

func (p *IPTablesProcessor) fetchState() {
	var bytes []byte
	var err error

	if p.state == nil {
		p.applied = make(map[string]*api.RedirectRule)
		return
	}

	bytes, err = p.state.Get()
	if err != nil {
		klog.Warningf("could not read remote state: %v\n", err)
		goto empty
	}
	err = json.Unmarshal(bytes, &p.applied)
	if err != nil {
		klog.Warningf("state format malformed: %v\n%v\n", string(bytes), err)
		goto empty
	}
	return

empty:
	p.applied = make(map[string]*api.RedirectRule)
}

func (p *IPTablesProcessor) syncState() {
	if p.state == nil {
		return
	}
	err := p.state.Put(p.applied)
	if err != nil {
		klog.Warningf("could not sync to remote state: %v\n", err)
	}
}

func (p *IPTablesProcessor) init() error {
	p.chains = []api.IpTablesChain{
		{
			Name:         strings.ToUpper(fmt.Sprintf("%s_OUT", common.ResourcePrefix)),
			Table:        "nat",
			ParentChain:  "OUTPUT",
			RulePosition: common.ParseJumpPos(common.IptablesJump, 0),
		},
		{
			Name:         strings.ToUpper(fmt.Sprintf("%s_PRE", common.ResourcePrefix)),
			Table:        "nat",
			ParentChain:  "PREROUTING",
			RulePosition: common.ParseJumpPos(common.IptablesJump, 1),
		},
	}

	for _, chain := range p.chains {
		if common.DryRun {
			klog.Infof("dryRun mode enabled, not initializing iptables chain %s in table %s\n", chain.Name, chain.Table)
			continue
		}

		if err := ensureChain(p.ipt, chain); err != nil {
			return fmt.Errorf("initializing iptables chain %s in table %s failed with error %v", chain.Name, chain.Table, err)
		}

		if err := ensureJumpToChain(p.ipt, chain); err != nil {
			return fmt.Errorf("setup jumping into iptables chain %s in table %s failed with error %v", chain.Name, chain.Table, err)
		}
	}

	return nil
}

// NewIPTablesProcessor wires a processor against the given iptables
// handle, or the real one when nil. Init failure is returned rather
// than logged away, a unit must not report active on a broken setup.
func NewIPTablesProcessor(remoteState state.StateStore, ipt IPTablesInterface) (*IPTablesProcessor, error) {
	if ipt == nil {
		real, err := iptables.New()
		if err != nil {
			klog.Errorf("initializing of iptables failed: %v\n", err)
			return nil, err
		}
		ipt = real
	}

	proc := &IPTablesProcessor{
		ipt:   ipt,
		state: remoteState,
	}

	proc.fetchState()

	if err := proc.init(); err != nil {
		klog.Errorf("iptables basic setup failed: %v\n", err)
		return nil, err
	}

	return proc, nil
}
