package firewall

import (
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
	"k8s.io/klog/v2"

	"github.com/coreos/go-iptables/iptables"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
)

// IPTablesInterface is the subset of go-iptables we depend on, split
// out so tests can substitute a recording mock.
type IPTablesInterface interface {
	Proto() iptables.Protocol
	Exists(table string, chain string, rulespec ...string) (bool, error)
	Insert(table string, chain string, pos int, rulespec ...string) error
	Append(table string, chain string, rulespec ...string) error
	AppendUnique(table string, chain string, rulespec ...string) error
	Delete(table string, chain string, rulespec ...string) error
	DeleteIfExists(table string, chain string, rulespec ...string) error
	List(table string, chain string) ([]string, error)
	ListChains(table string) ([]string, error)
	ChainExists(table string, chain string) (bool, error)
	NewChain(table string, chain string) error
	ClearChain(table string, chain string) error
	DeleteChain(table string, chain string) error
}

func ensureChain(ipt IPTablesInterface, chain api.IpTablesChain) error {
	existingChains, err := ipt.ListChains(chain.Table)
	if err != nil {
		klog.Errorf("listing chains of table %s failed: %v\n", chain.Table, err)
		return err
	}
	if slices.Contains(existingChains, chain.Name) {
		return nil
	}
	err = ipt.NewChain(chain.Table, chain.Name)
	if err != nil {
		klog.Errorf("creating chain %s in table %s failed: %v\n", chain.Name, chain.Table, err)
		return err
	}
	return nil
}

func computeRulePosition(chain api.IpTablesChain, rules []string) int {
	defaultPosition := 1

	// policy is first entry in rules list, real rules start with 1
	entryCount := int16(len(rules)) - 1

	var pos int16
	switch {
	// 0 is not a valid number, iptables starts counting at 1
	case chain.RulePosition == 0:
		pos = int16(defaultPosition)
	// empty existing chain except policy, first rule starts with 1
	case entryCount == 0:
		pos = int16(defaultPosition)
	// insert from top of list down
	case chain.RulePosition > 0 && chain.RulePosition <= entryCount:
		pos = chain.RulePosition
	// insert from end of list up
	case chain.RulePosition < 0 && common.Abs(chain.RulePosition) <= entryCount:
		pos = entryCount + chain.RulePosition + 1
	// append cases
	case common.Abs(chain.RulePosition) > entryCount:
		pos = entryCount
	default:
		pos = int16(defaultPosition)
	}

	return int(pos)
}

func ensureJumpToChain(ipt IPTablesInterface, chain api.IpTablesChain) error {
	var err error

	ruleSpec := []string{
		"-m", "comment", "--comment", fmt.Sprintf("%s[jump_to_chain]", common.ResourcePrefix), "-j", chain.Name,
	}
	ruleSpecCmp := []string{
		"-A", chain.ParentChain, "-m", "comment", "--comment", fmt.Sprintf("\"%s[jump_to_chain]\"", common.ResourcePrefix), "-j", chain.Name,
	}

	rules, err := ipt.List(chain.Table, chain.ParentChain)
	if err != nil {
		return err
	}
	rulePosition := computeRulePosition(chain, rules)

	// algorithm
	// 1. list all rules in ipt default chain (ParentChain)
	// 2. if rule is not in list, insert at computed position and return
	// 3. if rule is in list, check slice index with computed position
	// 3a. if positions match return
	// 3b. if positions don't match: delete old rule, insert with position

	ruleInList := false
	ruleInListPosition := -1
	cmp := strings.Join(ruleSpecCmp, " ")
	for i, r := range rules {
		if r == cmp {
			ruleInList = true
			ruleInListPosition = i
			break
		}
	}

	// 2
	if !ruleInList {
		goto CREATE
	}

	// 3a
	if ruleInList && ruleInListPosition == rulePosition {
		return nil
	}

	// 3b
	klog.Infof("deleting jump rule %v in table %s at wrong position\n", ruleSpec, chain.Table)

	err = ipt.Delete(chain.Table, chain.ParentChain, ruleSpec...)
	if err != nil {
		klog.Errorf(
			"deleting existing rule %v in table %s at wrong position %d failed: %v\n",
			ruleSpec,
			chain.Table,
			ruleInListPosition,
			err,
		)
		return err
	}

CREATE:
	klog.Infof("adding jump rule %v in table %s at position %d\n", ruleSpec, chain.Table, rulePosition)
	err = ipt.Insert(chain.Table, chain.ParentChain, rulePosition, ruleSpec...)
	if err != nil {
		return err
	}

	return nil
}
