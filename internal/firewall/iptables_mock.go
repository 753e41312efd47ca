package firewall

import (
	"fmt"
	"strings"

	"github.com/coreos/go-iptables/iptables"
)

// IPTablesMock keeps per-table chain contents in memory so tests can
// assert idempotence and reversibility without touching the host.
// Builtin chains are pre-seeded with an ACCEPT policy entry like
// iptables -S prints it.
type IPTablesMock struct {
	tables map[string]map[string]*mockChain

	// substring matches against the joined rulespec to inject errors
	FailAppendSubstr string
	FailDeleteSubstr string

	// Ops records mutating calls in order for assertions
	Ops []string
}

type mockChain struct {
	builtin bool
	rules   [][]string
}

func NewIPTablesMock() *IPTablesMock {
	m := &IPTablesMock{
		tables: map[string]map[string]*mockChain{
			"nat": {
				"OUTPUT":      {builtin: true},
				"PREROUTING":  {builtin: true},
				"POSTROUTING": {builtin: true},
			},
			"filter": {
				"INPUT":   {builtin: true},
				"FORWARD": {builtin: true},
				"OUTPUT":  {builtin: true},
			},
		},
	}
	return m
}

func (m *IPTablesMock) chain(table, chain string) (*mockChain, error) {
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("no such table %s", table)
	}
	c, ok := t[chain]
	if !ok {
		return nil, fmt.Errorf("no such chain %s in table %s", chain, table)
	}
	return c, nil
}

// render formats one rulespec the way iptables -S echoes it back,
// comment argument quoted.
func render(chain string, spec []string) string {
	out := []string{"-A", chain}
	quoteNext := false
	for _, tok := range spec {
		if quoteNext {
			out = append(out, fmt.Sprintf("%q", tok))
			quoteNext = false
			continue
		}
		if tok == "--comment" {
			quoteNext = true
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

func specsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (m *IPTablesMock) Proto() iptables.Protocol { return iptables.ProtocolIPv4 }

func (m *IPTablesMock) Exists(table string, chain string, rulespec ...string) (bool, error) {
	c, err := m.chain(table, chain)
	if err != nil {
		return false, err
	}
	for _, r := range c.rules {
		if specsEqual(r, rulespec) {
			return true, nil
		}
	}
	return false, nil
}

func (m *IPTablesMock) Insert(table string, chain string, pos int, rulespec ...string) error {
	c, err := m.chain(table, chain)
	if err != nil {
		return err
	}
	if pos < 1 || pos > len(c.rules)+1 {
		return fmt.Errorf("invalid position %d", pos)
	}
	idx := pos - 1
	c.rules = append(c.rules[:idx], append([][]string{rulespec}, c.rules[idx:]...)...)
	return nil
}

func (m *IPTablesMock) Append(table string, chain string, rulespec ...string) error {
	if m.FailAppendSubstr != "" && strings.Contains(strings.Join(rulespec, " "), m.FailAppendSubstr) {
		return fmt.Errorf("injected append failure for %v", rulespec)
	}
	c, err := m.chain(table, chain)
	if err != nil {
		return err
	}
	c.rules = append(c.rules, rulespec)
	m.Ops = append(m.Ops, fmt.Sprintf("append %s %s %s", table, chain, strings.Join(rulespec, " ")))
	return nil
}

func (m *IPTablesMock) AppendUnique(table string, chain string, rulespec ...string) error {
	exists, err := m.Exists(table, chain, rulespec...)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return m.Append(table, chain, rulespec...)
}

func (m *IPTablesMock) Delete(table string, chain string, rulespec ...string) error {
	if m.FailDeleteSubstr != "" && strings.Contains(strings.Join(rulespec, " "), m.FailDeleteSubstr) {
		return fmt.Errorf("injected delete failure for %v", rulespec)
	}
	c, err := m.chain(table, chain)
	if err != nil {
		return err
	}
	for i, r := range c.rules {
		if specsEqual(r, rulespec) {
			c.rules = append(c.rules[:i], c.rules[i+1:]...)
			m.Ops = append(m.Ops, fmt.Sprintf("delete %s %s %s", table, chain, strings.Join(rulespec, " ")))
			return nil
		}
	}
	return fmt.Errorf("no such rule %v in chain %s", rulespec, chain)
}

func (m *IPTablesMock) DeleteIfExists(table string, chain string, rulespec ...string) error {
	if m.FailDeleteSubstr != "" && strings.Contains(strings.Join(rulespec, " "), m.FailDeleteSubstr) {
		return fmt.Errorf("injected delete failure for %v", rulespec)
	}
	exists, err := m.Exists(table, chain, rulespec...)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	return m.Delete(table, chain, rulespec...)
}

func (m *IPTablesMock) List(table string, chain string) ([]string, error) {
	c, err := m.chain(table, chain)
	if err != nil {
		return nil, err
	}
	var out []string
	if c.builtin {
		out = append(out, fmt.Sprintf("-P %s ACCEPT", chain))
	} else {
		out = append(out, fmt.Sprintf("-N %s", chain))
	}
	for _, r := range c.rules {
		out = append(out, render(chain, r))
	}
	return out, nil
}

func (m *IPTablesMock) ListChains(table string) ([]string, error) {
	t, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("no such table %s", table)
	}
	var chains []string
	for name := range t {
		chains = append(chains, name)
	}
	return chains, nil
}

func (m *IPTablesMock) ChainExists(table string, chain string) (bool, error) {
	t, ok := m.tables[table]
	if !ok {
		return false, fmt.Errorf("no such table %s", table)
	}
	_, ok = t[chain]
	return ok, nil
}

func (m *IPTablesMock) NewChain(table string, chain string) error {
	t, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("no such table %s", table)
	}
	if _, exists := t[chain]; exists {
		return fmt.Errorf("chain %s already exists in table %s", chain, table)
	}
	t[chain] = &mockChain{}
	return nil
}

func (m *IPTablesMock) ClearChain(table string, chain string) error {
	c, err := m.chain(table, chain)
	if err != nil {
		return err
	}
	c.rules = nil
	return nil
}

func (m *IPTablesMock) DeleteChain(table string, chain string) error {
	t, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("no such table %s", table)
	}
	delete(t, chain)
	return nil
}

// Rules returns the chain contents for assertions, policy excluded.
func (m *IPTablesMock) Rules(table string, chain string) [][]string {
	c, err := m.chain(table, chain)
	if err != nil {
		return nil
	}
	return c.rules
}
