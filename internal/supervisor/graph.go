package supervisor

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"
)

// topoOrder computes a deterministic start order over the `after`
// edges (Kahn, insertion order tie-break) and rejects cycles. Every
// valid schedule starts a unit only after everything it is ordered
// `after` is active, stop order is the reverse.
func (s *Supervisor) topoOrder() ([]string, error) {
	indegree := map[string]int{}
	dependents := map[string][]string{}

	for _, name := range s.names {
		unit := s.units[name]
		for _, dep := range unit.Node.After {
			if _, ok := s.units[dep]; !ok {
				return nil, errors.New(fmt.Sprintf("unit %s ordered after unknown unit %s", name, dep))
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var order []string
	for len(order) < len(s.names) {
		progressed := false
		for _, name := range s.names {
			if indegree[name] > 0 || slices.Contains(order, name) {
				continue
			}
			order = append(order, name)
			for _, dep := range dependents[name] {
				indegree[dep]--
			}
			progressed = true
		}
		if !progressed {
			return nil, errors.New("ordering edges contain a cycle")
		}
	}

	return order, nil
}

// cascadeSet returns every unit bound to name via PartOf, transitively,
// in start order. These follow the parent through stop and restart
// even when nothing requested their own transition.
func (s *Supervisor) cascadeSet(name string) []string {
	var set []string
	var walk func(parent string)
	walk = func(parent string) {
		for _, n := range s.order {
			if s.units[n].Node.PartOf == parent {
				if slices.Contains(set, n) {
					continue
				}
				set = append(set, n)
				walk(n)
			}
		}
	}
	walk(name)

	slices.SortFunc(set, func(a, b string) bool {
		return slices.Index(s.order, a) < slices.Index(s.order, b)
	})
	return set
}

func (s *Supervisor) validate() error {
	for _, name := range s.names {
		unit := s.units[name]
		for _, dep := range unit.Node.Wants {
			if _, ok := s.units[dep]; !ok {
				return errors.New(fmt.Sprintf("unit %s wants unknown unit %s", name, dep))
			}
		}
		if unit.Node.PartOf != "" {
			if _, ok := s.units[unit.Node.PartOf]; !ok {
				return errors.New(fmt.Sprintf("unit %s part of unknown unit %s", name, unit.Node.PartOf))
			}
		}
	}

	order, err := s.topoOrder()
	if err != nil {
		return err
	}
	s.order = order
	return nil
}
