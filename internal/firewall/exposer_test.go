package firewall

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
)

func newTestExposer(t *testing.T, mock *IPTablesMock) *IPTablesExposer {
	t.Helper()
	exp, err := NewIPTablesExposer(mock)
	if err != nil {
		t.Fatalf("NewIPTablesExposer failed: %v", err)
	}
	return exp
}

func TestExposeOpensUnionOfLegacyAndActualPorts(t *testing.T) {
	mock := NewIPTablesMock()
	exp := newTestExposer(t, mock)

	ports := common.ExposedPorts(testBindings())
	want := []uint16{23, 80, 6023, 8080}
	if len(ports) != len(want) {
		t.Fatalf("exposed port set = %v, want %v", ports, want)
	}
	for i := range want {
		if ports[i] != want[i] {
			t.Fatalf("exposed port set = %v, want %v", ports, want)
		}
	}

	if err := exp.Expose(ports); err != nil {
		t.Fatalf("expose failed: %v", err)
	}

	rules := mock.Rules("filter", "BRIDGENAT_IN")
	if len(rules) != 4 {
		t.Fatalf("expected 4 ACCEPT rules, got %d", len(rules))
	}
	for i, port := range want {
		joined := strings.Join(rules[i], " ")
		if !strings.Contains(joined, fmt.Sprintf("--dport %d ", port)) || !strings.HasSuffix(joined, "-j ACCEPT") {
			t.Fatalf("rule %d does not accept tcp port %d: %s", i, port, joined)
		}
	}
}

func TestExposeIdempotent(t *testing.T) {
	mock := NewIPTablesMock()
	exp := newTestExposer(t, mock)

	ports := common.ExposedPorts(testBindings())
	if err := exp.Expose(ports); err != nil {
		t.Fatalf("first expose failed: %v", err)
	}
	if err := exp.Expose(ports); err != nil {
		t.Fatalf("second expose failed: %v", err)
	}

	if got := len(mock.Rules("filter", "BRIDGENAT_IN")); got != 4 {
		t.Fatalf("duplicate ACCEPT rules after re-expose: %d", got)
	}
}

func TestExposeFailFast(t *testing.T) {
	mock := NewIPTablesMock()
	exp := newTestExposer(t, mock)
	mock.FailAppendSubstr = "--dport 80 "

	err := exp.Expose(common.ExposedPorts(testBindings()))
	if err == nil {
		t.Fatal("expected expose to fail fatally")
	}

	var expErr *api.PortExposureError
	if !errors.As(err, &expErr) {
		t.Fatalf("expected PortExposureError, got %T: %v", err, err)
	}
	if expErr.Port != 80 {
		t.Fatalf("failing port = %d, want 80", expErr.Port)
	}
}

func TestUnexposeBestEffort(t *testing.T) {
	mock := NewIPTablesMock()
	exp := newTestExposer(t, mock)

	ports := common.ExposedPorts(testBindings())
	if err := exp.Expose(ports); err != nil {
		t.Fatalf("expose failed: %v", err)
	}

	mock.FailDeleteSubstr = "--dport 23 "
	if err := exp.Unexpose(ports); err != nil {
		t.Fatalf("unexpose must never fail fatally, got: %v", err)
	}

	if got := len(mock.Rules("filter", "BRIDGENAT_IN")); got != 1 {
		t.Fatalf("expected only the failing rule to remain, got %d", got)
	}
}
