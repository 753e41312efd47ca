package common

import (
	"reflect"
	"testing"

	"github.com/gutmensch/bridgenat-controller/internal/api"
)

func TestBuildBindingsDefaults(t *testing.T) {
	expectedOutput := []api.PortBinding{
		{Role: api.RoleTelnet, LegacyPort: 23, ActualPort: 6023, Protocol: "tcp"},
		{Role: api.RoleWeb, LegacyPort: 80, ActualPort: 8080, Protocol: "tcp"},
	}

	out, err := BuildBindings(6023, 8080)
	if err != nil {
		t.Fatal("Failure message", err)
	}

	if !reflect.DeepEqual(expectedOutput, out) {
		t.Fatal("Actual output does not match expected output")
	}
}

func TestBuildBindingsRejectsPrivilegedActualPort(t *testing.T) {
	if _, err := BuildBindings(1023, 8080); err == nil {
		t.Fatal("expected error for privileged actual port")
	}
}

func TestBuildBindingsRejectsLegacyCollision(t *testing.T) {
	// actualPort == legacyPort is caught by the unprivileged check
	// already, port 0 by its own check
	if _, err := BuildBindings(0, 8080); err == nil {
		t.Fatal("expected error for port 0")
	}
	if _, err := BuildBindings(6023, 80); err == nil {
		t.Fatal("expected error for actual port equal to legacy port")
	}
}

func TestBuildBindingsRestrictedPorts(t *testing.T) {
	RestrictedPorts = "22,53,6443"
	RestrictedEnable = false
	if _, err := BuildBindings(6443, 8080); err == nil {
		t.Fatal("expected error for restricted actual port")
	}

	RestrictedEnable = true
	if _, err := BuildBindings(6443, 8080); err != nil {
		t.Fatalf("restricted override not honored: %v", err)
	}
	RestrictedEnable = false
}

func TestExposedPortsUnion(t *testing.T) {
	bindings, err := BuildBindings(6023, 8080)
	if err != nil {
		t.Fatal("Failure message", err)
	}

	expectedOutput := []uint16{23, 80, 6023, 8080}
	out := ExposedPorts(bindings)

	if !reflect.DeepEqual(expectedOutput, out) {
		t.Fatalf("exposed ports = %v, want %v", out, expectedOutput)
	}
}
