package api

import (
	"fmt"
	"io/fs"
	"time"
)

// PortRole names one of the two listeners the bridge binary exposes.
type PortRole string

const (
	RoleTelnet PortRole = "telnet"
	RoleWeb    PortRole = "web"
)

// PortBinding maps a well-known legacy port to the unprivileged port
// the bridge process actually listens on. Bindings are fixed at
// deployment time, one per role.
type PortBinding struct {
	Role       PortRole `json:"role"`
	LegacyPort uint16   `json:"legacyPort"`
	ActualPort uint16   `json:"actualPort"`
	Protocol   string   `json:"proto"`
}

// RedirectRule is one NAT redirect derived from a PortBinding. Two
// rules exist per binding, one per parent chain. Identity is
// (parent chain, protocol, match port), the target port is payload.
type RedirectRule struct {
	ParentChain string    `json:"ParentChain"`
	Protocol    string    `json:"Protocol"`
	MatchPort   uint16    `json:"MatchPort"`
	TargetPort  uint16    `json:"TargetPort"`
	Comment     string    `json:"Comment"`
	Applied     time.Time `json:"Applied"`
}

func (r *RedirectRule) Key() string {
	return fmt.Sprintf("%s/%s:%d", r.ParentChain, r.Protocol, r.MatchPort)
}

type IpTablesChain struct {
	Name         string
	Table        string
	ParentChain  string
	RulePosition int16
}

// DirectorySpec describes a runtime directory that must exist before
// dependent units start. Owner is skipped when empty.
type DirectorySpec struct {
	Path  string
	Mode  fs.FileMode
	Owner string
}

type UnitState string

const (
	UnitPending  UnitState = "pending"
	UnitActive   UnitState = "active"
	UnitStopping UnitState = "stopping"
	UnitInactive UnitState = "inactive"
	UnitFailed   UnitState = "failed"
)

type UnitKind string

const (
	// KindOneshot runs an activation hook once and is active
	// afterwards without a running process.
	KindOneshot UnitKind = "oneshot"
	// KindProcess is a long-running child process.
	KindProcess UnitKind = "process"
	// KindExternal is a unit we order against but do not manage
	// (systemd targets, the downstream consumer).
	KindExternal UnitKind = "external"
)

type RestartKind string

const (
	RestartNever     RestartKind = "none"
	RestartOnFailure RestartKind = "on-failure"
)

type RestartPolicy struct {
	Kind  RestartKind
	Delay time.Duration
}

// ServiceNode is one vertex of the deployment graph. After edges gate
// start ordering only, PartOf additionally cascades stop/restart from
// the referenced unit. Wants records soft activation dependencies.
type ServiceNode struct {
	Name         string
	Kind         UnitKind
	StartCommand []string
	After        []string
	Wants        []string
	PartOf       string
	Restart      RestartPolicy
}
