package supervisor

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/gutmensch/bridgenat-controller/internal/api"
)

const stopTimeout = 10 * time.Second

// Hooks carry the activation and teardown logic of oneshot units
// (port exposure, redirect rule install/remove). Stop failures are
// logged and never block the stop sequence.
type Hooks struct {
	Start func() error
	Stop  func() error
}

type Unit struct {
	Node  api.ServiceNode
	Hooks Hooks

	state    api.UnitState
	cmd      *exec.Cmd
	done     chan struct{}
	timer    *time.Timer
	restarts int
}

// Supervisor drives the deployment graph: ordered start, reverse
// ordered stop, PartOf cascade on stop/restart, fixed-delay restart
// of failed processes. All transitions run synchronously under one
// lock, only process exit monitoring is asynchronous.
type Supervisor struct {
	mu    sync.Mutex
	units map[string]*Unit
	names []string
	order []string
}

func New() *Supervisor {
	return &Supervisor{
		units: make(map[string]*Unit),
	}
}

func (s *Supervisor) Add(node api.ServiceNode, hooks Hooks) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.units[node.Name]; exists {
		return errors.New(fmt.Sprintf("duplicate unit %s", node.Name))
	}
	s.units[node.Name] = &Unit{
		Node:  node,
		Hooks: hooks,
		state: api.UnitPending,
	}
	s.names = append(s.names, node.Name)
	return nil
}

// Validate checks edge references and rejects ordering cycles. Must
// be called after the last Add and before any lifecycle transition.
func (s *Supervisor) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validate()
}

func (s *Supervisor) Order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

func (s *Supervisor) State(name string) api.UnitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit, ok := s.units[name]; ok {
		return unit.state
	}
	return ""
}

func (s *Supervisor) States() map[string]api.UnitState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]api.UnitState, len(s.units))
	for name, unit := range s.units {
		out[name] = unit.state
	}
	return out
}

func (s *Supervisor) Restarts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if unit, ok := s.units[name]; ok {
		return unit.restarts
	}
	return 0
}

// StartAll brings the whole graph up in topological order and stops
// at the first fatal activation error, leaving later units pending.
func (s *Supervisor) StartAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		if err := s.start(name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll tears the graph down in reverse start order. Teardown
// errors never abort the sequence.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		s.stop(s.order[i])
	}
}

func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[name]; !ok {
		return errors.New(fmt.Sprintf("unknown unit %s", name))
	}
	return s.start(name)
}

func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[name]; !ok {
		return errors.New(fmt.Sprintf("unknown unit %s", name))
	}
	s.stop(name)
	return nil
}

// Restart bounces a unit together with its PartOf dependents: the
// cascade set is stopped in reverse order, the unit restarted, then
// the dependents reactivated. Restarting the firewall unit this way
// tears down and reinstalls the redirect rules without anyone
// touching the rule unit directly.
func (s *Supervisor) Restart(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.units[name]; !ok {
		return errors.New(fmt.Sprintf("unknown unit %s", name))
	}

	cascade := s.cascadeSet(name)
	for i := len(cascade) - 1; i >= 0; i-- {
		s.stopSingle(cascade[i])
	}
	s.stopSingle(name)

	if err := s.start(name); err != nil {
		return err
	}
	for _, dep := range cascade {
		if err := s.start(dep); err != nil {
			return err
		}
	}
	return nil
}

// start requires every `after` reference to be active, pulls in
// `wants` references best-effort, then activates the unit.
func (s *Supervisor) start(name string) error {
	unit := s.units[name]

	if unit.state == api.UnitActive {
		return nil
	}

	for _, dep := range unit.Node.After {
		if s.units[dep].state != api.UnitActive {
			return errors.New(
				fmt.Sprintf("unit %s ordered after %s which is %s, not active", name, dep, s.units[dep].state),
			)
		}
	}

	for _, dep := range unit.Node.Wants {
		if s.units[dep].state == api.UnitPending || s.units[dep].state == api.UnitInactive {
			if err := s.start(dep); err != nil {
				klog.Warningf("wanted unit %s of %s failed to start: %v\n", dep, name, err)
			}
		}
	}

	switch unit.Node.Kind {
	case api.KindExternal:
		unit.state = api.UnitActive
		return nil
	case api.KindOneshot:
		if unit.Hooks.Start != nil {
			if err := unit.Hooks.Start(); err != nil {
				unit.state = api.UnitFailed
				klog.Errorf("oneshot unit %s failed: %v\n", name, err)
				return err
			}
		}
		// active without a running process until explicit stop,
		// restart or PartOf cascade
		unit.state = api.UnitActive
		klog.Infof("unit %s active\n", name)
		return nil
	case api.KindProcess:
		return s.startProcess(unit)
	}

	return errors.New(fmt.Sprintf("unit %s has unknown kind %s", name, unit.Node.Kind))
}

func (s *Supervisor) startProcess(unit *Unit) error {
	if len(unit.Node.StartCommand) == 0 {
		unit.state = api.UnitFailed
		return errors.New(fmt.Sprintf("process unit %s has no start command", unit.Node.Name))
	}

	cmd := exec.Command(unit.Node.StartCommand[0], unit.Node.StartCommand[1:]...)
	if err := cmd.Start(); err != nil {
		unit.state = api.UnitFailed
		klog.Errorf("starting process unit %s failed: %v\n", unit.Node.Name, err)
		return err
	}

	unit.cmd = cmd
	unit.done = make(chan struct{})
	unit.state = api.UnitActive
	klog.Infof("unit %s active (pid %d)\n", unit.Node.Name, cmd.Process.Pid)

	go s.monitor(unit, cmd, unit.done)
	return nil
}

// monitor watches one process run and applies the restart policy on
// abnormal exit: exactly one restart scheduled no sooner than the
// configured delay, repeated indefinitely on each failure.
func (s *Supervisor) monitor(unit *Unit, cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	defer s.mu.Unlock()

	// stop was requested, state transition handled there
	if unit.state == api.UnitStopping || unit.cmd != cmd {
		return
	}

	if err == nil {
		klog.Infof("process unit %s exited cleanly\n", unit.Node.Name)
		unit.state = api.UnitInactive
		return
	}

	if unit.Node.Restart.Kind != api.RestartOnFailure {
		klog.Errorf("process unit %s failed with no restart policy: %v\n", unit.Node.Name, err)
		unit.state = api.UnitFailed
		return
	}

	klog.Warningf("process unit %s failed (%v), restarting in %s\n", unit.Node.Name, err, unit.Node.Restart.Delay)
	unit.state = api.UnitPending
	unit.timer = time.AfterFunc(unit.Node.Restart.Delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if unit.state != api.UnitPending {
			return
		}
		unit.restarts++
		if err := s.startProcess(unit); err != nil {
			klog.Errorf("restarting process unit %s failed: %v\n", unit.Node.Name, err)
		}
	})
}

// stop tears down the PartOf cascade set first (reverse order), then
// the unit itself.
func (s *Supervisor) stop(name string) {
	cascade := s.cascadeSet(name)
	for i := len(cascade) - 1; i >= 0; i-- {
		s.stopSingle(cascade[i])
	}
	s.stopSingle(name)
}

func (s *Supervisor) stopSingle(name string) {
	unit := s.units[name]

	if unit.state == api.UnitInactive || unit.state == api.UnitPending {
		if unit.timer != nil {
			unit.timer.Stop()
			unit.timer = nil
		}
		unit.state = api.UnitInactive
		return
	}
	if unit.state == api.UnitFailed {
		return
	}

	unit.state = api.UnitStopping

	switch unit.Node.Kind {
	case api.KindExternal:
	case api.KindOneshot:
		if unit.Hooks.Stop != nil {
			// teardown failures are logged, never block the stop
			if err := unit.Hooks.Stop(); err != nil {
				klog.Warningf("teardown hook of unit %s failed: %v\n", name, err)
			}
		}
	case api.KindProcess:
		s.stopProcess(unit)
	}

	unit.state = api.UnitInactive
	klog.Infof("unit %s inactive\n", name)
}

func (s *Supervisor) stopProcess(unit *Unit) {
	if unit.cmd == nil || unit.cmd.Process == nil {
		return
	}

	done := unit.done
	if err := unit.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		klog.Warningf("signaling process unit %s failed: %v\n", unit.Node.Name, err)
	}

	// release the lock while waiting so the monitor goroutine can
	// observe the exit
	s.mu.Unlock()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		klog.Warningf("process unit %s did not stop in %s, killing\n", unit.Node.Name, stopTimeout)
		_ = unit.cmd.Process.Kill()
		<-done
	}
	s.mu.Lock()

	unit.cmd = nil
}
