package provision

import (
	"fmt"
	"os"
	"os/user"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/gutmensch/bridgenat-controller/internal/api"
)

// Ensure converges one directory onto its spec: create it (with
// parents) when absent, correct mode and owner when they drifted,
// no-op when already compliant. Safe to run on every boot.
func Ensure(spec api.DirectorySpec) error {
	info, err := os.Stat(spec.Path)
	switch {
	case os.IsNotExist(err):
		klog.Infof("creating directory %s with mode %04o\n", spec.Path, spec.Mode)
		if err := os.MkdirAll(spec.Path, spec.Mode); err != nil {
			return &api.ProvisioningError{Path: spec.Path, Err: err}
		}
		// MkdirAll is umask-clamped, chmod to the exact mode
		if err := os.Chmod(spec.Path, spec.Mode); err != nil {
			return &api.ProvisioningError{Path: spec.Path, Err: err}
		}
	case err != nil:
		return &api.ProvisioningError{Path: spec.Path, Err: err}
	case !info.IsDir():
		return &api.ProvisioningError{Path: spec.Path, Err: fmt.Errorf("exists but is not a directory")}
	case info.Mode().Perm() != spec.Mode.Perm():
		klog.Infof("correcting mode of %s from %04o to %04o\n", spec.Path, info.Mode().Perm(), spec.Mode.Perm())
		if err := os.Chmod(spec.Path, spec.Mode); err != nil {
			return &api.ProvisioningError{Path: spec.Path, Err: err}
		}
	}

	if spec.Owner != "" {
		if err := chown(spec.Path, spec.Owner); err != nil {
			return &api.ProvisioningError{Path: spec.Path, Err: err}
		}
	}

	return nil
}

// EnsureAll converges all specs in order and stops at the first
// failure, dependent units must not start on a half-provisioned tree.
func EnsureAll(specs []api.DirectorySpec) error {
	for _, spec := range specs {
		if err := Ensure(spec); err != nil {
			return err
		}
	}
	return nil
}

func chown(path, owner string) error {
	u, err := user.Lookup(owner)
	if err != nil {
		return fmt.Errorf("unknown owner %s: %v", owner, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	return os.Chown(path, uid, gid)
}
