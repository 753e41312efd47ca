package api

import "fmt"

// ProvisioningError blocks all dependent startup.
type ProvisioningError struct {
	Path string
	Err  error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("provisioning directory %s failed: %v", e.Path, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// RuleInstallError aborts activation of the rule unit. A partially
// redirected legacy port would silently drop traffic, so install never
// continues past the first failed rule.
type RuleInstallError struct {
	Rule *RedirectRule
	Err  error
}

func (e *RuleInstallError) Error() string {
	return fmt.Sprintf("installing redirect rule %s failed: %v", e.Rule.Key(), e.Err)
}

func (e *RuleInstallError) Unwrap() error { return e.Err }

// RuleRemoveError is logged and swallowed during teardown, never fatal.
type RuleRemoveError struct {
	Rule *RedirectRule
	Err  error
}

func (e *RuleRemoveError) Error() string {
	return fmt.Sprintf("removing redirect rule %s failed: %v", e.Rule.Key(), e.Err)
}

func (e *RuleRemoveError) Unwrap() error { return e.Err }

// PortExposureError means a required inbound port could not be opened.
type PortExposureError struct {
	Port uint16
	Err  error
}

func (e *PortExposureError) Error() string {
	return fmt.Sprintf("exposing tcp port %d failed: %v", e.Port, e.Err)
}

func (e *PortExposureError) Unwrap() error { return e.Err }
