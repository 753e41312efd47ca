/*
  no-op template for a firewall processor
  use this as example for nftables, etc.
*/

package firewall

import (
	"k8s.io/klog/v2"

	"github.com/gutmensch/bridgenat-controller/internal/api"
	"github.com/gutmensch/bridgenat-controller/internal/common"
)

type DummyProcessor struct{}

func NewDummyProcessor() *DummyProcessor {
	klog.Warningf("firewall flavor '%s' not implemented, please use a supported firewall", common.FirewallFlavor)
	return &DummyProcessor{}
}

func (p *DummyProcessor) Install(bindings []api.PortBinding) error {
	klog.Warningf("firewall flavor '%s' not implemented, not installing redirects", common.FirewallFlavor)
	return nil
}

func (p *DummyProcessor) Remove(bindings []api.PortBinding) error {
	klog.Warningf("firewall flavor '%s' not implemented, not removing redirects", common.FirewallFlavor)
	return nil
}

func (p *DummyProcessor) Expose(ports []uint16) error {
	klog.Warningf("firewall flavor '%s' not implemented, not exposing ports", common.FirewallFlavor)
	return nil
}

func (p *DummyProcessor) Unexpose(ports []uint16) error {
	klog.Warningf("firewall flavor '%s' not implemented, not closing ports", common.FirewallFlavor)
	return nil
}
