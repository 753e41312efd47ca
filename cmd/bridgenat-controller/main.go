package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"k8s.io/klog/v2"

	"github.com/gutmensch/bridgenat-controller/internal/common"
	"github.com/gutmensch/bridgenat-controller/internal/deploy"
	"github.com/gutmensch/bridgenat-controller/internal/firewall"
	"github.com/gutmensch/bridgenat-controller/internal/http"
	"github.com/gutmensch/bridgenat-controller/internal/provision"
	"github.com/gutmensch/bridgenat-controller/internal/state"
)

var (
	fwProc  firewall.Processor
	fwExp   firewall.Exposer
	fwState state.StateStore
)

func init() {
	klog.InitFlags(nil)
	flag.IntVar(&common.HTTPPort, "httpPort", 8484, "http status service port number")
	flag.IntVar(&common.TelnetPort, "telnetPort", 6023, "actual port of the bridge telnet listener (legacy 23)")
	flag.IntVar(&common.WebPort, "webPort", 8080, "actual port of the bridge web listener (legacy 80)")
	flag.StringVar(&common.DataRoot, "dataRoot", "/var/lib/ra-bridge", "runtime directory holding config.toml and certs")
	flag.StringVar(&common.BridgeBinary, "bridgeBinary", "/usr/local/bin/ra-bridge", "path of the bridge binary")
	flag.StringVar(&common.ConsumerUnit, "consumerUnit", "consumer", "name of the downstream consumer unit")
	flag.BoolVar(&common.DryRun, "dryRun", false, "execute iptables commands or print only")
	flag.StringVar(&common.RestrictedPorts, "restrictedPorts", "22,53,6443", "restricted ports refused for redirect targets")
	flag.BoolVar(&common.RestrictedEnable, "restrictedEnable", false, "allow redirect targets on restricted ports")
	flag.StringVar(&common.FirewallFlavor, "firewallFlavor", "iptables", "firewall implementation to use for redirect setup")
	flag.StringVar(&common.IptablesJump, "iptablesJump", "-1,-1,-1", "rule pos for chain jump (OUTPUT,PREROUTING,INPUT)")
	flag.StringVar(&common.IncludeFilterNetworks, "inclFilterNet", "", "disable networks during address auto detection")
	flag.StringVar(&common.ExcludeFilterNetworks, "exclFilterNet", "", "enable networks during address auto detection (e.g. RFC1918)")
	flag.StringVar(&common.ResourcePrefix, "resourcePrefix", "bridgenat", "resource prefix used for firewall chains and comments")
	flag.StringVar(&common.NodeID, "nodeID", common.ShortHostName(common.GetEnv("HOSTNAME", "node")), "node identifier for the shared state store")
	flag.StringVar(&common.StateFlavor, "stateFlavor", "file", "state implementation to save applied rules")
	flag.StringVar(&common.StateURL, "stateURL", common.GetEnv("BRIDGENAT_STATE_URL", "http://bridgenat-state-store:80"), "webdav endpoint for the shared state store")
	flag.Parse()
}

func main() {
	bindings, err := common.BuildBindings(common.TelnetPort, common.WebPort)
	if err != nil {
		klog.Errorln(err)
		os.Exit(1)
	}

	cfg := deploy.Config{
		DataRoot:     common.DataRoot,
		BridgeBinary: common.BridgeBinary,
		ConsumerUnit: common.ConsumerUnit,
		Bindings:     bindings,
	}

	// directories must exist before any dependent unit starts
	if err := provision.EnsureAll(cfg.DirectorySpecs()); err != nil {
		klog.Errorln(err)
		os.Exit(1)
	}

	switch common.StateFlavor {
	case "webdav":
		fwState = state.NewWebDavState()
	default:
		fwState = state.NewFileState(common.DataRoot)
	}

	var ruleLister http.RuleLister
	switch common.FirewallFlavor {
	case "iptables":
		proc, err := firewall.NewIPTablesProcessor(fwState, nil)
		if err != nil {
			klog.Errorln(err)
			os.Exit(1)
		}
		exp, err := firewall.NewIPTablesExposer(nil)
		if err != nil {
			klog.Errorln(err)
			os.Exit(1)
		}
		fwProc, fwExp, ruleLister = proc, exp, proc
	default:
		dummy := firewall.NewDummyProcessor()
		fwProc, fwExp = dummy, dummy
	}

	sup, err := deploy.Graph(cfg, fwProc, fwExp, common.ExposedPorts(bindings))
	if err != nil {
		klog.Errorln(err)
		os.Exit(1)
	}

	httpServer := http.NewHTTPServer(sup, ruleLister)
	go httpServer.Run()

	if err := sup.StartAll(); err != nil {
		// failed units stay visible via unit status, keep serving it
		klog.Errorf("deployment startup incomplete: %v\n", err)
	} else {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	klog.Infof("received signal %s, tearing down\n", sig)

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	sup.StopAll()
}
