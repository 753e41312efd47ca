package common

var (
	DryRun                bool
	ResourcePrefix        string
	HTTPPort              int
	TelnetPort            int
	WebPort               int
	DataRoot              string
	BridgeBinary          string
	ConsumerUnit          string
	RestrictedPorts       string
	RestrictedEnable      bool
	FirewallFlavor        string
	IptablesJump          string
	IncludeFilterNetworks string
	ExcludeFilterNetworks string
	NodeID                string
	StateFlavor           string
	StateURL              string
)
