package config

const (
	// DefaultNodeURL is the local node foreign API.
	DefaultNodeURL = "http://127.0.0.1:3413/v2/foreign"

	// DefaultRelayURL is the public MQS relay.
	DefaultRelayURL = "wss://mqs.mwc.mw/listener"

	// DefaultRelayDomain is appended to relay addresses.
	DefaultRelayDomain = "mqs.mwc.mw"

	// DefaultBaseFee is the fee per weight unit in nanoMWC.
	DefaultBaseFee = 1_000_000
)

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Version: 1,
		Home:    "~/.mwcbridge",
		Chain:   ChainMainnet,
		Node: NodeConfig{
			URL:               DefaultNodeURL,
			TimeoutSeconds:    30,
			RequestsPerSecond: 10,
			Burst:             5,
			RetryAttempts:     4,
		},
		Relay: RelayConfig{
			URL:      DefaultRelayURL,
			Domain:   DefaultRelayDomain,
			KeyIndex: 0,
		},
		Wallet: WalletConfig{
			MinConfirmations:  10,
			SelectionStrategy: "smallest",
			TieBreak:          "age",
			BaseFee:           DefaultBaseFee,
			CoinbaseMaturity:  1440,
			ScanBatchSize:     1000,
			ScryptWorkFactor:  18,
		},
		Output: OutputConfig{
			DefaultFormat: "auto",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "~/.mwcbridge/mwcbridge.log",
		},
	}
}
