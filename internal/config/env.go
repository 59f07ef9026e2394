package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable names.
const (
	EnvHome             = "MWCBRIDGE_HOME"
	EnvChain            = "MWCBRIDGE_CHAIN"
	EnvNodeURL          = "MWCBRIDGE_NODE_URL"
	EnvNodeAPISecret    = "MWCBRIDGE_NODE_API_SECRET" // #nosec G101 -- false positive, this is a const name not a credential
	EnvRelayURL         = "MWCBRIDGE_RELAY_URL"
	EnvRelayDomain      = "MWCBRIDGE_RELAY_DOMAIN"
	EnvMinConfirmations = "MWCBRIDGE_MIN_CONFIRMATIONS"
	EnvOutputFormat     = "MWCBRIDGE_OUTPUT_FORMAT"
	EnvVerbose          = "MWCBRIDGE_VERBOSE"
	EnvLogLevel         = "MWCBRIDGE_LOG_LEVEL"
	EnvPassword         = "MWCBRIDGE_PASSWORD" // #nosec G101 -- false positive, this is a const name not a credential
)

// ApplyEnvironment applies environment variable overrides to the configuration.
func ApplyEnvironment(cfg *Config) {
	if v := os.Getenv(EnvHome); v != "" {
		cfg.Home = v
	}
	if v := os.Getenv(EnvChain); v != "" {
		cfg.Chain = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv(EnvNodeURL); v != "" {
		cfg.Node.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvNodeAPISecret); v != "" {
		cfg.Node.APISecret = v
	}
	if v := os.Getenv(EnvRelayURL); v != "" {
		cfg.Relay.URL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvRelayDomain); v != "" {
		cfg.Relay.Domain = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvMinConfirmations); v != "" {
		if n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			cfg.Wallet.MinConfirmations = n
		}
	}
	if v := os.Getenv(EnvOutputFormat); v != "" {
		cfg.Output.DefaultFormat = strings.ToLower(v)
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		cfg.Output.Verbose = parseBool(v)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// parseBool parses a boolean string value.
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "1" || s == "true" || s == "yes" || s == "on" {
		return true
	}
	b, _ := strconv.ParseBool(s)
	return b
}
