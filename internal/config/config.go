// Package config resolves the relay configuration from the environment.
package config

import "github.com/kelseyhightower/envconfig"

type Config struct {
	// Address the HTTP server listens on.
	Addr string `envconfig:"ADDR" default:":3503"`
	// AMQP broker URL for the event mirror.  Empty disables the mirror.
	AMQPURL string `envconfig:"AMQP_URL"`
	// Maximum number of live message-ownership records.  0 means unbounded.
	LedgerCap int `envconfig:"LEDGER_CAP" default:"4096"`
	// Maximum message size allowed from a peer, in bytes.
	MaxMessageSize int64 `envconfig:"MAX_MESSAGE_SIZE" default:"1024"`
}

// Load reads the configuration from the environment, applying defaults for
// unset variables.
func Load() (Config, error) {
	var c Config
	err := envconfig.Process("", &c)
	return c, err
}
