package client

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config identifies the traced service and locates the collaborators the
// forwarder talks to. Env is optional; when empty it is omitted from every
// encoded record.
type Config struct {
	Service   string `envconfig:"KESTREL_SERVICE" required:"true"`
	Env       string `envconfig:"KESTREL_ENV" default:""`
	AgentHost string `envconfig:"KESTREL_AGENT_HOST" default:"localhost"`
	AgentPort string `envconfig:"KESTREL_AGENT_PORT" default:"8126"`
	Archive   bool   `envconfig:"KESTREL_ARCHIVE" default:"false"`
}

// LoadConfig reads the configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// AgentAddress is the host:port of the tracing agent's HTTP endpoint.
func (c *Config) AgentAddress() string {
	return c.AgentHost + ":" + c.AgentPort
}
