// internal/decisionservice/config.go
package decisionservice

import (
	"strings"
	"time"

	"loanops-console/internal/common/config"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func LoadConfig(cfg config.DecisionServiceConfig) *Config {
	c := &Config{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Timeout: cfg.RequestTimeout(),
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}
