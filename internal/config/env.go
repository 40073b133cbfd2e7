package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides are the settings that may come from the environment. Set
// variables win over the file.
type envOverrides struct {
	SQLAddr string `env:"COZMONAUT_SQL_ADDR"`
	SQLUser string `env:"COZMONAUT_SQL_USER"`
	SQLPass string `env:"COZMONAUT_SQL_PASS"`
	SQLData string `env:"COZMONAUT_SQL_DATA"`
	Listen  string `env:"COZMONAUT_LISTEN"`
	LogFile string `env:"COZMONAUT_LOG_FILE"`
}

// ApplyEnv overlays the COZMONAUT_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	setIf(&c.SQL.Addr, o.SQLAddr)
	setIf(&c.SQL.User, o.SQLUser)
	setIf(&c.SQL.Pass, o.SQLPass)
	setIf(&c.SQL.Data, o.SQLData)
	if o.Listen != "" {
		c.Listen = &o.Listen
	}
	if o.LogFile != "" {
		c.LogFile = &o.LogFile
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
