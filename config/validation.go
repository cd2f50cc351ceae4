package config

import (
	"fmt"
)

func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Solana.Validate(); err != nil {
		return fmt.Errorf("solana config: %w", err)
	}
	if err := c.Fees.Validate(); err != nil {
		return fmt.Errorf("fees config: %w", err)
	}
	if err := c.Sweep.Validate(); err != nil {
		return fmt.Errorf("sweep config: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.DBName == "" {
		return fmt.Errorf("database name is required")
	}
	return nil
}

func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port is required")
	}
	return nil
}

func (c *SolanaConfig) Validate() error {
	if c.Treasury == "" {
		return fmt.Errorf("treasury address is required")
	}
	return nil
}

func (c *FeeConfig) Validate() error {
	if c.Floor < 0 {
		return fmt.Errorf("floor must not be negative")
	}
	if c.Ceiling < c.Floor {
		return fmt.Errorf("ceiling must not be below floor")
	}
	return nil
}

func (c *SweepConfig) Validate() error {
	if c.AbandonTimeout < c.VerifyTimeout {
		return fmt.Errorf("abandon timeout must not be shorter than verify timeout")
	}
	return nil
}
