package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

type Config struct {
	Environment string         `json:"environment"`
	Server      ServerConfig   `json:"server"`
	Database    DatabaseConfig `json:"database"`
	Redis       RedisConfig    `json:"redis"`
	Solana      SolanaConfig   `json:"solana"`
	Oracle      OracleConfig   `json:"oracle"`
	Fees        FeeConfig      `json:"fees"`
	Mint        MintConfig     `json:"mint"`
	Sweep       SweepConfig    `json:"sweep"`
}

type ServerConfig struct {
	Port           string        `json:"port"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	IdleTimeout    time.Duration `json:"idle_timeout"`
	MaxHeaderBytes int           `json:"max_header_bytes"`
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	TTL      time.Duration `json:"ttl"`
}

type SolanaConfig struct {
	RPCURL   string `json:"rpc_url"`
	Treasury string `json:"treasury"`
}

type OracleConfig struct {
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout"`
	// FallbackRate is the USD price of one native unit used when the feed
	// and the last-known rate are both unavailable.
	FallbackRate float64 `json:"fallback_rate"`
}

type FeeConfig struct {
	// Floor and Ceiling bound the converted per-item fee, in lamports.
	Floor   int64 `json:"floor"`
	Ceiling int64 `json:"ceiling"`
}

type MintConfig struct {
	MaxBatch int `json:"max_batch"`
}

type SweepConfig struct {
	Interval       time.Duration `json:"interval"`
	VerifyTimeout  time.Duration `json:"verify_timeout"`
	AbandonTimeout time.Duration `json:"abandon_timeout"`
	BatchSize      int           `json:"batch_size"`
}

func LoadConfig() (*Config, error) {
	config := &Config{}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	config.Environment = env

	configDir, err := filepath.Abs("config")
	if err != nil {
		return nil, err
	}
	configPath := filepath.Join(configDir, "config.json")

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	config.loadFromEnv()
	config.setDefaults()

	return config, nil
}

func (c *Config) loadFromEnv() {
	if host := os.Getenv("DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Database.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		c.Database.SSLMode = sslmode
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		c.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Redis.Port = p
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		c.Redis.Password = password
	}

	if rpcURL := os.Getenv("SOLANA_RPC_URL"); rpcURL != "" {
		c.Solana.RPCURL = rpcURL
	}
	if treasury := os.Getenv("SOLANA_TREASURY"); treasury != "" {
		c.Solana.Treasury = treasury
	}

	if endpoint := os.Getenv("ORACLE_ENDPOINT"); endpoint != "" {
		c.Oracle.Endpoint = endpoint
	}

	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = 1 << 20
	}

	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		if c.Environment == "production" {
			c.Database.SSLMode = "require"
		} else {
			c.Database.SSLMode = "disable"
		}
	}

	if c.Redis.TTL == 0 {
		c.Redis.TTL = 30 * time.Second
	}

	if c.Oracle.Timeout == 0 {
		c.Oracle.Timeout = 5 * time.Second
	}
	if c.Oracle.FallbackRate == 0 {
		c.Oracle.FallbackRate = 100
	}

	if c.Fees.Floor == 0 {
		c.Fees.Floor = 100_000 // 0.0001 native units
	}
	if c.Fees.Ceiling == 0 {
		c.Fees.Ceiling = 1_000_000_000 // 1 native unit
	}

	if c.Mint.MaxBatch == 0 {
		c.Mint.MaxBatch = 10
	}

	if c.Sweep.Interval == 0 {
		c.Sweep.Interval = 2 * time.Minute
	}
	if c.Sweep.VerifyTimeout == 0 {
		c.Sweep.VerifyTimeout = 5 * time.Minute
	}
	if c.Sweep.AbandonTimeout == 0 {
		c.Sweep.AbandonTimeout = 30 * time.Minute
	}
	if c.Sweep.BatchSize == 0 {
		c.Sweep.BatchSize = 100
	}
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.DBName, c.Database.SSLMode)
}
