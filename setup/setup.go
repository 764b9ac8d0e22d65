package setup

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Economics holds the bounty tunables. Defaults match the deployed product;
// an optional YAML file overrides them.
type Economics struct {
	// Reward bounds in whole tokens
	MinReward int64 `yaml:"minReward"`
	MaxReward int64 `yaml:"maxReward"`

	// Deadline bounds in minutes from creation
	MinDeadlineMinutes int `yaml:"minDeadlineMinutes"`
	MaxDeadlineMinutes int `yaml:"maxDeadlineMinutes"`

	// How often the settlement scheduler scans for expired questions
	ScanIntervalSeconds int `yaml:"scanIntervalSeconds"`
}

// Config contains runtime configuration values.
type Config struct {
	HTTPPort          string
	DatabaseURL       string
	ChainDaemonURL    string
	KnowledgeURL      string
	SessionSecret     string
	RateLimitPerMin   int
	CORSAllowedOrigin string
	Economics         Economics
}

// DefaultEconomics are the bounty tunables used when no YAML override exists.
func DefaultEconomics() Economics {
	return Economics{
		MinReward:           1,
		MaxReward:           10,
		MinDeadlineMinutes:  1,
		MaxDeadlineMinutes:  10,
		ScanIntervalSeconds: 60,
	}
}

// ScanInterval returns the scheduler period as a duration.
func (e Economics) ScanInterval() time.Duration {
	return time.Duration(e.ScanIntervalSeconds) * time.Second
}

// Load reads configuration from the environment (a .env file is honored when
// present) and an optional economics YAML file named by ECONOMICS_FILE.
func Load() (Config, error) {
	godotenv.Load()

	cfg := Config{
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ChainDaemonURL:    getEnv("CHAIN_DAEMON_URL", "http://127.0.0.1:8545"),
		KnowledgeURL:      getEnv("KNOWLEDGE_URL", "http://127.0.0.1:8900"),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		RateLimitPerMin:   getInt("RATE_LIMIT_PER_MIN", 120),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "*"),
		Economics:         DefaultEconomics(),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SessionSecret == "" {
		return Config{}, fmt.Errorf("SESSION_SECRET is required")
	}

	if path := os.Getenv("ECONOMICS_FILE"); path != "" {
		econ, err := loadEconomics(path)
		if err != nil {
			return Config{}, err
		}
		cfg.Economics = econ
	}

	if err := cfg.Economics.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadEconomics(path string) (Economics, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Economics{}, fmt.Errorf("read economics file: %w", err)
	}
	econ := DefaultEconomics()
	if err := yaml.Unmarshal(raw, &econ); err != nil {
		return Economics{}, fmt.Errorf("parse economics file: %w", err)
	}
	return econ, nil
}

func (e Economics) validate() error {
	if e.MinReward < 1 || e.MaxReward < e.MinReward {
		return fmt.Errorf("invalid reward bounds [%d, %d]", e.MinReward, e.MaxReward)
	}
	if e.MinDeadlineMinutes < 1 || e.MaxDeadlineMinutes < e.MinDeadlineMinutes {
		return fmt.Errorf("invalid deadline bounds [%d, %d]", e.MinDeadlineMinutes, e.MaxDeadlineMinutes)
	}
	if e.ScanIntervalSeconds < 1 {
		return fmt.Errorf("scan interval must be at least one second")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
