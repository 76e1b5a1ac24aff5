// Package config provides layered configuration for the orchestrator
// kernel.
//
// Load order (low -> high precedence):
//  1. code defaults
//  2. configs/{env}.yaml (YAML overrides defaults)
//  3. environment variables (override YAML)
//
// Secrets (DB password, Redis password) live only in .env.{env}, never in
// YAML, following the teacher's single-source-of-credentials convention:
// the same .env file is consumed by Docker Compose (--env-file) and this
// package (godotenv).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment selects which configs/{env}.yaml and .env.{env} pair to load.
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig is the on-disk configuration file shape.
type YAMLConfig struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	loadedFrom string `yaml:"-"`
}

// ServerConfig is the External API's listen configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects and configures the State Store adapter.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"` // "postgres" or "sqlite"
	Path    string `yaml:"path"`   // sqlite file path
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Name    string `yaml:"name"`
	SSLMode string `yaml:"sslmode"`
}

// RedisConfig backs the durable Event Bus transport.
type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   int    `yaml:"db"`
}

// OrchestratorConfig is the kernel's policy knob set: worker pool size,
// heartbeat/lease timing, per-phase timeouts, and the confidence
// thresholds gating plan review, per the governing specification's §4-§5
// recommended defaults.
type OrchestratorConfig struct {
	WorkerSlots int `yaml:"worker_slots"` // W

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"` // T_beat
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`      // T_lease
	SweepInterval     time.Duration `yaml:"sweep_interval"`

	AgentIterationTimeout time.Duration `yaml:"agent_iteration_timeout"` // T_agent
	ToolFileTimeout       time.Duration `yaml:"tool_file_timeout"`       // T_tool (file ops)
	ToolExecTimeout       time.Duration `yaml:"tool_exec_timeout"`       // T_tool (command exec)
	PhaseTimeout          time.Duration `yaml:"phase_timeout"`           // T_phase

	MaxIterations int `yaml:"max_iterations"`  // I_max
	MaxFixRetries int `yaml:"max_fix_retries"` // R_fix
	MaxFixDepth   int `yaml:"max_fix_depth"`   // D_max
	MaxReprompts  int `yaml:"max_reprompts"`   // coder re-prompt bound

	AutoApproveConfidence float64 `yaml:"auto_approve_confidence"` // τ_auto
	ReviewConfidence      float64 `yaml:"review_confidence"`       // τ_review
}

// Config is the fully resolved configuration the kernel's components are
// constructed from.
type Config struct {
	Env            Environment
	Addr           string
	DatabaseDriver string
	DatabaseURL    string
	RedisURL       string
	EtcdEndpoints  []string
	Orchestrator   OrchestratorConfig
}

var configPaths = []string{"configs", "../configs", "../../configs"}

// Load resolves the full configuration from defaults, YAML, and the
// environment, in that precedence order.
func Load() *Config {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFile(env)

	yamlCfg := loadYAMLConfig(env)
	applyEnvOverrides(yamlCfg)

	dbPassword := firstEnv("DB_PASSWORD", "POSTGRES_PASSWORD")
	driver := detectDatabaseDriver(yamlCfg.Database.Driver)

	cfg := &Config{
		Env:            env,
		Addr:           yamlCfg.Server.Addr,
		DatabaseDriver: driver,
		DatabaseURL:    buildDatabaseURL(driver, yamlCfg.Database, dbPassword),
		RedisURL:       buildRedisURL(yamlCfg.Redis),
		EtcdEndpoints:  splitCSV(getEnv("ETCD_ENDPOINTS", "")),
		Orchestrator:   yamlCfg.Orchestrator,
	}
	cfg.Orchestrator.fillDefaults()
	return cfg
}

func defaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Driver: "sqlite", Path: "orchestrator.db", Host: "localhost", Port: 5432, User: "orchestrator", Name: "orchestrator", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		Orchestrator: OrchestratorConfig{
			WorkerSlots:           8,
			HeartbeatInterval:     15 * time.Second,
			LeaseTimeout:          45 * time.Second,
			SweepInterval:         10 * time.Second,
			AgentIterationTimeout: 120 * time.Second,
			ToolFileTimeout:       60 * time.Second,
			ToolExecTimeout:       300 * time.Second,
			PhaseTimeout:          1200 * time.Second,
			MaxIterations:         8,
			MaxFixRetries:         3,
			MaxFixDepth:           3,
			MaxReprompts:          3,
			AutoApproveConfidence: 0.7,
			ReviewConfidence:      0.7,
		},
	}
}

// loadYAMLConfig loads defaults, then configs/{env}.yaml over them.
func loadYAMLConfig(env Environment) *YAMLConfig {
	cfg := defaultYAMLConfig()

	filename := fmt.Sprintf("%s.yaml", env)
	for _, base := range configPaths {
		path := filepath.Join(base, filename)
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, cfg); err == nil {
				cfg.loadedFrom = path
			}
			break
		}
	}
	return cfg
}

// applyEnvOverrides lets select environment variables win over YAML,
// matching the stated precedence (env > YAML > defaults).
func applyEnvOverrides(cfg *YAMLConfig) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("WORKER_SLOTS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Orchestrator.WorkerSlots)
	}
}

func (o *OrchestratorConfig) fillDefaults() {
	d := defaultYAMLConfig().Orchestrator
	if o.WorkerSlots <= 0 {
		o.WorkerSlots = d.WorkerSlots
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = d.HeartbeatInterval
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 3 * o.HeartbeatInterval
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.AgentIterationTimeout <= 0 {
		o.AgentIterationTimeout = d.AgentIterationTimeout
	}
	if o.ToolFileTimeout <= 0 {
		o.ToolFileTimeout = d.ToolFileTimeout
	}
	if o.ToolExecTimeout <= 0 {
		o.ToolExecTimeout = d.ToolExecTimeout
	}
	if o.PhaseTimeout <= 0 {
		o.PhaseTimeout = d.PhaseTimeout
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.MaxFixRetries <= 0 {
		o.MaxFixRetries = d.MaxFixRetries
	}
	if o.MaxFixDepth <= 0 {
		o.MaxFixDepth = d.MaxFixDepth
	}
	if o.MaxReprompts <= 0 {
		o.MaxReprompts = d.MaxReprompts
	}
	if o.AutoApproveConfidence <= 0 {
		o.AutoApproveConfidence = d.AutoApproveConfidence
	}
	if o.ReviewConfidence <= 0 {
		o.ReviewConfidence = d.ReviewConfidence
	}
}

func buildDatabaseURL(driver string, db DatabaseConfig, password string) string {
	if driver == "sqlite" {
		path := db.Path
		if path == "" {
			path = "orchestrator.db"
		}
		return fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=foreign_keys(1)", path)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.User, password, db.Host, db.Port, db.Name, db.SSLMode)
}

func buildRedisURL(r RedisConfig) string {
	return fmt.Sprintf("redis://%s:%d/%d", r.Host, r.Port, r.DB)
}

func detectDatabaseDriver(yamlDriver string) string {
	switch strings.ToLower(yamlDriver) {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "sqlite"
	}
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

// loadEnvFile loads .env.{env}; godotenv never overwrites variables
// already set in the shell, so CI/systemd injection always wins.
func loadEnvFile(env Environment) {
	if env == EnvProduction {
		return
	}
	for _, dir := range []string{".", ".."} {
		if err := godotenv.Load(filepath.Join(dir, fmt.Sprintf(".env.%s", env))); err == nil {
			return
		}
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// splitCSV parses a comma-separated env var into a trimmed slice,
// returning nil for an empty input (etcd disabled).
func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsTest reports whether this is the test environment profile.
func (c *Config) IsTest() bool { return c.Env == EnvTest }

// String renders a config summary with credentials redacted.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, Driver: %s, DB: %s, Redis: %s, Workers: %d}",
		c.Env, c.DatabaseDriver, maskPassword(c.DatabaseURL), c.RedisURL, c.Orchestrator.WorkerSlots)
}

var credentialPattern = regexp.MustCompile(`(://[^:]+:)([^@]+)(@)`)

func maskPassword(url string) string {
	return credentialPattern.ReplaceAllString(url, "${1}***${3}")
}
