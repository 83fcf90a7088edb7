package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Fusion strategies accepted by search.strategy.
const (
	StrategyRRF      = "rrf"
	StrategyWeighted = "weighted"
)

// Config represents the complete finrag configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Normalizer NormalizerConfig `yaml:"normalizer" json:"normalizer"`
	Stores     StoresConfig     `yaml:"stores" json:"stores"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SearchConfig configures routing, fan-out budgets and fusion.
// Weights, strategy and the RRF constant are configurable via:
//  1. User config (~/.config/finrag/config.yaml) - personal defaults
//  2. Project config (.finrag.yaml) - per-deployment tuning
//  3. Env vars (FINRAG_FUSION_STRATEGY, FINRAG_WEIGHT_*, FINRAG_RRF_CONSTANT) - highest priority
type SearchConfig struct {
	// Strategy selects the fusion algorithm: "rrf" or "weighted".
	Strategy string `yaml:"strategy" json:"strategy"`

	// RRFConstant is k in 1/(k+rank).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant"`

	// Weights are per-backend fusion weights.
	Weights WeightsConfig `yaml:"weights" json:"weights"`

	// StructuredBoost multiplies the structured weight when the classifier
	// extracted entity, metric and period together.
	StructuredBoost float64 `yaml:"structured_boost" json:"structured_boost"`

	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`
	MaxTopK     int `yaml:"max_top_k" json:"max_top_k"`

	// CandidateLimit is how many candidates each backend is asked for.
	CandidateLimit int `yaml:"candidate_limit" json:"candidate_limit"`

	// Timeout is the overall request deadline.
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	StructuredTimeout time.Duration `yaml:"structured_timeout" json:"structured_timeout"`
	LexicalTimeout    time.Duration `yaml:"lexical_timeout" json:"lexical_timeout"`
	VectorTimeout     time.Duration `yaml:"vector_timeout" json:"vector_timeout"`

	// BreakerFailures consecutive failures open a backend's circuit breaker.
	BreakerFailures uint32        `yaml:"breaker_failures" json:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" json:"breaker_cooldown"`

	// Metrics lists metric names the classifier recognizes.
	Metrics []string `yaml:"metrics" json:"metrics"`
}

// WeightsConfig holds one fusion weight per backend.
type WeightsConfig struct {
	Lexical    float64 `yaml:"lexical" json:"lexical"`
	Vector     float64 `yaml:"vector" json:"vector"`
	Structured float64 `yaml:"structured" json:"structured"`
}

// NormalizerConfig configures entity normalization and fuzzy matching.
type NormalizerConfig struct {
	// MappingFile is a YAML alias table. Empty loads mappings from the table store.
	MappingFile string `yaml:"mapping_file" json:"mapping_file"`

	// Watch reloads MappingFile when it changes on disk.
	Watch bool `yaml:"watch" json:"watch"`

	// BusinessUnitSuffix is appended to bare names under numbered section headers.
	BusinessUnitSuffix string `yaml:"business_unit_suffix" json:"business_unit_suffix"`

	// FuzzyThreshold is the trigram cutoff against entity_normalized.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`

	// RawFuzzyThreshold is the trigram cutoff against entity_raw.
	RawFuzzyThreshold float64 `yaml:"raw_fuzzy_threshold" json:"raw_fuzzy_threshold"`

	// CandidateThreshold is the cutoff used to widen query entities into canonical names.
	CandidateThreshold float64 `yaml:"candidate_threshold" json:"candidate_threshold"`

	// CacheSize bounds the fuzzy lookup cache.
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// StoresConfig locates the three retrieval stores.
type StoresConfig struct {
	// DataDir holds the lexical index, vector graph and SQLite databases.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// LexicalBackend is "sqlite" (FTS5) or "bleve".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`

	// VectorDimensions must match the embedder.
	VectorDimensions int `yaml:"vector_dimensions" json:"vector_dimensions"`

	// TableDriver is "sqlite" or "postgres".
	TableDriver string `yaml:"table_driver" json:"table_driver"`

	// TableDSN is the structured store DSN. Empty means <data_dir>/tables.db.
	TableDSN string `yaml:"table_dsn" json:"table_dsn"`
}

// ServerConfig configures process-level behavior.
type ServerConfig struct {
	LogLevel string `yaml:"log_level" json:"log_level"`

	// MetricsEnabled registers Prometheus collectors for query diagnostics.
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`

	// QueryLog records query routes, outcomes and no-evidence queries in
	// <data_dir>/telemetry.db.
	QueryLog bool `yaml:"query_log" json:"query_log"`
}

// DefaultMetrics is the metric vocabulary used when none is configured.
var DefaultMetrics = []string{
	"revenue",
	"sales",
	"ebitda",
	"ebit",
	"net income",
	"net debt",
	"variable cost",
	"fixed cost",
	"cash cost",
	"capex",
	"opex",
	"margin",
	"volume",
	"price",
	"production",
	"headcount",
	"free cash flow",
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Strategy: StrategyWeighted,
			// k=60 is the usual RRF constant
			RRFConstant: 60,
			Weights: WeightsConfig{
				Lexical:    0.3,
				Vector:     0.3,
				Structured: 0.4,
			},
			StructuredBoost:   1.5,
			DefaultTopK:       10,
			MaxTopK:           100,
			CandidateLimit:    50,
			Timeout:           1500 * time.Millisecond,
			StructuredTimeout: 300 * time.Millisecond,
			LexicalTimeout:    300 * time.Millisecond,
			VectorTimeout:     800 * time.Millisecond,
			BreakerFailures:   5,
			BreakerCooldown:   30 * time.Second,
			Metrics:           DefaultMetrics,
		},
		Normalizer: NormalizerConfig{
			BusinessUnitSuffix: "Cement",
			FuzzyThreshold:     0.45,
			RawFuzzyThreshold:  0.35,
			CandidateThreshold: 0.5,
			CacheSize:          1024,
		},
		Stores: StoresConfig{
			DataDir:          ".finrag",
			LexicalBackend:   "sqlite",
			VectorDimensions: 256,
			TableDriver:      "sqlite",
		},
		Server: ServerConfig{
			LogLevel: "info",
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/finrag/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/finrag/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "finrag", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "finrag", "config.yaml")
	}
	return filepath.Join(home, ".config", "finrag", "config.yaml")
}

// ProjectConfigPath returns where the project config lives in dir.
func ProjectConfigPath(dir string) string {
	return filepath.Join(dir, ".finrag.yaml")
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/finrag/config.yaml)
//  3. Project config (.finrag.yaml in dir)
//  4. Environment variables (FINRAG_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadFromFile attempts to load configuration from .finrag.yaml or .finrag.yml.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".finrag.yaml", ".finrag.yml"} {
		path := filepath.Join(dir, name)
		if !fileExists(path) {
			continue
		}
		var parsed Config
		if err := readYAML(path, &parsed); err != nil {
			return err
		}
		c.mergeWith(&parsed)
		return nil
	}
	return nil
}

func readYAML(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	s, o := &c.Search, other.Search
	if o.Strategy != "" {
		s.Strategy = o.Strategy
	}
	if o.RRFConstant != 0 {
		s.RRFConstant = o.RRFConstant
	}
	// Weights are replaced as a set so a file can zero out one backend.
	if o.Weights != (WeightsConfig{}) {
		s.Weights = o.Weights
	}
	if o.StructuredBoost != 0 {
		s.StructuredBoost = o.StructuredBoost
	}
	if o.DefaultTopK != 0 {
		s.DefaultTopK = o.DefaultTopK
	}
	if o.MaxTopK != 0 {
		s.MaxTopK = o.MaxTopK
	}
	if o.CandidateLimit != 0 {
		s.CandidateLimit = o.CandidateLimit
	}
	if o.Timeout != 0 {
		s.Timeout = o.Timeout
	}
	if o.StructuredTimeout != 0 {
		s.StructuredTimeout = o.StructuredTimeout
	}
	if o.LexicalTimeout != 0 {
		s.LexicalTimeout = o.LexicalTimeout
	}
	if o.VectorTimeout != 0 {
		s.VectorTimeout = o.VectorTimeout
	}
	if o.BreakerFailures != 0 {
		s.BreakerFailures = o.BreakerFailures
	}
	if o.BreakerCooldown != 0 {
		s.BreakerCooldown = o.BreakerCooldown
	}
	if len(o.Metrics) > 0 {
		s.Metrics = o.Metrics
	}

	n, on := &c.Normalizer, other.Normalizer
	if on.MappingFile != "" {
		n.MappingFile = on.MappingFile
	}
	if on.Watch {
		n.Watch = true
	}
	if on.BusinessUnitSuffix != "" {
		n.BusinessUnitSuffix = on.BusinessUnitSuffix
	}
	if on.FuzzyThreshold != 0 {
		n.FuzzyThreshold = on.FuzzyThreshold
	}
	if on.RawFuzzyThreshold != 0 {
		n.RawFuzzyThreshold = on.RawFuzzyThreshold
	}
	if on.CandidateThreshold != 0 {
		n.CandidateThreshold = on.CandidateThreshold
	}
	if on.CacheSize != 0 {
		n.CacheSize = on.CacheSize
	}

	st, ost := &c.Stores, other.Stores
	if ost.DataDir != "" {
		st.DataDir = ost.DataDir
	}
	if ost.LexicalBackend != "" {
		st.LexicalBackend = ost.LexicalBackend
	}
	if ost.VectorDimensions != 0 {
		st.VectorDimensions = ost.VectorDimensions
	}
	if ost.TableDriver != "" {
		st.TableDriver = ost.TableDriver
	}
	if ost.TableDSN != "" {
		st.TableDSN = ost.TableDSN
	}

	if other.Server.LogLevel != "" {
		c.Server.LogLevel = other.Server.LogLevel
	}
	if other.Server.MetricsEnabled {
		c.Server.MetricsEnabled = true
	}
	if other.Server.QueryLog {
		c.Server.QueryLog = true
	}
}

// applyEnvOverrides applies FINRAG_* environment variables.
// Unparseable values are ignored and Validate catches out-of-range ones.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FINRAG_FUSION_STRATEGY"); v != "" {
		c.Search.Strategy = strings.ToLower(v)
	}
	if v := os.Getenv("FINRAG_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	envFloat("FINRAG_WEIGHT_LEXICAL", &c.Search.Weights.Lexical)
	envFloat("FINRAG_WEIGHT_VECTOR", &c.Search.Weights.Vector)
	envFloat("FINRAG_WEIGHT_STRUCTURED", &c.Search.Weights.Structured)
	envDuration("FINRAG_TIMEOUT", &c.Search.Timeout)
	envDuration("FINRAG_STRUCTURED_TIMEOUT", &c.Search.StructuredTimeout)
	envDuration("FINRAG_LEXICAL_TIMEOUT", &c.Search.LexicalTimeout)
	envDuration("FINRAG_VECTOR_TIMEOUT", &c.Search.VectorTimeout)

	if v := os.Getenv("FINRAG_MAPPING_FILE"); v != "" {
		c.Normalizer.MappingFile = v
	}
	envFloat("FINRAG_FUZZY_THRESHOLD", &c.Normalizer.FuzzyThreshold)
	envFloat("FINRAG_RAW_FUZZY_THRESHOLD", &c.Normalizer.RawFuzzyThreshold)

	if v := os.Getenv("FINRAG_DATA_DIR"); v != "" {
		c.Stores.DataDir = v
	}
	if v := os.Getenv("FINRAG_LEXICAL_BACKEND"); v != "" {
		c.Stores.LexicalBackend = strings.ToLower(v)
	}
	if v := os.Getenv("FINRAG_TABLE_DRIVER"); v != "" {
		c.Stores.TableDriver = strings.ToLower(v)
	}
	if v := os.Getenv("FINRAG_TABLE_DSN"); v != "" {
		c.Stores.TableDSN = v
	}

	if v := os.Getenv("FINRAG_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("FINRAG_METRICS"); v != "" {
		c.Server.MetricsEnabled = strings.ToLower(v) == "true" || v == "1"
	}
	if v := os.Getenv("FINRAG_QUERY_LOG"); v != "" {
		c.Server.QueryLog = strings.ToLower(v) == "true" || v == "1"
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			*dst = d
		}
	}
}

// QueryLogPath is the local query log database.
func (c *Config) QueryLogPath() string {
	return filepath.Join(c.Stores.DataDir, "telemetry.db")
}

// TableDSN returns the structured store DSN, defaulting to a SQLite file in DataDir.
func (c *Config) TableDSN() string {
	if c.Stores.TableDSN != "" {
		return c.Stores.TableDSN
	}
	return filepath.Join(c.Stores.DataDir, "tables.db")
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	s := c.Search
	if s.Strategy != StrategyRRF && s.Strategy != StrategyWeighted {
		return fmt.Errorf("search.strategy must be 'rrf' or 'weighted', got %s", s.Strategy)
	}
	if s.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", s.RRFConstant)
	}
	for name, w := range map[string]float64{
		"lexical":    s.Weights.Lexical,
		"vector":     s.Weights.Vector,
		"structured": s.Weights.Structured,
	} {
		if w < 0 || w > 1 || math.IsNaN(w) {
			return fmt.Errorf("search.weights.%s must be between 0 and 1, got %f", name, w)
		}
	}
	if s.Weights.Lexical+s.Weights.Vector+s.Weights.Structured == 0 {
		return fmt.Errorf("search.weights must not all be zero")
	}
	if s.StructuredBoost < 1 {
		return fmt.Errorf("search.structured_boost must be at least 1, got %f", s.StructuredBoost)
	}
	if s.DefaultTopK <= 0 || s.MaxTopK < s.DefaultTopK {
		return fmt.Errorf("search.default_top_k must be positive and at most max_top_k (%d, %d)", s.DefaultTopK, s.MaxTopK)
	}
	if s.CandidateLimit <= 0 {
		return fmt.Errorf("search.candidate_limit must be positive, got %d", s.CandidateLimit)
	}
	for name, d := range map[string]time.Duration{
		"timeout":            s.Timeout,
		"structured_timeout": s.StructuredTimeout,
		"lexical_timeout":    s.LexicalTimeout,
		"vector_timeout":     s.VectorTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("search.%s must be positive, got %s", name, d)
		}
	}

	n := c.Normalizer
	for name, th := range map[string]float64{
		"fuzzy_threshold":     n.FuzzyThreshold,
		"raw_fuzzy_threshold": n.RawFuzzyThreshold,
		"candidate_threshold": n.CandidateThreshold,
	} {
		if th <= 0 || th > 1 {
			return fmt.Errorf("normalizer.%s must be in (0, 1], got %f", name, th)
		}
	}

	switch strings.ToLower(c.Stores.LexicalBackend) {
	case "sqlite", "bleve":
	default:
		return fmt.Errorf("stores.lexical_backend must be 'sqlite' or 'bleve', got %s", c.Stores.LexicalBackend)
	}
	switch strings.ToLower(c.Stores.TableDriver) {
	case "sqlite":
	case "postgres":
		if c.Stores.TableDSN == "" {
			return fmt.Errorf("stores.table_dsn is required when table_driver is postgres")
		}
	default:
		return fmt.Errorf("stores.table_driver must be 'sqlite' or 'postgres', got %s", c.Stores.TableDriver)
	}
	if c.Stores.VectorDimensions <= 0 {
		return fmt.Errorf("stores.vector_dimensions must be positive, got %d", c.Stores.VectorDimensions)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Server.LogLevel)] {
		return fmt.Errorf("server.log_level must be 'debug', 'info', 'warn', or 'error', got %s", c.Server.LogLevel)
	}

	return nil
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
