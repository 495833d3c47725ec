// Package config provides configuration management for toolvault.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/goccy/go-json"
)

const (
	// DefaultWorkerPort is the default HTTP port for the worker service.
	DefaultWorkerPort = 38444

	// DefaultCollection is the default collection for tool-response history.
	DefaultCollection = "tool_responses"

	// DefaultCompressionThreshold is the serialized-payload size in bytes
	// above which responses are compressed.
	DefaultCompressionThreshold = 5120

	// DefaultRetentionDays is how long tool responses are kept.
	DefaultRetentionDays = 90

	// DefaultSchedulerBaseHours is the baseline reindex check interval.
	DefaultSchedulerBaseHours = 6

	// DefaultSearchMinScore filters semantic results below this similarity.
	DefaultSearchMinScore = 0.3
)

// Optimization profiles bundle index/placement defaults for the vector store.
const (
	// ProfileLowLatency keeps vectors memory-resident and indexes early.
	ProfileLowLatency = "low-latency"
	// ProfileLargeScale keeps vectors on disk and batches indexing.
	ProfileLargeScale = "large-scale"
	// ProfileBalanced is the default middle ground.
	ProfileBalanced = "balanced"
)

// Config holds the application configuration.
type Config struct {
	// Vector store backend
	StoreURL    string `json:"store_url"`     // explicit endpoint, highest priority
	CloudURL    string `json:"cloud_url"`     // managed-cloud endpoint
	CloudAPIKey string `json:"cloud_api_key"` // key for the cloud endpoint
	Collection  string `json:"collection"`    // default collection name
	Profile     string `json:"profile"`       // optimization profile

	// Embedding settings
	EmbeddingProvider string `json:"embedding_provider"` // "local" or "openai"
	EmbeddingBaseURL  string `json:"embedding_base_url"`
	EmbeddingAPIKey   string `json:"embedding_api_key"`
	EmbeddingModel    string `json:"embedding_model"`

	ProbePorts []int `json:"probe_ports"` // local discovery candidates

	// Worker settings
	WorkerPort    int `json:"worker_port"`
	RequestSecs   int `json:"request_timeout"` // per-call timeout, seconds
	IngestWorkers int `json:"ingest_workers"`
	IngestQueue   int `json:"ingest_queue"`

	// Payload handling
	CompressionThreshold int `json:"compression_threshold"`

	// Retention and maintenance
	RetentionDays      int     `json:"retention_days"`
	SchedulerBaseHours int     `json:"scheduler_base_hours"`
	SearchMinScore     float64 `json:"search_min_score"`

	// Disabled hard-disables the semantic store; all dependents no-op.
	Disabled bool `json:"disabled"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
	configMu     sync.RWMutex
)

// DataDir returns the data directory path (~/.toolvault).
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".toolvault")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		WorkerPort:           DefaultWorkerPort,
		Collection:           DefaultCollection,
		Profile:              ProfileBalanced,
		ProbePorts:           []int{6333, 6334, 6335, 6336},
		RequestSecs:          10,
		IngestWorkers:        2,
		IngestQueue:          256,
		EmbeddingProvider:    "local",
		CompressionThreshold: DefaultCompressionThreshold,
		RetentionDays:        DefaultRetentionDays,
		SchedulerBaseHours:   DefaultSchedulerBaseHours,
		SearchMinScore:       DefaultSearchMinScore,
	}
}

// Load loads configuration from the settings file, merging with defaults.
// Environment variables override file values.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		applyEnv(cfg)
		return cfg, nil // Return defaults on parse error
	}

	if v, ok := settings["TOOLVAULT_WORKER_PORT"].(float64); ok && v > 0 {
		cfg.WorkerPort = int(v)
	}
	if v, ok := settings["TOOLVAULT_STORE_URL"].(string); ok {
		cfg.StoreURL = v
	}
	if v, ok := settings["TOOLVAULT_CLOUD_URL"].(string); ok {
		cfg.CloudURL = v
	}
	if v, ok := settings["TOOLVAULT_CLOUD_API_KEY"].(string); ok {
		cfg.CloudAPIKey = v
	}
	if v, ok := settings["TOOLVAULT_COLLECTION"].(string); ok && v != "" {
		cfg.Collection = v
	}
	if v, ok := settings["TOOLVAULT_PROFILE"].(string); ok && v != "" {
		cfg.Profile = v
	}
	if v, ok := settings["TOOLVAULT_DISABLED"].(bool); ok {
		cfg.Disabled = v
	}
	if v, ok := settings["TOOLVAULT_EMBEDDING_PROVIDER"].(string); ok && v != "" {
		cfg.EmbeddingProvider = v
	}
	if v, ok := settings["TOOLVAULT_EMBEDDING_BASE_URL"].(string); ok {
		cfg.EmbeddingBaseURL = v
	}
	if v, ok := settings["TOOLVAULT_EMBEDDING_API_KEY"].(string); ok {
		cfg.EmbeddingAPIKey = v
	}
	if v, ok := settings["TOOLVAULT_EMBEDDING_MODEL"].(string); ok {
		cfg.EmbeddingModel = v
	}
	if v, ok := settings["TOOLVAULT_COMPRESSION_THRESHOLD"].(float64); ok && v > 0 {
		cfg.CompressionThreshold = int(v)
	}
	if v, ok := settings["TOOLVAULT_RETENTION_DAYS"].(float64); ok && v >= 0 {
		cfg.RetentionDays = int(v)
	}
	if v, ok := settings["TOOLVAULT_SCHEDULER_BASE_HOURS"].(float64); ok && v > 0 {
		cfg.SchedulerBaseHours = int(v)
	}
	if v, ok := settings["TOOLVAULT_SEARCH_MIN_SCORE"].(float64); ok && v >= 0 && v <= 1 {
		cfg.SearchMinScore = v
	}
	if v, ok := settings["TOOLVAULT_INGEST_WORKERS"].(float64); ok && v > 0 {
		cfg.IngestWorkers = int(v)
	}
	if v, ok := settings["TOOLVAULT_INGEST_QUEUE"].(float64); ok && v > 0 {
		cfg.IngestQueue = int(v)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("TOOLVAULT_STORE_URL"); v != "" {
		cfg.StoreURL = v
	}
	if v := os.Getenv("TOOLVAULT_CLOUD_URL"); v != "" {
		cfg.CloudURL = v
	}
	if v := os.Getenv("TOOLVAULT_CLOUD_API_KEY"); v != "" {
		cfg.CloudAPIKey = v
	}
	if v := os.Getenv("TOOLVAULT_COLLECTION"); v != "" {
		cfg.Collection = v
	}
	if v := os.Getenv("TOOLVAULT_EMBEDDING_API_KEY"); v != "" {
		cfg.EmbeddingAPIKey = v
	}
	if v := os.Getenv("TOOLVAULT_WORKER_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.WorkerPort = p
		}
	}
	if v := os.Getenv("TOOLVAULT_DISABLED"); v == "1" || v == "true" {
		cfg.Disabled = true
	}
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	configOnce.Do(func() {
		var err error
		globalConfig, err = Load()
		if err != nil {
			globalConfig = Default()
		}
	})

	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// Replace swaps the global configuration. Used by the settings watcher.
func Replace(cfg *Config) {
	configMu.Lock()
	globalConfig = cfg
	configMu.Unlock()
}

// GetWorkerPort returns the worker port from environment or config.
func GetWorkerPort() int {
	if port := os.Getenv("TOOLVAULT_WORKER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			return p
		}
	}
	return Get().WorkerPort
}
