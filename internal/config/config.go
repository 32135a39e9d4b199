package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete plugin configuration.
type Configuration struct {
	Connection ConnectionConfig `yaml:"connection"`
	Compute    ComputeConfig    `yaml:"compute"`
	Stage      StageConfig      `yaml:"stage"`
	Pool       PoolConfig       `yaml:"pool"`
	Upload     UploadConfig     `yaml:"upload"`
	Cache      CacheConfig      `yaml:"cache"`
	Trace      TraceConfig      `yaml:"trace"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`

	// Debug turns contract violations that are normally tolerated
	// (double session release) into panics.
	Debug bool `yaml:"debug"`
}

// ConnectionConfig carries the Snowflake account connection settings.
type ConnectionConfig struct {
	Account       string        `yaml:"account"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	Authenticator string        `yaml:"authenticator"`
	Token         string        `yaml:"token"`
	Database      string        `yaml:"database"`
	Schema        string        `yaml:"schema"`
	Warehouse     string        `yaml:"warehouse"`
	Role          string        `yaml:"role"`
	LoginTimeout  time.Duration `yaml:"login_timeout"`
}

// ComputeConfig configures task execution on compute pools.
type ComputeConfig struct {
	// ComputePool is the compute pool job services run in.
	ComputePool string `yaml:"compute_pool"`

	// RegistryMappings are image-registry mapping strings carried
	// verbatim; the task runtime parses them, not this module.
	RegistryMappings []string `yaml:"registry_mappings"`

	// PollInterval paces job status polling.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// StageConfig configures the stage-backed filesystem.
type StageConfig struct {
	// WorkDirStage is the stage holding the run work directory.
	WorkDirStage string `yaml:"workdir_stage"`

	// Mounts are stage-mount strings carried verbatim; the task
	// runtime parses them, not this module.
	Mounts []string `yaml:"mounts"`

	// LocalCacheDir is the directory for local spool files used by
	// copy operations. Defaults to the OS temp dir.
	LocalCacheDir string `yaml:"local_cache_dir"`
}

// PoolConfig sizes the session pool.
type PoolConfig struct {
	// MaxSessions bounds concurrently outstanding sessions.
	MaxSessions int `yaml:"max_sessions"`

	// AcquireTimeout bounds how long Acquire blocks when the pool is
	// exhausted; zero blocks until the caller's context is done.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// UploadConfig tunes the streaming write adapters.
type UploadConfig struct {
	// BufferSize is the bounded pipe window in bytes shared between a
	// writer and its background upload task.
	BufferSize int `yaml:"buffer_size"`

	// ChunkSize is the unit of transfer through the pipe, in bytes.
	ChunkSize int `yaml:"chunk_size"`

	// Workers bounds concurrently running background upload tasks.
	Workers int `yaml:"workers"`
}

// CacheConfig configures the content-addressed run cache.
type CacheConfig struct {
	// Prefix is the key prefix under which cache objects live.
	Prefix string `yaml:"prefix"`

	// Compression selects the payload codec: none, lz4, or zstd.
	Compression string `yaml:"compression"`
}

// TraceConfig configures the buffered trace writer.
type TraceConfig struct {
	Enabled bool `yaml:"enabled"`

	// Key is the trace file's relative key inside the work-dir stage.
	Key string `yaml:"key"`

	// FlushInterval paces background snapshot flushes.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Connection: ConnectionConfig{
			LoginTimeout: 60 * time.Second,
		},
		Compute: ComputeConfig{
			PollInterval: 3 * time.Second,
		},
		Stage: StageConfig{
			LocalCacheDir: os.TempDir(),
		},
		Pool: PoolConfig{
			MaxSessions:    8,
			AcquireTimeout: 60 * time.Second,
		},
		Upload: UploadConfig{
			BufferSize: 32 * 1024,
			ChunkSize:  8 * 1024,
			Workers:    8,
		},
		Cache: CacheConfig{
			Prefix:      "cache",
			Compression: "zstd",
		},
		Trace: TraceConfig{
			Enabled:       true,
			Key:           "trace/trace.txt",
			FlushInterval: 5 * time.Second,
		},
		LogLevel: "INFO",
	}
}

// LoadFromFile loads configuration from a YAML file over the receiver.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv applies NXF_SNOWFLAKE_* environment overrides. Env values
// win over file values.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("NXF_SNOWFLAKE_ACCOUNT"); val != "" {
		c.Connection.Account = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_USER"); val != "" {
		c.Connection.User = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_PASSWORD"); val != "" {
		c.Connection.Password = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_TOKEN"); val != "" {
		c.Connection.Token = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_AUTHENTICATOR"); val != "" {
		c.Connection.Authenticator = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_DATABASE"); val != "" {
		c.Connection.Database = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_SCHEMA"); val != "" {
		c.Connection.Schema = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_WAREHOUSE"); val != "" {
		c.Connection.Warehouse = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_ROLE"); val != "" {
		c.Connection.Role = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_COMPUTE_POOL"); val != "" {
		c.Compute.ComputePool = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_WORKDIR_STAGE"); val != "" {
		c.Stage.WorkDirStage = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_LOCAL_CACHE_DIR"); val != "" {
		c.Stage.LocalCacheDir = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_MAX_SESSIONS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Pool.MaxSessions = n
		}
	}
	if val := os.Getenv("NXF_SNOWFLAKE_ACQUIRE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Pool.AcquireTimeout = d
		}
	}
	if val := os.Getenv("NXF_SNOWFLAKE_UPLOAD_BUFFER_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Upload.BufferSize = n
		}
	}
	if val := os.Getenv("NXF_SNOWFLAKE_UPLOAD_WORKERS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Upload.Workers = n
		}
	}
	if val := os.Getenv("NXF_SNOWFLAKE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("NXF_SNOWFLAKE_DEBUG"); val != "" {
		c.Debug = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Configuration) Validate() error {
	if c.Connection.Account == "" {
		return fmt.Errorf("connection.account is required")
	}
	if c.Connection.User == "" {
		return fmt.Errorf("connection.user is required")
	}
	if c.Connection.Password == "" && c.Connection.Token == "" {
		return fmt.Errorf("one of connection.password or connection.token is required")
	}
	if c.Connection.Database == "" || c.Connection.Schema == "" {
		return fmt.Errorf("connection.database and connection.schema are required")
	}

	if c.Stage.WorkDirStage == "" {
		return fmt.Errorf("stage.workdir_stage is required")
	}

	if c.Pool.MaxSessions <= 0 {
		return fmt.Errorf("pool.max_sessions must be greater than 0")
	}
	if c.Pool.AcquireTimeout < 0 {
		return fmt.Errorf("pool.acquire_timeout cannot be negative")
	}

	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("upload.chunk_size must be greater than 0")
	}
	if c.Upload.BufferSize < c.Upload.ChunkSize {
		return fmt.Errorf("upload.buffer_size (%d) must be at least upload.chunk_size (%d)",
			c.Upload.BufferSize, c.Upload.ChunkSize)
	}
	if c.Upload.Workers <= 0 {
		return fmt.Errorf("upload.workers must be greater than 0")
	}

	switch c.Cache.Compression {
	case "none", "lz4", "zstd":
	default:
		return fmt.Errorf("cache.compression must be one of: none, lz4, zstd (got %q)", c.Cache.Compression)
	}

	if c.Trace.Enabled {
		if c.Trace.Key == "" {
			return fmt.Errorf("trace.key is required when tracing is enabled")
		}
		if c.Trace.FlushInterval <= 0 {
			return fmt.Errorf("trace.flush_interval must be greater than 0")
		}
	}

	if c.Compute.PollInterval <= 0 {
		return fmt.Errorf("compute.poll_interval must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}

// QualifiedName prefixes name with the configured database and schema.
func (c *Configuration) QualifiedName(name string) string {
	return fmt.Sprintf("%s.%s.%s", c.Connection.Database, c.Connection.Schema, name)
}
