package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Registry storage backends.
const (
	BackendFile  = "file"
	BackendBolt  = "bolt"
	BackendRedis = "redis"
)

// Config defines the structure of the configuration file.
type Config struct {
	GitCommit          string          `yaml:"git_commit" envconfig:"REGY_GIT_COMMIT"`
	GitTag             string          `yaml:"git_tag" envconfig:"REGY_GIT_TAG"`
	BuildTime          string          `yaml:"build_time" envconfig:"REGY_BUILD_TIME"`
	IsProduction       bool            `yaml:"is_production" envconfig:"REGY_IS_PRODUCTION"`
	LogLevel           zapcore.Level   `yaml:"log_level" envconfig:"REGY_LOG_LEVEL"`
	LogFolder          string          `yaml:"log_folder" envconfig:"REGY_LOG_FOLDER"`
	LogMaxSize         int             `yaml:"log_max_size" envconfig:"REGY_LOG_MAX_SIZE"` // in megabytes
	ProfilerEnable     bool            `yaml:"profiler_enable" envconfig:"REGY_PROFILER_ENABLE"`
	OpsEndpointsEnable bool            `yaml:"ops_endpoints_enable" envconfig:"REGY_OPS_ENDPOINTS_ENABLE"`
	Server             ServerConfig    `yaml:"server"`
	Registry           RegistryConfig  `yaml:"registry"`
	Accounts           []AccountConfig `yaml:"accounts" ignored:"true"`
	Events             EventsConfig    `yaml:"events"`
	Redis              RedisConfig     `yaml:"redis"`
	BoltDB             BoltDBConfig    `yaml:"boltdb"`
}

type ServerConfig struct {
	Host                    string        `yaml:"host" envconfig:"REGY_SERVER_HOST"`
	Port                    string        `yaml:"port" envconfig:"REGY_SERVER_PORT"`
	CertsFile               string        `yaml:"certs_file" envconfig:"REGY_SERVER_CERTS_FILE"`
	KeyFile                 string        `yaml:"key_file" envconfig:"REGY_SERVER_KEY_FILE"`
	ReadTimeout             time.Duration `yaml:"read_timeout" envconfig:"REGY_SERVER_READ_TIMEOUT"`
	WriteTimeout            time.Duration `yaml:"write_timeout" envconfig:"REGY_SERVER_WRITE_TIMEOUT"`
	LongRequestWriteTimeout time.Duration `yaml:"long_request_write_timeout" envconfig:"REGY_SERVER_LONG_REQUEST_WRITE_TIMEOUT"`
	RequestTimeout          time.Duration `yaml:"request_timeout" envconfig:"REGY_SERVER_REQUEST_TIMEOUT"` // Time to wait for a request to finish
	ShutdownTimeout         time.Duration `yaml:"shutdown_timeout" envconfig:"REGY_SERVER_SHUTDOWN_TIMEOUT"`
}

type RegistryConfig struct {
	Backend          string        `yaml:"backend" envconfig:"REGY_REGISTRY_BACKEND"`
	DataDir          string        `yaml:"data_dir" envconfig:"REGY_REGISTRY_DATA_DIR"`
	DefaultAccount   string        `yaml:"default_account" envconfig:"REGY_REGISTRY_DEFAULT_ACCOUNT"`
	AutoSaveInterval time.Duration `yaml:"autosave_interval" envconfig:"REGY_REGISTRY_AUTOSAVE_INTERVAL"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout" envconfig:"REGY_REGISTRY_FETCH_TIMEOUT"`
	SyncSchedule     string        `yaml:"sync_schedule" envconfig:"REGY_REGISTRY_SYNC_SCHEDULE"` // cron syntax, empty disables
}

// AccountConfig locates the loans feed of a library account.
type AccountConfig struct {
	ID       string `yaml:"id"`
	LoansURL string `yaml:"loans_url"`
	Token    string `yaml:"token"`
}

type EventsConfig struct {
	Enable      bool          `yaml:"enable" envconfig:"REGY_EVENTS_ENABLE"`
	PushTimeout time.Duration `yaml:"push_timeout" envconfig:"REGY_EVENTS_PUSH_TIMEOUT"`
}

type RedisConfig struct {
	Host          string        `yaml:"host" envconfig:"REGY_REDIS_HOST"`
	Port          string        `yaml:"port" envconfig:"REGY_REDIS_PORT"`
	DialTimeout   time.Duration `yaml:"dial_timeout" envconfig:"REGY_REDIS_DIAL_TIMEOUT"`
	ReadTimeout   time.Duration `yaml:"read_timeout" envconfig:"REGY_REDIS_READ_TIMEOUT"`
	WriteTimeout  time.Duration `yaml:"write_timeout" envconfig:"REGY_REDIS_WRITE_TIMEOUT"`
	PoolSize      int           `yaml:"pool_size" envconfig:"REGY_REDIS_POOL_SIZE"`
	PoolTimeout   time.Duration `yaml:"pool_timeout" envconfig:"REGY_REDIS_POOL_TIMEOUT"`
	Username      string        `yaml:"username" envconfig:"REGY_REDIS_USERNAME"`
	Password      string        `yaml:"password" envconfig:"REGY_REDIS_PASSWORD"`
	DatabaseIndex int           `yaml:"db_index" envconfig:"REGY_REDIS_DATABASE_INDEX"`
}

type BoltDBConfig struct {
	FilePath   string        `yaml:"filepath" envconfig:"REGY_BOLTDB_FILE_PATH"`
	Timeout    time.Duration `yaml:"timeout" envconfig:"REGY_BOLTDB_TIMEOUT"`
	BucketName string        `yaml:"bucket_name" envconfig:"REGY_BOLTDB_BUCKET_NAME"`
}

// UsesRedis tells whether a redis connection is needed.
func (c *Config) UsesRedis() bool {
	return c.Registry.Backend == BackendRedis || c.Events.Enable
}

// LoadConfigFile provides an instance of config structure for the all application.
func LoadConfigFile(configFile string) (*Config, error) {
	file, err := os.Open(configFile)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	cfg := &Config{}
	yd := yaml.NewDecoder(file)
	err = yd.Decode(cfg)

	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigEnv reads the environments variables and provides an instance of the App config.
func LoadConfigEnvs(prefix string, config *Config) error {
	return envconfig.Process(prefix, config)
}

// InitConfig setup defaults values for non provided parameters
// and configures build tags values to be used if provided.
func InitConfig(config *Config, gitCommit, gitTag, buildTime string) error {
	if len(gitCommit) != 0 {
		config.GitCommit = gitCommit
	}

	if len(gitTag) != 0 {
		config.GitTag = gitTag
	}

	if len(buildTime) != 0 {
		config.BuildTime = buildTime
	}

	if len(config.Server.Host) == 0 || len(config.Server.Port) == 0 {
		return errors.New("make sure to set valid server address and port in configuration file")
	}

	if len(config.LogFolder) == 0 {
		config.LogFolder = "./logs"
	}

	if config.LogMaxSize <= 0 {
		config.LogMaxSize = 10
	}

	if config.Server.LongRequestWriteTimeout == 0 {
		config.Server.LongRequestWriteTimeout = 2 * config.Server.WriteTimeout
	}

	switch config.Registry.Backend {
	case "":
		config.Registry.Backend = BackendFile
	case BackendFile, BackendBolt, BackendRedis:
	default:
		return fmt.Errorf("unknown registry backend %q, expecting one of file, bolt or redis", config.Registry.Backend)
	}

	if len(config.Registry.DataDir) == 0 {
		config.Registry.DataDir = "./data"
	}

	if config.Registry.AutoSaveInterval <= 0 {
		config.Registry.AutoSaveInterval = 30 * time.Second
	}

	if config.Registry.FetchTimeout <= 0 {
		config.Registry.FetchTimeout = 30 * time.Second
	}

	seen := make(map[string]bool, len(config.Accounts))
	for _, account := range config.Accounts {
		if len(account.ID) == 0 {
			return errors.New("make sure every account has an id in configuration file")
		}
		if seen[account.ID] {
			return fmt.Errorf("account %q is defined more than once", account.ID)
		}
		seen[account.ID] = true
	}

	if len(config.Registry.DefaultAccount) == 0 && len(config.Accounts) > 0 {
		config.Registry.DefaultAccount = config.Accounts[0].ID
	}

	if len(config.Registry.DefaultAccount) == 0 {
		return errors.New("make sure to set a default account or at least one account in configuration file")
	}

	if config.Registry.Backend == BackendBolt && (len(config.BoltDB.FilePath) == 0 || len(config.BoltDB.BucketName) == 0) {
		return errors.New("make sure to set valid boltdb file path and bucket name in configuration file")
	}

	if config.UsesRedis() && (len(config.Redis.Host) == 0 || len(config.Redis.Port) == 0) {
		return errors.New("make sure to set valid redis address and port in configuration file")
	}

	if config.Events.PushTimeout <= 0 {
		config.Events.PushTimeout = 2 * time.Second
	}

	return nil
}

// LoadAndInitConfigs loads in order the configs from various predefined sources
// then build the App configuration data.
func LoadAndInitConfigs(gitCommit, gitTag, buildTime string) (*Config, error) {
	// Setup the yaml configuration from file.
	config, err := LoadConfigFile("./config.yml")
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from file: %s", err)
	}

	// Set the environment configuration.
	err = godotenv.Load("./config.env")
	if err != nil {
		return config, fmt.Errorf("failed to set environment configurations: %s", err)
	}

	// Use environment variables with prefix `REGY`.
	err = LoadConfigEnvs("REGY", config)
	if err != nil {
		return config, fmt.Errorf("failed to load configurations from environment: %s", err)
	}

	err = InitConfig(config, gitCommit, gitTag, buildTime)
	if err != nil {
		return config, fmt.Errorf("failed to initialize configurations: %s", err)
	}
	return config, nil
}
