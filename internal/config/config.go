package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database *dbConfig
	Service  *svcConfig
	Proxmox  *proxmoxConfig
	Queue    *queueConfig
	Refresh  *refreshConfig
}

type dbConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"pgsql"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"proxmox_manager"`
	User     string `envconfig:"DB_USER" default:"admin"`
	Password string `envconfig:"DB_PASS" default:"adminpass"`
}

type svcConfig struct {
	Address         string   `envconfig:"PROXMOX_MANAGER_ADDRESS" default:":3443"`
	MetricsAddress  string   `envconfig:"PROXMOX_MANAGER_METRICS_ADDRESS" default:":8080"`
	LogLevel        string   `envconfig:"PROXMOX_MANAGER_LOG_LEVEL" default:"info"`
	LogFormat       string   `envconfig:"PROXMOX_MANAGER_LOG_FORMAT" default:"console"`
	AllowedOrigins  []string `envconfig:"PROXMOX_MANAGER_CORS_ALLOWED_ORIGINS" default:"*"`
	MigrationFolder string   `envconfig:"PROXMOX_MANAGER_MIGRATIONS_FOLDER" default:""`
}

type proxmoxConfig struct {
	DefaultBridge string        `envconfig:"PROXMOX_DEFAULT_BRIDGE" default:"vmbr0"`
	HTTPTimeout   time.Duration `envconfig:"PROXMOX_HTTP_TIMEOUT" default:"30s"`
	WaitInterval  time.Duration `envconfig:"PROXMOX_WAIT_INTERVAL" default:"5s"`
	WaitTimeout   time.Duration `envconfig:"PROXMOX_WAIT_TIMEOUT" default:"300s"`
}

type queueConfig struct {
	MaxWorkers   int           `envconfig:"PROXMOX_MANAGER_QUEUE_MAX_WORKERS" default:"10"`
	InitialDelay time.Duration `envconfig:"PROXMOX_MANAGER_QUEUE_INITIAL_DELAY" default:"10s"`
	PollDelay    time.Duration `envconfig:"PROXMOX_MANAGER_QUEUE_POLL_DELAY" default:"20s"`
	Lease        time.Duration `envconfig:"PROXMOX_MANAGER_QUEUE_LEASE" default:"2m"`
}

type refreshConfig struct {
	Interval time.Duration `envconfig:"PROXMOX_MANAGER_REFRESH_INTERVAL" default:"15m"`
	Jitter   time.Duration `envconfig:"PROXMOX_MANAGER_REFRESH_JITTER" default:"1m"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns the configuration used by tests: an in-memory sqlite
// database and the built-in defaults for everything else.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{
			Type: "sqlite",
			Name: "file::memory:?cache=shared",
		},
		Service: &svcConfig{
			Address:        ":3443",
			MetricsAddress: ":8080",
			LogLevel:       "info",
			LogFormat:      "console",
			AllowedOrigins: []string{"*"},
		},
		Proxmox: &proxmoxConfig{
			DefaultBridge: "vmbr0",
			HTTPTimeout:   30 * time.Second,
			WaitInterval:  5 * time.Second,
			WaitTimeout:   300 * time.Second,
		},
		Queue: &queueConfig{
			MaxWorkers:   10,
			InitialDelay: 10 * time.Second,
			PollDelay:    20 * time.Second,
			Lease:        2 * time.Minute,
		},
		Refresh: &refreshConfig{
			Interval: 15 * time.Minute,
			Jitter:   time.Minute,
		},
	}
}
