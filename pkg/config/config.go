// Package config loads the agent's layered configuration: built-in
// defaults, an optional YAML file, then explicit environment variable
// overrides — the same defaults-then-file-then-env layering the original
// platform client uses (there expressed with the Rust `config` crate's
// `File` then `Environment().separator("__")`; reproduced here as plain Go
// structs populated by a loader function, since the agent has no
// `spf13/viper` equivalent in its dependency set).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/filigran/xtm-composer/pkg/errs"
)

// DaemonType selects which orchestrator backend the agent drives.
type DaemonType string

const (
	DaemonKubernetes DaemonType = "kubernetes"
	DaemonDocker     DaemonType = "docker"
	DaemonPortainer  DaemonType = "portainer"
)

// Manager holds the agent's identity and scheduling cadence.
type Manager struct {
	ID                string        `yaml:"id"`
	Name              string        `yaml:"name"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	LogBatchSize      int           `yaml:"log_batch_size"`
	IdentityDir       string        `yaml:"identity_dir"`
}

// Registry holds pull credentials for a configured container registry.
type Registry struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Insecure bool   `yaml:"insecure"`
}

// Kubernetes holds the Kubernetes backend's connection settings.
type Kubernetes struct {
	Namespace      string `yaml:"namespace"`
	KubeconfigPath string `yaml:"kubeconfig_path"`
	InCluster      bool   `yaml:"in_cluster"`
}

// Docker holds the Docker backend's connection settings.
type Docker struct {
	Socket   string   `yaml:"socket"`
	Registry Registry `yaml:"registry"`
}

// Portainer holds the Portainer backend's connection settings.
type Portainer struct {
	URL        string   `yaml:"url"`
	APIKey     string   `yaml:"api_key"`
	EndpointID string   `yaml:"endpoint_id"`
	Registry   Registry `yaml:"registry"`
}

// Daemon selects and configures the orchestrator backend.
type Daemon struct {
	Type       DaemonType `yaml:"type"`
	Kubernetes Kubernetes `yaml:"kubernetes"`
	Docker     Docker     `yaml:"docker"`
	Portainer  Portainer  `yaml:"portainer"`
}

// OpenCTI holds the platform endpoint and the daemon selection.
type OpenCTI struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Daemon Daemon `yaml:"daemon"`
}

// Logger holds structured-logging configuration.
type Logger struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the agent's fully resolved configuration.
type Config struct {
	Manager Manager `yaml:"manager"`
	OpenCTI OpenCTI `yaml:"opencti"`
	Logger  Logger  `yaml:"logger"`
}

func defaults() Config {
	return Config{
		Manager: Manager{
			ID:                uuid.NewString(),
			Name:              "composer",
			HeartbeatInterval: 30 * time.Second,
			ReconcileInterval: 30 * time.Second,
			LogBatchSize:      100,
			IdentityDir:       defaultIdentityDir(),
		},
		OpenCTI: OpenCTI{
			Daemon: Daemon{
				Type: DaemonDocker,
				Docker: Docker{
					Socket: "/var/run/docker.sock",
				},
			},
		},
		Logger: Logger{
			Level: "info",
			JSON:  true,
		},
	}
}

func defaultIdentityDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home + "/.composer"
	}
	return ".composer"
}

// Load resolves the agent's configuration: defaults, then an optional YAML
// file at path (or at $COMPOSER_CONFIG if path is empty), then environment
// variable overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		path = os.Getenv("COMPOSER_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, &errs.ConfigError{Field: "config_path", Message: err.Error()}
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, &errs.ConfigError{Field: "config_file", Message: err.Error()}
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides mirrors the original platform client's
// `COMPOSER_<GROUP>__<KEY>` environment convention, applied field by field
// (the agent has no generic nested-struct env decoder).
func applyEnvOverrides(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &errs.ConfigError{Field: key, Message: fmt.Sprintf("expected bool, got %q", v)}
		}
		*dst = b
		return nil
	}
	duration := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return &errs.ConfigError{Field: key, Message: fmt.Sprintf("expected duration, got %q", v)}
		}
		*dst = d
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return &errs.ConfigError{Field: key, Message: fmt.Sprintf("expected int, got %q", v)}
		}
		*dst = n
		return nil
	}

	str("COMPOSER_MANAGER__ID", &cfg.Manager.ID)
	str("COMPOSER_MANAGER__NAME", &cfg.Manager.Name)
	str("COMPOSER_MANAGER__IDENTITY_DIR", &cfg.Manager.IdentityDir)
	if err := duration("COMPOSER_MANAGER__HEARTBEAT_INTERVAL", &cfg.Manager.HeartbeatInterval); err != nil {
		return err
	}
	if err := duration("COMPOSER_MANAGER__RECONCILE_INTERVAL", &cfg.Manager.ReconcileInterval); err != nil {
		return err
	}
	if err := integer("COMPOSER_MANAGER__LOG_BATCH_SIZE", &cfg.Manager.LogBatchSize); err != nil {
		return err
	}

	str("COMPOSER_OPENCTI__URL", &cfg.OpenCTI.URL)
	str("COMPOSER_OPENCTI__TOKEN", &cfg.OpenCTI.Token)

	if v, ok := os.LookupEnv("COMPOSER_OPENCTI__DAEMON__TYPE"); ok {
		cfg.OpenCTI.Daemon.Type = DaemonType(v)
	}

	str("COMPOSER_OPENCTI__DAEMON__KUBERNETES__NAMESPACE", &cfg.OpenCTI.Daemon.Kubernetes.Namespace)
	str("COMPOSER_OPENCTI__DAEMON__KUBERNETES__KUBECONFIG_PATH", &cfg.OpenCTI.Daemon.Kubernetes.KubeconfigPath)
	if err := boolean("COMPOSER_OPENCTI__DAEMON__KUBERNETES__IN_CLUSTER", &cfg.OpenCTI.Daemon.Kubernetes.InCluster); err != nil {
		return err
	}

	str("COMPOSER_OPENCTI__DAEMON__DOCKER__SOCKET", &cfg.OpenCTI.Daemon.Docker.Socket)
	str("COMPOSER_OPENCTI__DAEMON__DOCKER__REGISTRY__URL", &cfg.OpenCTI.Daemon.Docker.Registry.URL)
	str("COMPOSER_OPENCTI__DAEMON__DOCKER__REGISTRY__USERNAME", &cfg.OpenCTI.Daemon.Docker.Registry.Username)
	str("COMPOSER_OPENCTI__DAEMON__DOCKER__REGISTRY__PASSWORD", &cfg.OpenCTI.Daemon.Docker.Registry.Password)
	if err := boolean("COMPOSER_OPENCTI__DAEMON__DOCKER__REGISTRY__INSECURE", &cfg.OpenCTI.Daemon.Docker.Registry.Insecure); err != nil {
		return err
	}

	str("COMPOSER_OPENCTI__DAEMON__PORTAINER__URL", &cfg.OpenCTI.Daemon.Portainer.URL)
	str("COMPOSER_OPENCTI__DAEMON__PORTAINER__API_KEY", &cfg.OpenCTI.Daemon.Portainer.APIKey)
	str("COMPOSER_OPENCTI__DAEMON__PORTAINER__ENDPOINT_ID", &cfg.OpenCTI.Daemon.Portainer.EndpointID)
	str("COMPOSER_OPENCTI__DAEMON__PORTAINER__REGISTRY__URL", &cfg.OpenCTI.Daemon.Portainer.Registry.URL)
	str("COMPOSER_OPENCTI__DAEMON__PORTAINER__REGISTRY__USERNAME", &cfg.OpenCTI.Daemon.Portainer.Registry.Username)
	str("COMPOSER_OPENCTI__DAEMON__PORTAINER__REGISTRY__PASSWORD", &cfg.OpenCTI.Daemon.Portainer.Registry.Password)
	if err := boolean("COMPOSER_OPENCTI__DAEMON__PORTAINER__REGISTRY__INSECURE", &cfg.OpenCTI.Daemon.Portainer.Registry.Insecure); err != nil {
		return err
	}

	str("COMPOSER_LOGGER__LEVEL", &cfg.Logger.Level)
	if err := boolean("COMPOSER_LOGGER__JSON", &cfg.Logger.JSON); err != nil {
		return err
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.OpenCTI.URL == "" {
		return &errs.ConfigError{Field: "opencti.url", Message: "must be set"}
	}
	if cfg.OpenCTI.Token == "" {
		return &errs.ConfigError{Field: "opencti.token", Message: "must be set"}
	}

	switch cfg.OpenCTI.Daemon.Type {
	case DaemonKubernetes, DaemonDocker, DaemonPortainer:
	default:
		return &errs.ConfigError{
			Field:   "opencti.daemon.type",
			Message: fmt.Sprintf("must be one of kubernetes|docker|portainer, got %q", cfg.OpenCTI.Daemon.Type),
		}
	}

	if cfg.Manager.LogBatchSize <= 0 {
		return &errs.ConfigError{Field: "manager.log_batch_size", Message: "must be positive"}
	}

	return nil
}

// Env returns the active config profile, $COMPOSER_ENV, defaulting to
// "production".
func Env() string {
	if v := os.Getenv("COMPOSER_ENV"); v != "" {
		return v
	}
	return "production"
}
