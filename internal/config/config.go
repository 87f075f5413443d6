// Package config handles configuration loading from CLI flags, environment variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings for shopsync.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Local   LocalConfig   `toml:"local"`
	Hub     HubConfig     `toml:"hub"`
	Storage StorageConfig `toml:"storage"`
	Dataset DatasetConfig `toml:"dataset"`
	Shop    ShopConfig    `toml:"shop"`
	Logging LoggingConfig `toml:"logging"`
}

// RemoteConfig holds the connection parameters of the realtime store.
type RemoteConfig struct {
	URL       string `toml:"url"`
	Project   string `toml:"project"`
	AccessKey string `toml:"access_key"`
	Namespace string `toml:"namespace"` // Path prefix for every key
}

// Complete reports whether all required connection parameters are set.
func (r RemoteConfig) Complete() bool {
	return r.URL != "" && r.Project != "" && r.AccessKey != ""
}

// LocalConfig holds settings for the local persistent store.
type LocalConfig struct {
	Type          string   `toml:"type"`            // "memory", "file", "sqlite"
	Dir           string   `toml:"dir"`             // file backend directory
	Path          string   `toml:"path"`            // sqlite file path
	Prefix        string   `toml:"prefix"`          // key namespace
	MaxValueBytes int      `toml:"max_value_bytes"` // 0 = unlimited
	PollInterval  Duration `toml:"poll_interval"`   // sqlite change polling
}

// HubConfig holds settings for the realtime hub server.
type HubConfig struct {
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Projects      []string `toml:"projects"`
	AccessKeys    []string `toml:"access_keys"`
	MaxValueBytes int      `toml:"max_value_bytes"`
}

// StorageConfig holds hub persistence settings.
type StorageConfig struct {
	Type string `toml:"type"` // "memory", "sqlite", "postgresql"
	Path string `toml:"path"` // SQLite file path
	URL  string `toml:"url"`  // PostgreSQL connection URL
}

// DatasetConfig locates the bundled read-only datasets.
type DatasetConfig struct {
	BaseURL string   `toml:"base_url"` // http(s) URL or local directory
	Timeout Duration `toml:"timeout"`
}

// ShopConfig holds storefront settings.
type ShopConfig struct {
	ShippingCost float64 `toml:"shipping_cost"`
	AdminUsers   string  `toml:"admin_users"` // user:password:name:role|...
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level     string `toml:"level"`     // "debug", "info", "warn", "error"
	Verbosity int    `toml:"verbosity"` // 0=warnings, 1=connections, 2=messages, 3=keys, 4=values
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] == 'v' && strings.Trim(arg[1:], "v") == "" {
			for range arg[1:] {
				result = append(result, "-v")
			}
			continue
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Namespace: "spookiki",
		},
		Local: LocalConfig{
			Type:         "file",
			Dir:          ".shopsync",
			Path:         "shopsync.db",
			Prefix:       "spookiki_",
			PollInterval: Duration(500 * time.Millisecond),
		},
		Hub: HubConfig{
			Host:          "0.0.0.0",
			Port:          8085,
			MaxValueBytes: 10 << 20,
		},
		Storage: StorageConfig{
			Type: "memory",
			Path: "hub.db",
		},
		Dataset: DatasetConfig{
			BaseURL: "data",
			Timeout: Duration(10 * time.Second),
		},
		Shop: ShopConfig{
			ShippingCost: 6.50,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Verbosity: 0,
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and TOML file.
// Priority: CLI flags > env vars > TOML file > defaults
func Load(name string, args []string) (*Config, []string, error) {
	cfg := DefaultConfig()
	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "config/shopsync.toml", "TOML configuration file")

	// Remote flags
	remoteURL := fs.String("remote-url", "", "Realtime store endpoint URL")
	project := fs.String("project", "", "Realtime store project id")
	accessKey := fs.String("access-key", "", "Realtime store access key")
	namespace := fs.String("namespace", "", "Remote key namespace")

	// Local flags
	localType := fs.String("local", "", "Local store type: memory, file, sqlite")
	localDir := fs.String("local-dir", "", "Local file store directory")
	localPath := fs.String("local-path", "", "Local SQLite store path")

	// Hub flags
	host := fs.String("host", "", "Hub listen address")
	port := fs.Int("port", 0, "Hub listen port")
	storage := fs.String("storage", "", "Hub storage type: memory, sqlite, postgresql")
	storagePath := fs.String("storage-path", "", "Hub SQLite database path")
	storageURL := fs.String("storage-url", "", "Hub PostgreSQL connection URL")

	// Dataset flags
	datasets := fs.String("datasets", "", "Dataset base URL or directory")

	// Logging flags
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error")
	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if err := cfg.loadTOML(*configPath); err != nil && !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config %s: %w", *configPath, err)
	}

	cfg.applyEnv()

	// Apply CLI flags (highest priority)
	setString(&cfg.Remote.URL, *remoteURL)
	setString(&cfg.Remote.Project, *project)
	setString(&cfg.Remote.AccessKey, *accessKey)
	setString(&cfg.Remote.Namespace, *namespace)
	setString(&cfg.Local.Type, *localType)
	setString(&cfg.Local.Dir, *localDir)
	setString(&cfg.Local.Path, *localPath)
	setString(&cfg.Hub.Host, *host)
	if *port != 0 {
		cfg.Hub.Port = *port
	}
	setString(&cfg.Storage.Type, *storage)
	setString(&cfg.Storage.Path, *storagePath)
	setString(&cfg.Storage.URL, *storageURL)
	setString(&cfg.Dataset.BaseURL, *datasets)
	setString(&cfg.Logging.Level, *logLevel)
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, fs.Args(), nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	setString(&c.Remote.URL, os.Getenv("SHOPSYNC_REMOTE_URL"))
	setString(&c.Remote.Project, os.Getenv("SHOPSYNC_PROJECT"))
	setString(&c.Remote.AccessKey, os.Getenv("SHOPSYNC_ACCESS_KEY"))
	setString(&c.Remote.Namespace, os.Getenv("SHOPSYNC_NAMESPACE"))
	setString(&c.Local.Type, os.Getenv("SHOPSYNC_LOCAL"))
	setString(&c.Local.Dir, os.Getenv("SHOPSYNC_LOCAL_DIR"))
	setString(&c.Local.Path, os.Getenv("SHOPSYNC_LOCAL_PATH"))
	setString(&c.Hub.Host, os.Getenv("SHOPSYNC_HOST"))
	if v := os.Getenv("SHOPSYNC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Hub.Port = port
		}
	}
	if v := os.Getenv("SHOPSYNC_ACCESS_KEYS"); v != "" {
		c.Hub.AccessKeys = splitList(v)
	}
	if v := os.Getenv("SHOPSYNC_PROJECTS"); v != "" {
		c.Hub.Projects = splitList(v)
	}
	setString(&c.Storage.Type, os.Getenv("SHOPSYNC_STORAGE"))
	setString(&c.Storage.Path, os.Getenv("SHOPSYNC_STORAGE_PATH"))
	setString(&c.Storage.URL, os.Getenv("SHOPSYNC_STORAGE_URL"))
	setString(&c.Dataset.BaseURL, os.Getenv("SHOPSYNC_DATASETS"))
	setString(&c.Shop.AdminUsers, os.Getenv("SHOPSYNC_ADMIN_USERS"))
	setString(&c.Logging.Level, os.Getenv("SHOPSYNC_LOG_LEVEL"))
	if v := os.Getenv("SHOPSYNC_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Verbosity returns the configured verbosity level.
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log prints a message if the configured verbosity is at least level.
// Level 0 messages are warnings and errors and are always printed.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if c == nil {
		log.Printf(format, args...)
		return
	}
	if level > c.Logging.Verbosity {
		return
	}
	if level > 0 {
		format = fmt.Sprintf("[v%d] ", level) + format
	}
	log.Printf(format, args...)
}
