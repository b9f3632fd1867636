package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 5000
	DefaultIndexFile       = "index.html"
	DefaultMaxBodyBytes    = 1 << 20
	DefaultShutdownTimeout = 10 * time.Second

	DefaultCalculatorName    = "energy_tracker"
	DefaultCalculatorLabel   = "C++"
	DefaultCalculatorTimeout = 0 // no limit

	DefaultMetricsPath = "/metrics"
)

// Config is the top-level configuration parsed from config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Calculator CalculatorConfig `yaml:"calculator"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds the HTTP front door settings.
type ServerConfig struct {
	// HTTPPort is the port the front door listens on (default 5000).
	HTTPPort int `yaml:"http_port"`

	// IndexFile is the landing document served on GET /.
	// Relative paths are resolved against BaseDir.
	IndexFile string `yaml:"index_file"`

	// BaseDir is the deployment directory. Defaults to the directory of the
	// running server binary. A relative value is taken relative to the
	// config file.
	BaseDir string `yaml:"base_dir"`

	// MaxBodyBytes caps the size of a calculation request body.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ShutdownTimeout bounds graceful shutdown of in-flight requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin access to the API.
type CORSConfig struct {
	// AllowedOrigins defaults to ["*"]: any origin may call the API.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CalculatorConfig describes the external calculation executable.
type CalculatorConfig struct {
	// Name is the executable file name. On Windows a ".exe" suffix is tried
	// when the plain name does not exist.
	Name string `yaml:"name"`

	// Dir is the directory holding the executable. Defaults to Server.BaseDir.
	Dir string `yaml:"dir"`

	// Label names the process in error messages, e.g. "C++ calculation failed".
	Label string `yaml:"label"`

	// Timeout kills the child process when exceeded. Zero disables the limit.
	Timeout time.Duration `yaml:"timeout"`
}

// MetricsConfig controls the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// IndexPath returns the landing document path resolved against BaseDir.
func (s ServerConfig) IndexPath() string {
	return resolve(s.BaseDir, s.IndexFile)
}

// ExecutableDir returns the directory the calculator is looked up in.
func (c *Config) ExecutableDir() string {
	if c.Calculator.Dir == "" {
		return c.Server.BaseDir
	}
	return resolve(c.Server.BaseDir, c.Calculator.Dir)
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// Default returns the built-in configuration used when no config file is given.
func Default() *Config {
	return defaults()
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if cfg.Server.BaseDir != "" && !filepath.IsAbs(cfg.Server.BaseDir) {
		cfg.Server.BaseDir = filepath.Join(filepath.Dir(path), cfg.Server.BaseDir)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        DefaultHTTPPort,
			IndexFile:       DefaultIndexFile,
			BaseDir:         binaryDir(),
			MaxBodyBytes:    DefaultMaxBodyBytes,
			ShutdownTimeout: DefaultShutdownTimeout,
			CORS: CORSConfig{
				AllowedOrigins: []string{"*"},
			},
		},
		Calculator: CalculatorConfig{
			Name:    DefaultCalculatorName,
			Label:   DefaultCalculatorLabel,
			Timeout: DefaultCalculatorTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    DefaultMetricsPath,
		},
	}
}

// binaryDir returns the directory of the running executable, or "." if it
// cannot be determined.
func binaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	if cfg.Server.IndexFile == "" {
		return fmt.Errorf("server.index_file must not be empty")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server.max_body_bytes must be positive")
	}
	if cfg.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must not be negative")
	}
	if len(cfg.Server.CORS.AllowedOrigins) == 0 {
		cfg.Server.CORS.AllowedOrigins = []string{"*"}
	}
	name := cfg.Calculator.Name
	if name == "" {
		return fmt.Errorf("calculator.name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("calculator.name %q must be a file name, not a path (use calculator.dir)", name)
	}
	if cfg.Calculator.Label == "" {
		cfg.Calculator.Label = DefaultCalculatorLabel
	}
	if cfg.Calculator.Timeout < 0 {
		return fmt.Errorf("calculator.timeout must not be negative")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path %q must start with /", cfg.Metrics.Path)
	}
	return nil
}
