// Package config loads the hellofs configuration.
//
// Configuration comes from a single YAML file named by the --config
// flag or the HELLOFS_CONFIG environment variable. Without either the
// compiled-in defaults apply. The file is read once at startup; the
// served namespace never changes afterwards.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/KarpelesLab/hellofs"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "HELLOFS_CONFIG"

// Backend selects the FUSE transport.
type Backend string

const (
	// BackendNative is the built-in /dev/fuse transport.
	BackendNative Backend = "native"
	// BackendGoFuse serves through github.com/hanwen/go-fuse.
	BackendGoFuse Backend = "gofuse"
)

// Config is the complete hellofs configuration.
type Config struct {
	// Mountpoint is the directory the filesystem is mounted on.
	Mountpoint string `yaml:"mountpoint"`

	// Backend selects the transport. Default: native
	Backend Backend `yaml:"backend"`

	// FSName is shown in /proc/mounts. Default: hello_fs_ll
	FSName string `yaml:"fsname"`

	// Subtype is appended to the filesystem type (fuse.<subtype>).
	Subtype string `yaml:"subtype"`

	// AllowOther lets other users access the mount.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`

	// DirectMount calls mount(2) instead of fusermount.
	// Requires CAP_SYS_ADMIN.
	DirectMount bool `yaml:"direct_mount"`

	// Readers is the number of /dev/fuse descriptors the native
	// transport reads from. Default: 1
	Readers int `yaml:"readers"`

	// Debug logs every request and reply.
	Debug bool `yaml:"debug"`

	// File configures the single file in the root directory.
	File FileConfig `yaml:"file"`

	// Log configures diagnostic output.
	Log LogConfig `yaml:"log"`
}

// FileConfig configures the served file.
type FileConfig struct {
	// Name is the file's basename. Default: hello.txt
	Name string `yaml:"name"`

	// Content is the file's data. Default: "Hello world!\n"
	Content string `yaml:"content"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Default: error
	Level string `yaml:"level"`

	// Format is text or json. Default: text
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Backend: BackendNative,
		FSName:  hellofs.DefaultFSName,
		Readers: 1,
		File: FileConfig{
			Name:    hellofs.DefaultFileName,
			Content: hellofs.DefaultContent,
		},
		Log: LogConfig{
			Level:  "error",
			Format: "text",
		},
	}
}

// Load reads the file at path, or the file named by HELLOFS_CONFIG when
// path is empty. With neither set it returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. Keys absent
// from the file keep their defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Backend != BackendNative && c.Backend != BackendGoFuse {
		errs = append(errs, fmt.Errorf("backend must be %q or %q, got %q", BackendNative, BackendGoFuse, c.Backend))
	}

	if err := hellofs.ValidateFileName(c.File.Name); err != nil {
		errs = append(errs, fmt.Errorf("file.name: %w", err))
	}

	if c.Readers < 1 {
		errs = append(errs, fmt.Errorf("readers must be at least 1, got %d", c.Readers))
	}

	if _, err := c.Log.level(); err != nil {
		errs = append(errs, err)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func (l LogConfig) level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// NewLogger builds the logger described by l, writing to w.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}
	options := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, options)), nil
	}
	return slog.New(slog.NewTextHandler(w, options)), nil
}

// Namespace builds the namespace served under this configuration.
func (c *Config) Namespace() (*hellofs.Namespace, error) {
	return hellofs.NewNamespace(c.File.Name, []byte(c.File.Content))
}
