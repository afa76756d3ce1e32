// Package config loads armls settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"

	"github.com/samvidmistry/Armls"
	"github.com/samvidmistry/Armls/internal/compose"
)

// EnvVar names the environment variable holding a config file path.
const EnvVar = "ARMLS_CONFIG"

// FileName is the config file looked up in the working directory.
const FileName = ".armls.yaml"

// Config holds every setting. Zero values fall back to defaults.
type Config struct {
	SchemaDir            string `yaml:"schema_dir"`
	Catalog              string `yaml:"catalog"`
	BaseURL              string `yaml:"base_url"`
	CommonDefinitions    string `yaml:"common_definitions"`
	ResourceRefsPath     string `yaml:"resource_refs_path"`
	ResourceBranchesPath string `yaml:"resource_branches_path"`
	RulesDir             string `yaml:"rules_dir"`
	FetchTimeout         string `yaml:"fetch_timeout"`
	Offline              bool   `yaml:"offline"`
	LogLevel             string `yaml:"log_level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BaseURL:              compose.DefaultBaseURL,
		ResourceRefsPath:     compose.DefaultResourceRefsPath,
		ResourceBranchesPath: compose.DefaultResourceBranchesPath,
		FetchTimeout:         armls.DefaultFetchTimeout.String(),
		LogLevel:             "warning",
	}
}

// Find returns the config file to load: explicit when set, then $ARMLS_CONFIG,
// then .armls.yaml in dir when it exists. Empty means none.
func Find(explicit, dir string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(EnvVar); env != "" {
		return env
	}
	candidate := filepath.Join(dir, FileName)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return ""
}

// Load reads path over the defaults. Relative directories in the file are
// resolved against the file's directory. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.resolve(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) resolve(base string) {
	for _, p := range []*string{&c.SchemaDir, &c.Catalog, &c.RulesDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// Validate reports settings that cannot be used.
func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}
	if _, err := c.Timeout(); err != nil {
		return err
	}
	if c.Offline && c.SchemaDir == "" {
		return errors.New("offline mode needs schema_dir")
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() (logging.Level, error) {
	name := strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch name {
	case "":
		return logging.WARNING, nil
	case "warn":
		name = "warning"
	}
	lvl, err := logging.LogLevel(name)
	if err != nil {
		return lvl, fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	return lvl, nil
}

// Timeout returns the remote retrieval timeout.
func (c Config) Timeout() (time.Duration, error) {
	if c.FetchTimeout == "" {
		return armls.DefaultFetchTimeout, nil
	}
	d, err := time.ParseDuration(c.FetchTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid fetch_timeout %q: %w", c.FetchTimeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("fetch_timeout must be positive, got %s", d)
	}
	return d, nil
}

// EngineOptions translates the settings into Engine options. Call Validate
// first; invalid values fall back to defaults here.
func (c Config) EngineOptions() []armls.Option {
	timeout, err := c.Timeout()
	if err != nil {
		timeout = armls.DefaultFetchTimeout
	}
	opts := []armls.Option{
		armls.WithRemote(!c.Offline),
		armls.WithFetchTimeout(timeout),
	}
	if c.SchemaDir != "" {
		opts = append(opts, armls.WithSchemaDir(c.SchemaDir))
	}
	if c.Catalog != "" {
		opts = append(opts, armls.WithCatalog(c.Catalog))
	}
	if c.BaseURL != "" {
		opts = append(opts, armls.WithBaseURL(c.BaseURL))
	}
	if c.CommonDefinitions != "" {
		opts = append(opts, armls.WithCommonDefinitions(c.CommonDefinitions))
	}
	if c.ResourceRefsPath != "" || c.ResourceBranchesPath != "" {
		refs, branches := c.ResourceRefsPath, c.ResourceBranchesPath
		if refs == "" {
			refs = compose.DefaultResourceRefsPath
		}
		if branches == "" {
			branches = compose.DefaultResourceBranchesPath
		}
		opts = append(opts, armls.WithRewritePaths(refs, branches))
	}
	if c.RulesDir != "" {
		opts = append(opts, armls.WithRulesDir(c.RulesDir))
	}
	return opts
}
