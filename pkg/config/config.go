package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LayoutMode selects how downloaded files are arranged on disk.
type LayoutMode string

const (
	// LayoutKeep preserves the site's directory structure under the output dir.
	LayoutKeep LayoutMode = "keep"
	// LayoutFlatten places files under host/<type>/ directories.
	LayoutFlatten LayoutMode = "flatten"
)

// ResourceTypes toggles which asset categories are downloaded.
type ResourceTypes struct {
	CSS       bool `yaml:"css"`
	JS        bool `yaml:"js"`
	Images    bool `yaml:"images"`
	Fonts     bool `yaml:"fonts"`
	Videos    bool `yaml:"videos"`
	SVG       bool `yaml:"svg"`
	Documents bool `yaml:"documents"`
}

// RenderConfig controls the optional headless-browser page source.
type RenderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	WaitAfterLoad time.Duration `yaml:"wait_after_load"`
	ScrollPasses  int           `yaml:"scroll_passes"`
}

// HTTPClientConfig holds transport-level settings shared by all fetches.
type HTTPClientConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
	DialTimeout         time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout"`
}

// Config holds all settings for a mirror run.
type Config struct {
	BaseURLs  []string `yaml:"base_urls"`
	OutputDir string   `yaml:"output_dir"`
	CacheDir  string   `yaml:"cache_dir"`

	UserAgent   string        `yaml:"user_agent"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	Retries     int           `yaml:"retries"`
	MaxDepth    int           `yaml:"max_depth"`
	RateLimit   time.Duration `yaml:"rate_limit"`

	ResourceTypes       ResourceTypes `yaml:"resource_types"`
	IncludeSubdomains   bool          `yaml:"include_subdomains"`
	FollowExternalLinks bool          `yaml:"follow_external_links"`
	RespectRobots       bool          `yaml:"respect_robots"`

	MaxFileSize   int64      `yaml:"max_file_size"`
	Layout        LayoutMode `yaml:"layout"`
	FlattenDedupe bool       `yaml:"flatten_dedupe"`

	Exclusions      []string          `yaml:"exclusions"`
	Headers         map[string]string `yaml:"headers"`
	BasicAuthUser   string            `yaml:"basic_auth_user"`
	BasicAuthPass   string            `yaml:"basic_auth_pass"`
	BearerToken     string            `yaml:"bearer_token"`
	IgnoreMIMETypes []string          `yaml:"ignore_mime_types"`

	MaxPages     int `yaml:"max_pages"`
	MaxResources int `yaml:"max_resources"`
	MaxImages    int `yaml:"max_images"`

	Proxy              string `yaml:"proxy"`
	IgnoreHTTPSErrors  bool   `yaml:"ignore_https_errors"`
	RemoveQueryStrings bool   `yaml:"remove_query_strings"`

	Render     RenderConfig     `yaml:"render"`
	HTTPClient HTTPClientConfig `yaml:"http_client"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config populated with sensible defaults. Callers
// overlay file or flag values on top of it before validation.
func Default() Config {
	return Config{
		OutputDir:   "mirror_output",
		CacheDir:    "mirror_cache",
		UserAgent:   "sitemirror/1.0",
		Concurrency: 8,
		Timeout:     30 * time.Second,
		Retries:     3,
		MaxDepth:    3,
		RateLimit:   0,
		ResourceTypes: ResourceTypes{
			CSS:       true,
			JS:        true,
			Images:    true,
			Fonts:     true,
			Videos:    false,
			SVG:       true,
			Documents: false,
		},
		IncludeSubdomains:   false,
		FollowExternalLinks: false,
		RespectRobots:       true,
		MaxFileSize:         100 * 1024 * 1024,
		Layout:              LayoutKeep,
		Render: RenderConfig{
			Enabled:       false,
			WaitAfterLoad: 2 * time.Second,
			ScrollPasses:  3,
		},
		HTTPClient: HTTPClientConfig{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialTimeout:         15 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		LogLevel: "info",
	}
}

// LoadFile reads a YAML config file and overlays it on the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("error reading config file '%s': %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config file '%s': %w", path, err)
	}

	return cfg, nil
}
