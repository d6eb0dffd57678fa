package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/beam-cloud/contestfs/pkg/contest"
	"github.com/beam-cloud/contestfs/pkg/ejudge"
	"github.com/beam-cloud/contestfs/pkg/filestore"
	"github.com/beam-cloud/contestfs/pkg/render"
	"github.com/beam-cloud/contestfs/pkg/snapshot"
	"github.com/beam-cloud/contestfs/pkg/submit"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Environment variables read by ApplyEnv.
const (
	EnvURL        = "CONTESTFS_URL"
	EnvLogin      = "CONTESTFS_LOGIN"
	EnvPassword   = "CONTESTFS_PASSWORD"
	EnvMountPoint = "CONTESTFS_MOUNTPOINT"
	EnvLogLevel   = "CONTESTFS_LOG_LEVEL"
)

// DefaultEnvFile is read by the mount command when present.
const DefaultEnvFile = ".env"

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type ServerConfig struct {
	URL              string   `toml:"url"`
	UserAgent        string   `toml:"user_agent"`
	Timeout          Duration `toml:"timeout"`
	MaxResponseBytes int64    `toml:"max_response_bytes"`
}

type MountConfig struct {
	MountPoint   string   `toml:"mountpoint"`
	AllowOther   bool     `toml:"allow_other"`
	Debug        bool     `toml:"debug"`
	AttrTimeout  Duration `toml:"attr_timeout"`
	EntryTimeout Duration `toml:"entry_timeout"`
}

// ViewConfig overrides the freshness policy of one view.
type ViewConfig struct {
	TTL        *Duration `toml:"ttl"`
	RetryDelay *Duration `toml:"retry_delay"`
}

type CacheConfig struct {
	TTL         Duration `toml:"ttl"`
	RetryDelay  Duration `toml:"retry_delay"`
	SessionTTL  Duration `toml:"session_ttl"`
	RenderBytes int64    `toml:"render_bytes"`

	// Views is keyed by view name: contests, session, contest_info, log,
	// problem_info, statement, run_info, run_source, messages, test_data.
	Views map[string]ViewConfig `toml:"views"`
}

type StoreConfig struct {
	MaxNodes int   `toml:"max_nodes"`
	MaxBytes int64 `toml:"max_bytes"`
}

type SubmitConfig struct {
	Delay Duration `toml:"delay"`
}

type LimitsConfig struct {
	MaxProblemID int `toml:"max_problem_id"`
	MaxLangID    int `toml:"max_lang_id"`
	MaxTestNum   int `toml:"max_test_num"`
}

type Config struct {
	LogLevel string       `toml:"log_level"`
	Server   ServerConfig `toml:"server"`
	Mount    MountConfig  `toml:"mount"`
	Cache    CacheConfig  `toml:"cache"`
	Store    StoreConfig  `toml:"store"`
	Submit   SubmitConfig `toml:"submit"`
	Limits   LimitsConfig `toml:"limits"`

	// Credentials never come from the config file.
	Login    string `toml:"-"`
	Password string `toml:"-"`
}

func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Timeout:          Duration{30 * time.Second},
			MaxResponseBytes: ejudge.DefaultMaxResponseSize,
		},
		Mount: MountConfig{
			AttrTimeout:  Duration{time.Second},
			EntryTimeout: Duration{time.Second},
		},
		Cache: CacheConfig{
			TTL:         Duration{contest.DefaultCacheTTL},
			RetryDelay:  Duration{contest.DefaultRetryDelay},
			SessionTTL:  Duration{contest.DefaultSessionTTL},
			RenderBytes: render.DefaultCacheBytes,
		},
		Store: StoreConfig{
			MaxNodes: filestore.DefaultMaxNodes,
			MaxBytes: filestore.DefaultMaxBytes,
		},
		Submit: SubmitConfig{Delay: Duration{submit.DefaultDelay}},
		Limits: LimitsConfig{
			MaxProblemID: contest.DefaultMaxProblemID,
			MaxLangID:    contest.DefaultMaxLangID,
			MaxTestNum:   contest.DefaultMaxTestNum,
		},
	}
}

// Load reads a TOML config file over the defaults. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(c)
}

// ApplyEnv overrides the config from the environment. Variables missing
// from the environment are taken from the given dotenv files; files that
// do not exist are skipped.
func (c *Config) ApplyEnv(envFiles ...string) error {
	vars := make(map[string]string)
	for _, file := range envFiles {
		m, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
		for k, v := range m {
			if _, ok := vars[k]; !ok {
				vars[k] = v
			}
		}
	}

	get := func(key string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return vars[key]
	}

	if v := get(EnvURL); v != "" {
		c.Server.URL = v
	}
	if v := get(EnvMountPoint); v != "" {
		c.Mount.MountPoint = v
	}
	if v := get(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	c.Login = get(EnvLogin)
	c.Password = get(EnvPassword)
	return nil
}

func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server url is required")
	}
	if u, err := url.Parse(c.Server.URL); err != nil || u.Host == "" {
		return fmt.Errorf("invalid server url %q", c.Server.URL)
	}
	if c.Mount.MountPoint == "" {
		return fmt.Errorf("mountpoint is required")
	}
	if c.Login == "" {
		return fmt.Errorf("%s is not set", EnvLogin)
	}

	for name, d := range map[string]Duration{
		"cache.ttl":         c.Cache.TTL,
		"cache.retry_delay": c.Cache.RetryDelay,
		"cache.session_ttl": c.Cache.SessionTTL,
		"submit.delay":      c.Submit.Delay,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, v := range c.Cache.Views {
		if _, ok := viewPolicy(&contest.Policies{}, name); !ok {
			return fmt.Errorf("unknown view %q in cache.views", name)
		}
		if v.TTL != nil && v.TTL.Duration < 0 {
			return fmt.Errorf("cache.views.%s.ttl must not be negative", name)
		}
		if v.RetryDelay != nil && v.RetryDelay.Duration < 0 {
			return fmt.Errorf("cache.views.%s.retry_delay must not be negative", name)
		}
	}
	return nil
}

func viewPolicy(p *contest.Policies, view string) (*snapshot.Policy, bool) {
	fields := map[string]*snapshot.Policy{
		"contests":     &p.ContestList,
		"session":      &p.Session,
		"contest_info": &p.ContestInfo,
		"log":          &p.Log,
		"problem_info": &p.ProblemInfo,
		"statement":    &p.Statement,
		"run_info":     &p.RunInfo,
		"run_source":   &p.RunSource,
		"messages":     &p.Messages,
		"test_data":    &p.TestData,
	}
	f, ok := fields[view]
	return f, ok
}

// Policies returns the per-view freshness policies. Views whose contents
// never change keep a zero TTL unless overridden under cache.views.
func (c *Config) Policies() contest.Policies {
	mutable := snapshot.Policy{CacheTTL: c.Cache.TTL.Duration, RetryDelay: c.Cache.RetryDelay.Duration}
	immutable := snapshot.Policy{RetryDelay: c.Cache.RetryDelay.Duration}

	p := contest.Policies{
		ContestList: mutable,
		Session:     snapshot.Policy{CacheTTL: c.Cache.SessionTTL.Duration, RetryDelay: c.Cache.RetryDelay.Duration},
		ContestInfo: mutable,
		Log:         mutable,
		ProblemInfo: mutable,
		Statement:   immutable,
		RunInfo:     mutable,
		RunSource:   immutable,
		Messages:    mutable,
		TestData:    immutable,
	}

	for name, v := range c.Cache.Views {
		f, ok := viewPolicy(&p, name)
		if !ok {
			continue
		}
		if v.TTL != nil {
			f.CacheTTL = v.TTL.Duration
		}
		if v.RetryDelay != nil {
			f.RetryDelay = v.RetryDelay.Duration
		}
	}
	return p
}

func (c *Config) ContestOptions() contest.Options {
	p := c.Policies()
	return contest.Options{
		Policies: &p,
		Store: filestore.Options{
			MaxNodes: c.Store.MaxNodes,
			MaxBytes: c.Store.MaxBytes,
		},
		MaxProblemID: c.Limits.MaxProblemID,
		MaxLangID:    c.Limits.MaxLangID,
		MaxTestNum:   c.Limits.MaxTestNum,
	}
}
