package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"ocr-watch/internal/errs"
)

//go:embed defaults.yaml
var defaultConfig []byte

// EnvPrefix prefixes environment overrides. Sections are separated by a
// double underscore: OCRWATCH_SCHEDULER__MAX_CONCURRENT_TASKS=2.
const EnvPrefix = "OCRWATCH_"

// Config is the full runtime configuration
type Config struct {
	Engine     Engine     `koanf:"engine"`
	Scheduler  Scheduler  `koanf:"scheduler"`
	Executor   Executor   `koanf:"executor"`
	Recognizer Recognizer `koanf:"recognizer"`
	Annotate   Annotate   `koanf:"annotate"`
	Store      Store      `koanf:"store"`
	Server     Server     `koanf:"server"`
	Log        Log        `koanf:"log"`
}

type Engine struct {
	AutoStart    bool          `koanf:"auto_start"`
	AutoSave     bool          `koanf:"auto_save"`
	SaveInterval time.Duration `koanf:"save_interval"`
	ErrorBackoff time.Duration `koanf:"error_backoff"`
	DefaultArea  Area          `koanf:"default_area"`
}

// Area holds the defaults applied to new monitor areas
type Area struct {
	RefreshRate   time.Duration `koanf:"refresh_rate"`
	Language      string        `koanf:"language"`
	Preprocessing bool          `koanf:"preprocessing"`
	SaveImages    bool          `koanf:"save_images"`
	SaveDir       string        `koanf:"save_dir"`
}

type Scheduler struct {
	CheckInterval      time.Duration `koanf:"check_interval"`
	MaxConcurrentTasks int           `koanf:"max_concurrent_tasks"`
	StopTimeout        time.Duration `koanf:"stop_timeout"`
	RetryFailedTasks   bool          `koanf:"retry_failed_tasks"`
	MaxRetries         int           `koanf:"max_retries"`
	RetryDelay         time.Duration `koanf:"retry_delay"`
}

type Executor struct {
	DefaultDelay       time.Duration     `koanf:"default_delay"`
	MouseSpeed         float64           `koanf:"mouse_speed"`
	SafeMode           bool              `koanf:"safe_mode"`
	AllowCommands      bool              `koanf:"allow_commands"`
	CommandTimeout     time.Duration     `koanf:"command_timeout"`
	DangerousCommands  []string          `koanf:"dangerous_commands"`
	ScreenshotDir      string            `koanf:"screenshot_dir"`
	ScriptInterpreters map[string]string `koanf:"script_interpreters"`
}

type Recognizer struct {
	TessdataPrefix string  `koanf:"tessdata_prefix"`
	Scale          float64 `koanf:"scale"`
}

// Annotate controls the label stamped onto saved capture images
type Annotate struct {
	Enabled bool    `koanf:"enabled"`
	DPI     float64 `koanf:"dpi"`
	Size    float64 `koanf:"size"`
	Hinting string  `koanf:"hinting"` // none | full
}

type Store struct {
	Driver string `koanf:"driver"` // sqlite | file | memory
	Path   string `koanf:"path"`
}

type Server struct {
	Enabled bool   `koanf:"enabled"`
	BindIP  string `koanf:"bind_ip"`
	Port    int    `koanf:"port"`
}

// Addr is the listen address for the control API
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindIP, s.Port)
}

type Log struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	File   string `koanf:"file"`
}

type rawBytesProvider struct{ bytes []byte }

func (r *rawBytesProvider) ReadBytes() ([]byte, error) { return r.bytes, nil }
func (r *rawBytesProvider) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("rawBytesProvider does not support Read()")
}

// Load layers the embedded defaults, the optional YAML file at path, OCRWATCH_*
// environment variables and finally overrides (flat "section.key" map).
func Load(path string, overrides map[string]interface{}) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(&rawBytesProvider{bytes: defaultConfig}, yaml.Parser()); err != nil {
		return nil, errs.Wrap(err, errs.ErrConfig, "failed to load defaults")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, errs.Wrapf(err, errs.ErrConfig, "config file %s", path)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errs.Wrapf(err, errs.ErrConfig, "failed to load config from %s", path)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, errs.Wrap(err, errs.ErrConfig, "failed to load env vars")
	}

	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return nil, errs.Wrap(err, errs.ErrConfig, "failed to apply overrides")
		}
	}

	var cfg Config
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, errs.Wrap(err, errs.ErrConfig, "failed to unmarshal configuration")
	}

	cfg.applyPaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the embedded defaults with paths resolved
func Default() *Config {
	cfg, err := Load("", nil)
	if err != nil {
		panic(fmt.Sprintf("embedded defaults are invalid: %v", err))
	}
	return cfg
}

func (c *Config) applyPaths() {
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "file":
			c.Store.Path = filepath.Join(xdg.DataHome, "ocr-watch", "config")
		default:
			c.Store.Path = filepath.Join(xdg.DataHome, "ocr-watch", "ocr-watch.db")
		}
	}
	if c.Executor.ScreenshotDir == "" {
		c.Executor.ScreenshotDir = filepath.Join(xdg.UserDirs.Pictures, "ocr-watch")
	}
	if c.Engine.DefaultArea.SaveDir == "" {
		c.Engine.DefaultArea.SaveDir = filepath.Join(xdg.DataHome, "ocr-watch", "captures")
	}
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.Scheduler.CheckInterval <= 0:
		return errs.New(errs.ErrConfig, "scheduler.check_interval must be positive")
	case c.Scheduler.MaxConcurrentTasks < 1:
		return errs.New(errs.ErrConfig, "scheduler.max_concurrent_tasks must be at least 1")
	case c.Scheduler.MaxRetries < 0:
		return errs.New(errs.ErrConfig, "scheduler.max_retries must not be negative")
	case c.Engine.DefaultArea.RefreshRate <= 0:
		return errs.New(errs.ErrConfig, "engine.default_area.refresh_rate must be positive")
	case c.Engine.ErrorBackoff < 0:
		return errs.New(errs.ErrConfig, "engine.error_backoff must not be negative")
	case c.Executor.CommandTimeout <= 0:
		return errs.New(errs.ErrConfig, "executor.command_timeout must be positive")
	case c.Executor.DefaultDelay < 0:
		return errs.New(errs.ErrConfig, "executor.default_delay must not be negative")
	case c.Recognizer.Scale <= 0:
		return errs.New(errs.ErrConfig, "recognizer.scale must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "file", "memory":
	default:
		return errs.Newf(errs.ErrConfig, "store.driver %q must be sqlite, file or memory", c.Store.Driver)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return errs.Newf(errs.ErrConfig, "server.port %d out of range", c.Server.Port)
	}
	return nil
}
