// Package config loads build settings from assetflow.yaml and the
// environment, and the source layout from assetflow.hcl.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"assetflow/pkg/deploy"
	"assetflow/pkg/faults"
	"assetflow/pkg/favicon"
)

const (
	// FileName is the settings file looked up from the working directory
	FileName = "assetflow.yaml"
	// LayoutFileName is the optional layout file next to the settings file
	LayoutFileName = "assetflow.hcl"
	// EnvPrefix prefixes environment overrides, e.g. ASSETFLOW_SERVER_PORT
	EnvPrefix = "ASSETFLOW"
)

// Config holds every build setting
type Config struct {
	Production bool     `mapstructure:"production"`
	Browsers   []string `mapstructure:"browsers"`
	// CacheDir stores optimized images between runs
	CacheDir string `mapstructure:"cache_dir"`
	// Layout is the layout file, relative to Root
	Layout string `mapstructure:"layout"`

	Dirs     Dirs           `mapstructure:"dirs"`
	Server   Server         `mapstructure:"server"`
	Watch    Watch          `mapstructure:"watch"`
	Sass     Sass           `mapstructure:"sass"`
	Prefixer Prefixer       `mapstructure:"prefixer"`
	Images   Images         `mapstructure:"images"`
	Favicon  Favicon        `mapstructure:"favicon"`
	Deploy   deploy.Options `mapstructure:"deploy"`
	Log      Log            `mapstructure:"log"`

	// Root is the project directory: where the settings file was found, or
	// the start directory when there is none
	Root string `mapstructure:"-"`
	// File is the settings file that was read, if any
	File string `mapstructure:"-"`
}

// Dirs are the layout variables src, dist and modules
type Dirs struct {
	Src     string `mapstructure:"src"`
	Dist    string `mapstructure:"dist"`
	Modules string `mapstructure:"modules"`
}

// Server configures the development server
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// BaseDir defaults to the output directory
	BaseDir string `mapstructure:"base_dir"`
	Notify  bool   `mapstructure:"notify"`
}

// Watch configures the watch controller
type Watch struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Sass configures the style compiler
type Sass struct {
	Binary       string        `mapstructure:"binary"`
	IncludePaths []string      `mapstructure:"include_paths"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// DefaultPrefixCommand reads CSS on stdin and writes the prefixed CSS
var DefaultPrefixCommand = []string{"npx", "postcss", "--use", "autoprefixer"}

// Prefixer configures the vendor prefix command. An empty command turns
// prefixing off.
type Prefixer struct {
	Command []string `mapstructure:"command"`
}

// Images configures production image optimization
type Images struct {
	JPEGQuality        int  `mapstructure:"jpeg_quality"`
	PNGBestCompression bool `mapstructure:"png_best_compression"`
}

// Favicon configures the icon set
type Favicon struct {
	Icons           favicon.Icons `mapstructure:"icons"`
	AppName         string        `mapstructure:"app_name"`
	BackgroundColor string        `mapstructure:"background_color"`
	ThemeColor      string        `mapstructure:"theme_color"`
}

// Log configures logging
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var defaults = map[string]any{
	"production": true,
	"browsers":   []string{"last 5 versions"},
	"cache_dir":  "",
	"layout":     "",

	"dirs.src":     "src",
	"dirs.dist":    "dist",
	"dirs.modules": "node_modules",

	"server.host":     "localhost",
	"server.port":     4000,
	"server.base_dir": "",
	"server.notify":   false,

	"watch.debounce": 100 * time.Millisecond,

	"sass.binary":        "",
	"sass.include_paths": []string{},
	"sass.timeout":       30 * time.Second,

	"prefixer.command": DefaultPrefixCommand,

	"images.jpeg_quality":         70,
	"images.png_best_compression": true,

	"favicon.icons.favicons":      true,
	"favicon.icons.android":       true,
	"favicon.icons.apple_icon":    true,
	"favicon.icons.apple_startup": false,
	"favicon.app_name":            "",
	"favicon.background_color":    "#ffffff",
	"favicon.theme_color":         "#ffffff",

	"deploy.endpoint":   "",
	"deploy.bucket":     "",
	"deploy.region":     "",
	"deploy.access_key": "",
	"deploy.secret_key": "",
	"deploy.prefix":     "",
	"deploy.use_ssl":    true,
	"deploy.workers":    4,

	"log.level":  "info",
	"log.format": "console",
}

// Load reads the settings. file may be empty, in which case FileName is
// searched from startDir upwards and the nearest one wins; no file at all
// means defaults plus environment.
func Load(startDir, file string) (*Config, error) {
	absStart, err := filepath.Abs(startDir)
	if err != nil {
		return nil, faults.IO("resolve", startDir, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file == "" {
		file = Find(absStart, FileName)
	} else if !filepath.IsAbs(file) {
		file = filepath.Join(absStart, file)
	}

	cfg := &Config{Root: absStart}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, faults.Configf("config file %s does not exist", file)
			}
			return nil, faults.Configf("failed to read config %s: %v", file, err)
		}
		cfg.File = file
		cfg.Root = filepath.Dir(file)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, faults.Configf("failed to unmarshal config: %v", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Find walks up the directory hierarchy from startDir and returns the first
// path named name, or "" if there is none
func Find(startDir, name string) string {
	currentDir := startDir
	for {
		candidate := filepath.Join(currentDir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached filesystem root
			return ""
		}
		currentDir = parentDir
	}
}

func (c *Config) resolve() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return faults.Configf("server.port %d is out of range", c.Server.Port)
	}
	if c.Dirs.Dist == "" {
		return faults.Configf("dirs.dist must not be empty")
	}

	if c.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		c.CacheDir = filepath.Join(base, "assetflow")
	}
	c.CacheDir = c.Path(c.CacheDir)

	if c.Server.BaseDir == "" {
		c.Server.BaseDir = c.Dirs.Dist
	}
	c.Server.BaseDir = c.Path(c.Server.BaseDir)

	if c.Layout == "" {
		if _, err := os.Stat(c.Path(LayoutFileName)); err == nil {
			c.Layout = LayoutFileName
		}
	}
	if c.Layout != "" {
		c.Layout = c.Path(c.Layout)
	}

	for i, p := range c.Sass.IncludePaths {
		c.Sass.IncludePaths[i] = c.Path(p)
	}
	return nil
}

// Path resolves p against Root unless it is absolute
func (c *Config) Path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Root, p)
}

// DistDir is the absolute output directory
func (c *Config) DistDir() string {
	return c.Path(c.Dirs.Dist)
}
