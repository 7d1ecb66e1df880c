// Package config holds the runtime settings of patflow: where files live,
// how many tasks run at once and how the run is logged.
//
// Settings are layered: defaults, then the optional patflow.toml, then
// PATFLOW_* environment variables, then command line flags.
package config

import (
	"bytes"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/errors"

	"github.com/whacked/patflow/internal/logutil"
)

// FileName is the configuration file looked up next to the scenario.
const FileName = "patflow.toml"

const (
	defaultCacheDir = ".patflow.cache"
	envPrefix       = "PATFLOW_"
)

// Config is the full runtime configuration.
type Config struct {
	// Workdir is the base every relative pattern is resolved against.
	Workdir  string `toml:"workdir" json:"workdir"`
	CacheDir string `toml:"cache-dir" json:"cache-dir"`
	Workers  int    `toml:"workers" json:"workers"`
	FailFast bool   `toml:"fail-fast" json:"fail-fast"`
	DryRun   bool   `toml:"dry-run" json:"dry-run"`
	S3Region string `toml:"s3-region" json:"s3-region"`

	Log logutil.Config `toml:"log" json:"log"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		Workdir:  ".",
		CacheDir: defaultCacheDir,
		Workers:  runtime.NumCPU(),
		Log:      logutil.Config{Level: "info", Format: logutil.FormatText},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err = FromString(string(data))
	return cfg, errors.Annotatef(err, "config file %s", path)
}

// FromString decodes a TOML document on top of the defaults.
func FromString(data string) (*Config, error) {
	cfg := Default()
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, errors.Annotate(err, "decode config")
	}
	if err := checkUndecodedItems(meta); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from PATFLOW_* variables found through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	str("WORKDIR", &c.Workdir)
	str("CACHE_DIRECTORY", &c.CacheDir)
	str("S3_REGION", &c.S3Region)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("LOG_FILE", &c.Log.File)

	if v, ok := lookup(envPrefix + "WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Annotatef(err, "%sWORKERS", envPrefix)
		}
		c.Workers = n
	}
	for name, dst := range map[string]*bool{"FAIL_FAST": &c.FailFast, "DRY_RUN": &c.DryRun} {
		if v, ok := lookup(envPrefix + name); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return errors.Annotatef(err, "%s%s", envPrefix, name)
			}
			*dst = b
		}
	}
	return nil
}

// Adjust validates c and fills whatever is still empty.
func (c *Config) Adjust() error {
	if c.Workdir == "" {
		c.Workdir = "."
	}
	if c.CacheDir == "" {
		c.CacheDir = defaultCacheDir
	}
	if c.Workers <= 0 {
		return errors.Errorf("workers must be positive, got %d", c.Workers)
	}
	c.Log.Adjust()
	return nil
}

// Toml renders c as a TOML document.
func (c *Config) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", errors.Trace(err)
	}
	return b.String(), nil
}

func checkUndecodedItems(meta toml.MetaData) error {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	items := make([]string, 0, len(undecoded))
	for _, item := range undecoded {
		items = append(items, item.String())
	}
	return errors.Errorf("unknown config items: %s", strings.Join(items, ","))
}
