package server

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/mipvol/cutout"
	"github.com/janelia-flyem/mipvol/downres"
	"github.com/janelia-flyem/mipvol/ingest"
	"github.com/janelia-flyem/mipvol/mipvol"
	"github.com/janelia-flyem/mipvol/storage"
	"github.com/janelia-flyem/mipvol/taskqueue"
)

const (
	// DefaultWebAddress is the default address of the web server
	DefaultWebAddress = "localhost:8000"

	// DefaultShutdownDelay is the default seconds to wait for requests to finish
	// on shutdown.
	DefaultShutdownDelay = 5
)

// Config is the parsed TOML configuration of a mipvol server or worker.
type Config struct {
	Server     ServerConfig
	Logging    mipvol.LogConfig
	Store      storage.Config
	Cache      CacheConfig
	Cutout     CutoutConfig
	Ingest     IngestConfig
	Downsample DownsampleConfig
	Retry      RetryConfig
	Kafka      taskqueue.KafkaConfig

	location string
}

// ServerConfig is the [server] section.
type ServerConfig struct {
	HTTPAddress    string   `toml:"httpAddress"`
	Host           string   // alias reported to clients
	Note           string   // free text returned by /api/server/info
	AllowedOrigins []string `toml:"allowed_origins"` // CORS origins; empty allows none
	ShutdownDelay  int      `toml:"shutdown_delay"`  // seconds
}

// CacheConfig is the [cache] section.  A zero size disables the chunk cache.
type CacheConfig struct {
	Size int // MB
}

// CutoutConfig is the [cutout] section.
type CutoutConfig struct {
	Parallelism int
	FillMissing *bool   `toml:"fill_missing"`
	FillValue   float64 `toml:"fill_value"`
	Squeeze     bool
}

// IngestConfig is the [ingest] section.
type IngestConfig struct {
	Parallelism int
	ChunkSize   []int32 `toml:"chunk_size"` // z, y, x chunk size of created volumes
}

// DownsampleConfig is the [downsample] section.
type DownsampleConfig struct {
	Factor      []int32 // z, y, x factor between levels
	Isotropic   bool    // shorthand for factor 2, 2, 2
	MaxLevels   int     `toml:"max_levels"`
	Parallelism int     // tasks run or published concurrently
	Queue       string  // "local" or "kafka"
	MaxReadMB   int64   `toml:"max_read_mb"` // source data one task may read
}

// RetryConfig is the [retry] section for transient store errors.
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   duration `toml:"base_delay"`
	MaxDelay    duration `toml:"max_delay"`
}

type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) (err error) {
	d.Duration, err = time.ParseDuration(string(text))
	return
}

// DefaultConfig returns the configuration used for settings a TOML file omits.
func DefaultConfig() *Config {
	retry := storage.DefaultRetryPolicy()
	return &Config{
		Server: ServerConfig{
			HTTPAddress:   DefaultWebAddress,
			ShutdownDelay: DefaultShutdownDelay,
		},
		Store: storage.Config{"engine": "ngprecomputed", "ref": "mem://"},
		Retry: RetryConfig{
			MaxAttempts: retry.MaxAttempts,
			BaseDelay:   duration{retry.BaseDelay},
			MaxDelay:    duration{retry.MaxDelay},
		},
		Downsample: DownsampleConfig{Queue: "local"},
	}
}

// LoadConfig loads configuration from a TOML file.  Relative file paths in the
// file are taken relative to the file's directory.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no TOML configuration file provided")
	}
	c := DefaultConfig()
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	c.location = filename
	c.convertPathsToAbsolute(filename)
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("bad TOML config %q: %v", filename, err)
	}
	return c, nil
}

// Location returns the file the configuration was loaded from, if any.
func (c *Config) Location() string {
	return c.location
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) {
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	c.Logging.Logfile = mipvol.ConvertToAbsolute(c.Logging.Logfile, configDir)

	// [store].ref for local files
	if ref, found, _ := c.Store.GetString("ref"); found && strings.HasPrefix(ref, "file://") {
		dir := strings.TrimPrefix(ref, "file://")
		c.Store["ref"] = "file://" + filepath.ToSlash(mipvol.ConvertToAbsolute(dir, configDir))
	}
}

func (c *Config) validate() error {
	if len(c.Ingest.ChunkSize) != 0 && len(c.Ingest.ChunkSize) != 3 {
		return fmt.Errorf("[ingest] chunk_size must have 3 elements (z, y, x)")
	}
	if len(c.Downsample.Factor) != 0 && len(c.Downsample.Factor) != 3 {
		return fmt.Errorf("[downsample] factor must have 3 elements (z, y, x)")
	}
	switch c.Downsample.Queue {
	case "", "local":
	case "kafka":
		if len(c.Kafka.Servers) == 0 {
			return fmt.Errorf("[downsample] queue is kafka but no [kafka] servers are given")
		}
	default:
		return fmt.Errorf("unknown [downsample] queue %q", c.Downsample.Queue)
	}
	return nil
}

// RetryPolicy returns the policy for transient store errors.
func (c *Config) RetryPolicy() storage.RetryPolicy {
	return storage.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay.Duration,
		MaxDelay:    c.Retry.MaxDelay.Duration,
	}
}

// CutoutOptions returns the reader options from [cutout].
func (c *Config) CutoutOptions() cutout.Options {
	opts := cutout.DefaultOptions()
	if c.Cutout.Parallelism > 0 {
		opts.Parallelism = c.Cutout.Parallelism
	}
	if c.Cutout.FillMissing != nil {
		opts.FillMissing = *c.Cutout.FillMissing
	}
	opts.FillValue = c.Cutout.FillValue
	opts.Squeeze = c.Cutout.Squeeze
	opts.Retry = c.RetryPolicy()
	return opts
}

// IngestOptions returns the writer options from [ingest].
func (c *Config) IngestOptions() ingest.Options {
	opts := ingest.DefaultOptions()
	if c.Ingest.Parallelism > 0 {
		opts.Parallelism = c.Ingest.Parallelism
	}
	opts.Retry = c.RetryPolicy()
	return opts
}

// IngestChunkSize returns the chunk size for volumes created by ingests.
func (c *Config) IngestChunkSize() mipvol.Point3d {
	if len(c.Ingest.ChunkSize) != 3 {
		return ingest.DefaultChunkSize
	}
	return mipvol.Point3d{c.Ingest.ChunkSize[0], c.Ingest.ChunkSize[1], c.Ingest.ChunkSize[2]}
}

// DownsampleOptions returns the dispatcher options from [downsample].
func (c *Config) DownsampleOptions() downres.Options {
	opts := downres.DefaultOptions()
	switch {
	case len(c.Downsample.Factor) == 3:
		opts.Factor = mipvol.Point3d{c.Downsample.Factor[0], c.Downsample.Factor[1], c.Downsample.Factor[2]}
	case c.Downsample.Isotropic:
		opts.Factor = downres.IsotropicFactor
	}
	if c.Downsample.MaxLevels > 0 {
		opts.MaxLevels = c.Downsample.MaxLevels
	}
	opts.Retry = c.RetryPolicy()
	return opts
}

// DownsampleParallelism returns the number of concurrent downsample tasks.
func (c *Config) DownsampleParallelism() int {
	if c.Downsample.Parallelism > 0 {
		return c.Downsample.Parallelism
	}
	return 8
}

// OpenStore opens the [store] engine, wrapped in a chunk cache if [cache] has a
// size.
func (c *Config) OpenStore() (storage.Store, error) {
	store, err := storage.Open(c.Store)
	if err != nil {
		return nil, err
	}
	if c.Cache.Size > 0 {
		return storage.NewCachedStore(store, c.Cache.Size*mipvol.Mega), nil
	}
	return store, nil
}

// NewExecutor returns a downsample executor reading from store.
func (c *Config) NewExecutor(store storage.Store) *downres.Executor {
	exec := downres.NewExecutor(store, c.CutoutOptions().Parallelism, c.RetryPolicy())
	exec.SetMaxReadBytes(c.Downsample.MaxReadMB * mipvol.Mega)
	return exec
}

// OpenQueue returns the queue selected by [downsample] queue.  The returned
// closer releases any connections.
func (c *Config) OpenQueue(store storage.Store) (downres.Queue, func() error, error) {
	if c.Downsample.Queue == "kafka" {
		producer, err := c.Kafka.NewProducer()
		if err != nil {
			return nil, nil, err
		}
		q := taskqueue.NewKafka(producer, c.Kafka)
		return q, q.Close, nil
	}
	q := taskqueue.NewLocal(c.NewExecutor(store), c.DownsampleParallelism(), c.RetryPolicy())
	return q, func() error { return nil }, nil
}
