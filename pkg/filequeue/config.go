package filequeue

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vnykmshr/filequeue/archive"
	"github.com/vnykmshr/filequeue/internal/logging"
)

// Config is the YAML form of Options.
//
//	segment_capacity_bytes: 67108864
//	sync_policy: interval
//	sync_interval: 1s
//	retention:
//	  keep_segments: 2
//	  keep_for: 24h
//	compression: zstd
//	log:
//	  level: info
//	  format: json
//	archive:
//	  type: s3
//	  bucket: queue-archive
type Config struct {
	SegmentCapacityBytes uint64          `yaml:"segment_capacity_bytes"`
	SyncPolicy           string          `yaml:"sync_policy"`
	SyncInterval         time.Duration   `yaml:"sync_interval"`
	AutoReclaim          bool            `yaml:"auto_reclaim"`
	Retention            RetentionConfig `yaml:"retention"`
	Compression          string          `yaml:"compression"`
	CompressionLevel     int             `yaml:"compression_level"`
	MinCompressionSize   int             `yaml:"min_compression_size"`
	MaxRecordSize        int64           `yaml:"max_record_size"`
	MinFreeDiskSpace     int64           `yaml:"min_free_disk_space"`
	StreamPollInterval   time.Duration   `yaml:"stream_poll_interval"`
	Log                  LogConfig       `yaml:"log"`
	Archive              ArchiveConfig   `yaml:"archive"`
}

// RetentionConfig is the YAML form of RetentionPolicy.
type RetentionConfig struct {
	KeepSegments int           `yaml:"keep_segments"`
	KeepFor      time.Duration `yaml:"keep_for"`
}

// LogConfig selects the logger built by Config.Options.
type LogConfig struct {
	// Level is debug, info, warn or error
	Level string `yaml:"level"`

	// Format is json, text or none
	Format string `yaml:"format"`
}

// ArchiveConfig describes where reclaimed segments are archived.
//
// Type "local" is built by Config.Options. Types "s3" and "minio" need a
// remote client and are built by the caller; the filequeue command does so.
type ArchiveConfig struct {
	Type            string `yaml:"type"`
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	BytesPerSecond  int    `yaml:"bytes_per_second"`
}

// DefaultConfig returns the Config equivalent of DefaultOptions.
func DefaultConfig() *Config {
	d := DefaultOptions()
	return &Config{
		SegmentCapacityBytes: d.SegmentCapacity,
		SyncPolicy:           d.SyncPolicy.String(),
		SyncInterval:         d.SyncInterval,
		AutoReclaim:          d.AutoReclaim,
		Compression:          d.Compression.String(),
		MinCompressionSize:   d.MinCompressionSize,
		MaxRecordSize:        d.MaxRecordSize,
		MinFreeDiskSpace:     d.MinFreeDiskSpace,
		StreamPollInterval:   d.StreamPollInterval,
		Log:                  LogConfig{Level: "info", Format: "none"},
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
// Keys absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML over DefaultConfig.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Options converts the configuration. Log output goes to logOutput, or to
// os.Stderr when logOutput is nil.
func (c *Config) Options(logOutput io.Writer) (*Options, error) {
	policy, err := ParseSyncPolicy(c.SyncPolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	codec, err := ParseCompressionType(c.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	opts := DefaultOptions()
	opts.SegmentCapacity = c.SegmentCapacityBytes
	opts.SyncPolicy = policy
	opts.SyncInterval = c.SyncInterval
	opts.AutoReclaim = c.AutoReclaim
	opts.Compression = codec
	opts.CompressionLevel = c.CompressionLevel
	opts.MinCompressionSize = c.MinCompressionSize
	opts.MaxRecordSize = c.MaxRecordSize
	opts.MinFreeDiskSpace = c.MinFreeDiskSpace
	opts.StreamPollInterval = c.StreamPollInterval

	if logOutput == nil {
		logOutput = os.Stderr
	}
	if opts.Logger, err = c.Log.logger(logOutput); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	archiver, err := c.Archive.local()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if c.Retention != (RetentionConfig{}) || archiver != nil {
		opts.Retention = &RetentionPolicy{
			KeepSegments: c.Retention.KeepSegments,
			KeepFor:      c.Retention.KeepFor,
			Archiver:     archiver,
		}
	}

	return opts, nil
}

func (l LogConfig) logger(w io.Writer) (Logger, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(l.Format) {
	case "", "none":
		return nil, nil
	case "json":
		return &internalLogger{l: logging.NewJSONLogger(w, level)}, nil
	case "text":
		return &internalLogger{l: logging.NewTextLogger(w, level)}, nil
	default:
		return nil, fmt.Errorf("unknown log format: %q", l.Format)
	}
}

// local returns the archiver for type "local", nil for "" and remote types.
func (a ArchiveConfig) local() (Archiver, error) {
	switch strings.ToLower(a.Type) {
	case "", "none", "s3", "minio":
		return nil, nil
	case "local":
		if a.Dir == "" {
			return nil, fmt.Errorf("archive dir is required for local archiving")
		}
		return archive.Throttle(archive.NewLocalArchiver(a.Dir), a.BytesPerSecond), nil
	default:
		return nil, fmt.Errorf("unknown archive type: %q", a.Type)
	}
}
