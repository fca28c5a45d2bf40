package transcoder

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// EngineConfig configures an Engine. Zero fields take the defaults of
// DefaultEngineConfig.
type EngineConfig struct {
	// ProgressInterval is the number of loop iterations between progress
	// updates.
	ProgressInterval int
	// Backoff is how long the loop sleeps when no pipeline made progress.
	Backoff time.Duration

	Logger    logrus.FieldLogger
	Validator FormatValidator
	Codecs    CodecFactory

	OpenSource SourceFactory
	OpenMuxer  MuxerFactory
}

// DefaultEngineConfig returns the default engine configuration: fMP4 output,
// native codecs from the provider registry and the MP4 format profile.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ProgressInterval: 10,
		Backoff:          10 * time.Millisecond,
		Logger:           logrus.StandardLogger(),
		Validator:        MP4Profile{},
		Codecs:           RegistryCodecs{},
		OpenSource:       OpenSource,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	def := DefaultEngineConfig()
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = def.ProgressInterval
	}
	if c.Backoff <= 0 {
		c.Backoff = def.Backoff
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Validator == nil {
		c.Validator = def.Validator
	}
	if c.Codecs == nil {
		c.Codecs = def.Codecs
	}
	if c.OpenSource == nil {
		c.OpenSource = def.OpenSource
	}
	if c.OpenMuxer == nil {
		log := c.Logger
		c.OpenMuxer = func(path string) (Muxer, error) {
			return NewFMP4Muxer(path, log)
		}
	}
	return c
}

// JobConfig describes one transcode.
type JobConfig struct {
	Input      io.ReadSeeker
	OutputPath string
	Strategy   FormatStrategy
	Snapshot   SnapshotOptions
}

// Validate checks the job without touching the filesystem.
func (j JobConfig) Validate() error {
	if j.Input == nil {
		return errors.Wrap(ErrInvalidState, "input not set")
	}
	if j.OutputPath == "" {
		return errors.Wrap(ErrInvalidArgument, "output path not set")
	}
	if j.Strategy == nil {
		return errors.Wrap(ErrInvalidArgument, "format strategy not set")
	}
	if j.Snapshot.Interval < 0 {
		return errors.Wrap(ErrInvalidArgument, "negative snapshot interval")
	}
	if j.Snapshot.Interval > 0 && j.Snapshot.Path == "" {
		return errors.Wrap(ErrInvalidArgument, "snapshot interval without path")
	}
	return nil
}
