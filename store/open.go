package store

import (
	"context"
	"fmt"

	"github.com/justapithecus/lode/lode"

	"github.com/KendoTarakate/skin/log"
	"github.com/KendoTarakate/skin/metrics"
)

// Backend names accepted by Open.
const (
	BackendMemory     = "memory"
	BackendFS         = "fs"
	BackendS3         = "s3"
	BackendLodeMemory = "lode-memory"
)

// Options selects and configures a backend.
type Options struct {
	// Backend is memory, fs, s3 or lode-memory (default memory).
	Backend string
	// Path is the fs root directory, or "bucket/prefix" for s3.
	Path         string
	Region       string
	Endpoint     string
	UsePathStyle bool
	Logger       *log.Logger
	Metrics      *metrics.Collector
}

// Open creates the Store selected by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	var factory lode.StoreFactory
	prefix := DefaultPrefix

	switch opts.Backend {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendLodeMemory:
		factory = lode.NewMemoryFactory()
	case BackendFS:
		if opts.Path == "" {
			return nil, fmt.Errorf("fs storage requires a path")
		}
		f, err := NewFSFactory(opts.Path)
		if err != nil {
			return nil, err
		}
		factory = f
	case BackendS3:
		bucket, bucketPrefix := ParseS3Path(opts.Path)
		f, err := NewS3Factory(ctx, S3Config{
			Bucket:       bucket,
			Region:       opts.Region,
			Endpoint:     opts.Endpoint,
			UsePathStyle: opts.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		factory = f
		if bucketPrefix != "" {
			prefix = bucketPrefix
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q (must be memory, fs, s3 or lode-memory)", opts.Backend)
	}

	return OpenLode(ctx, factory, LodeConfig{
		Prefix:  prefix,
		Logger:  opts.Logger,
		Metrics: opts.Metrics,
	})
}
