package main

import (
	"fmt"
	"log/slog"

	"github.com/wolfeidau/svdb/backend"
	"github.com/wolfeidau/svdb/config"
	"github.com/wolfeidau/svdb/metadata"
	"github.com/wolfeidau/svdb/store"
)

// DBFlags selects the store for commands that open one. Unset flags fall
// back to the storage section of the config.
type DBFlags struct {
	DB      string `help:"Store directory." type:"path" placeholder:"DIR"`
	Backend string `help:"Storage backend (bolt, filesystem, memory)."`
}

func (f DBFlags) apply(cfg *config.Config) {
	if f.DB != "" {
		cfg.Storage.Path = f.DB
	}
	if f.Backend != "" {
		cfg.Storage.Backend = f.Backend
	}
}

// openEngine opens the store described by cfg.Storage.
func openEngine(cfg *config.Config, logger *slog.Logger, extra ...store.Option) (*store.Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	codec, err := metadata.ForFormat(cfg.Storage.MetadataFormat)
	if err != nil {
		return nil, err
	}
	compression, err := backend.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}

	opts := []store.Option{
		store.WithLogger(logger),
		store.WithCodec(codec),
		store.WithCompression(compression),
		store.WithBackendOptions(backend.WithNoSync(cfg.Storage.NoSync)),
	}
	opts = append(opts, extra...)

	switch cfg.Storage.Backend {
	case config.BackendBolt:
		return store.Open(cfg.Storage.Path, opts...)
	case config.BackendFilesystem:
		fs, err := backend.NewFilesystem(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("opening filesystem backend: %w", err)
		}
		return store.New(fs, opts...), nil
	case config.BackendMemory:
		return store.New(backend.NewMemory(), opts...), nil
	default:
		return nil, fmt.Errorf("unknown backend: %q", cfg.Storage.Backend)
	}
}
