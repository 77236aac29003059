package storage

import (
	"context"
	"fmt"
	"log/slog"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

type Options struct {
	Driver   string
	PGDSN    string
	BoltPath string
	Migrate  bool
}

// Open builds the backend named by opts.Driver. An empty driver picks
// postgres when a DSN is configured and memory otherwise.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Store, error) {
	driver := opts.Driver
	if driver == "" {
		driver = DriverMemory
		if opts.PGDSN != "" {
			driver = DriverPostgres
		}
	}
	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverPostgres:
		ps, err := NewPostgresStore(opts.PGDSN)
		if err != nil {
			return nil, err
		}
		if opts.Migrate {
			applied, err := ps.Migrate(ctx)
			if err != nil {
				_ = ps.Close()
				return nil, err
			}
			logger.Info("migrations applied", "files", applied)
		}
		return ps, nil
	case DriverBolt:
		return NewBoltStore(opts.BoltPath)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}
