package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Backend kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindS3     = "s3"
	KindMemory = "memory"
)

// DefaultSQLitePath is where the CLI keeps state when no backend is configured.
const DefaultSQLitePath = ".cloudplan/state.db"

// Options selects and configures a backend.
type Options struct {
	Kind   string
	SQLite SQLiteConfig
	S3     S3Config
}

// Open creates the backend named by opts.Kind. An empty kind selects s3 when
// a bucket is set and sqlite otherwise.
func Open(ctx context.Context, opts Options) (Backend, error) {
	kind := opts.Kind
	if kind == "" {
		kind = KindSQLite
		if opts.S3.Bucket != "" {
			kind = KindS3
		}
	}

	switch kind {
	case KindSQLite:
		cfg := opts.SQLite
		if cfg.Path == "" {
			cfg.Path = DefaultSQLitePath
		}
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		return OpenSQLite(ctx, cfg)
	case KindS3:
		return OpenS3(ctx, opts.S3)
	case KindMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", kind)
	}
}
