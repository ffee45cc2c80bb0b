package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/deskflow/pkg/entitystore"
	"github.com/dukex/deskflow/pkg/persistence"
	"github.com/dukex/deskflow/pkg/persistence/file"
	"github.com/dukex/deskflow/pkg/persistence/postgresql"
	"github.com/dukex/deskflow/pkg/protocol"
)

const directoryCacheTTL = time.Minute

// Storage bundles the repositories with the entity store and user directory
// that live next to them.
type Storage struct {
	Persistence persistence.Persistence
	Store       protocol.EntityStore
	Directory   protocol.Directory
}

// NewStorage picks the backend from the database URL scheme: postgres:// and
// postgresql:// use PostgreSQL, file:// or a bare path uses JSON files with an
// in-memory entity store.
func NewStorage(ctx context.Context, logger *slog.Logger, databaseURL string) (*Storage, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres":
		db, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return &Storage{
			Persistence: db,
			Store:       db.EntityStore(),
			Directory:   entitystore.NewCachedDirectory(db.EntityStore(), directoryCacheTTL),
		}, nil
	default:
		root := strings.TrimPrefix(databaseURL, "file://")
		if root == "" {
			return nil, fmt.Errorf("%w: empty database URL", persistence.ErrInvalidID)
		}

		logger.WarnContext(ctx, "Using file persistence; entities are kept in memory", "root", root)

		store := entitystore.NewMemory()

		return &Storage{
			Persistence: file.NewPersistence(root),
			Store:       store,
			Directory:   store,
		}, nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	default:
		return "file"
	}
}
