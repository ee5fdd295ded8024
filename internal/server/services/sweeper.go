package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/telehealth/internal/blobstore"
	"github.com/dmitrijs2005/telehealth/internal/logging"
	"github.com/dmitrijs2005/telehealth/internal/server/repositories/repomanager"
)

// Sweeper removes stored files that no record or version references.
// Such orphans are left behind when an upload or update fails after its
// file was written.
type Sweeper struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	store       blobstore.Store
	grace       time.Duration
	logger      logging.Logger
	now         func() time.Time
}

// NewSweeper builds a Sweeper. Objects younger than grace are never
// removed, so in-flight uploads are not mistaken for orphans.
func NewSweeper(db *sql.DB, m repomanager.RepositoryManager, s blobstore.Store, grace time.Duration, l logging.Logger) *Sweeper {
	return &Sweeper{
		db:          db,
		repomanager: m,
		store:       s,
		grace:       grace,
		logger:      l.With("module", "sweeper"),
		now:         time.Now,
	}
}

// Sweep runs one pass and returns the number of deleted objects.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	// Listing before reading references keeps a key committed in between
	// from being seen as unreferenced.
	objects, err := s.store.List(ctx)
	if err != nil {
		return 0, err
	}

	keys, err := s.repomanager.Records(s.db).ReferencedKeys(ctx)
	if err != nil {
		return 0, err
	}
	referenced := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		referenced[k] = struct{}{}
	}

	cutoff := s.now().Add(-s.grace)
	deleted := 0
	for _, o := range objects {
		if _, ok := referenced[o.Key]; ok || o.Modified.After(cutoff) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		s.store.Delete(ctx, o.Key)
		deleted++
	}

	s.logger.Info(ctx, "sweep finished", "scanned", len(objects), "deleted", deleted)
	return deleted, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error(ctx, "sweep failed", "error", err)
			}
		}
	}
}
