package snapshot

import (
	"context"
	"errors"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
	"github.com/dvloznov/finance-backup/internal/logger"
)

// Placement reports which stores accepted a snapshot.
type Placement struct {
	Primary bool `json:"primary"`
	Local   bool `json:"local"`
}

// Degraded is true when the snapshot only reached the local cache.
func (p Placement) Degraded() bool {
	return !p.Primary && p.Local
}

// FallbackStore writes to a primary store and mirrors into a local cache.
// Reads prefer the primary and fall back to the cache when the primary is
// unreachable or comes back empty while the cache is not. The cache is never
// authoritative: once the primary answers, its view wins.
type FallbackStore struct {
	primary Store
	local   Store
}

// NewFallbackStore composes primary and local. Either may be nil.
func NewFallbackStore(primary, local Store) *FallbackStore {
	return &FallbackStore{primary: primary, local: local}
}

// Save implements Store.
func (s *FallbackStore) Save(ctx context.Context, snap domain.Snapshot) error {
	_, err := s.SaveWithPlacement(ctx, snap)
	return err
}

// SaveWithPlacement writes snap to both stores. It fails only when neither
// store accepted the snapshot.
func (s *FallbackStore) SaveWithPlacement(ctx context.Context, snap domain.Snapshot) (Placement, error) {
	log := logger.FromContext(ctx)

	var placement Placement
	var primaryErr, localErr error

	if s.primary != nil {
		if primaryErr = s.primary.Save(ctx, snap); primaryErr == nil {
			placement.Primary = true
		} else {
			log.Warn().Err(primaryErr).Str("snapshot_id", snap.ID).Msg("Primary snapshot store failed, relying on local cache")
		}
	} else {
		primaryErr = errors.New("no primary store configured")
	}

	if s.local != nil {
		if localErr = s.local.Save(ctx, snap); localErr == nil {
			placement.Local = true
		} else {
			log.Warn().Err(localErr).Str("snapshot_id", snap.ID).Msg("Local snapshot mirror failed")
		}
	} else {
		localErr = errors.New("no local cache configured")
	}

	if !placement.Primary && !placement.Local {
		return placement, apperr.StorageFailure("FallbackStore.Save", errors.Join(primaryErr, localErr))
	}
	return placement, nil
}

// List implements Store.
func (s *FallbackStore) List(ctx context.Context) ([]domain.Snapshot, error) {
	log := logger.FromContext(ctx)

	var primaryErr error
	if s.primary != nil {
		snaps, err := s.primary.List(ctx)
		if err == nil && len(snaps) > 0 {
			return snaps, nil
		}
		if err == nil {
			if s.local == nil {
				return snaps, nil
			}
			cached, lerr := s.local.List(ctx)
			if lerr != nil || len(cached) == 0 {
				return snaps, nil
			}
			log.Warn().Int("cached", len(cached)).Msg("Primary snapshot store returned no snapshots, serving local cache")
			return cached, nil
		}
		primaryErr = err
		log.Warn().Err(err).Msg("Primary snapshot store unreachable, serving local cache")
	}

	if s.local == nil {
		return nil, primaryErr
	}
	cached, err := s.local.List(ctx)
	if err != nil {
		return nil, apperr.StorageFailure("FallbackStore.List", errors.Join(primaryErr, err))
	}
	return cached, nil
}

// Get implements Store.
func (s *FallbackStore) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	var primaryErr error
	if s.primary != nil {
		snap, err := s.primary.Get(ctx, id)
		if err == nil {
			return snap, nil
		}
		primaryErr = err
	}
	if s.local == nil {
		if primaryErr == nil {
			primaryErr = apperr.ErrNotFound
		}
		return domain.Snapshot{}, primaryErr
	}

	snap, err := s.local.Get(ctx, id)
	if err == nil {
		return snap, nil
	}
	if errors.Is(err, apperr.ErrNotFound) && (primaryErr == nil || errors.Is(primaryErr, apperr.ErrNotFound)) {
		return domain.Snapshot{}, err
	}
	return domain.Snapshot{}, apperr.StorageFailure("FallbackStore.Get", errors.Join(primaryErr, err))
}

// Ensure FallbackStore implements Store.
var _ Store = (*FallbackStore)(nil)
