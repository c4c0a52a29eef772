package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dvloznov/finance-backup/internal/apperr"
	"github.com/dvloznov/finance-backup/internal/domain"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Name     string
	Metadata map[string]string
	Created  time.Time
	Size     int64
}

// ObjectStore is the blob storage the primary snapshot store writes to.
// Read must return an error wrapping apperr.ErrNotFound for missing objects.
type ObjectStore interface {
	Write(ctx context.Context, name string, data []byte, metadata map[string]string) error
	Read(ctx context.Context, name string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// Metadata keys stored alongside each snapshot object so listings do not
// have to download payloads.
const (
	metaID          = "snapshot-id"
	metaTimestamp   = "snapshot-timestamp"
	metaVersion     = "snapshot-version"
	metaDescription = "snapshot-description"
	metaChecksum    = "snapshot-checksum"
	metaCount       = "snapshot-count"
)

// RemoteStore is the primary snapshot store: one JSON object per snapshot
// under a prefix in an ObjectStore. Retention is left to the bucket policy.
type RemoteStore struct {
	objects ObjectStore
	prefix  string
}

// NewRemoteStore creates a RemoteStore writing under prefix.
func NewRemoteStore(objects ObjectStore, prefix string) *RemoteStore {
	return &RemoteStore{objects: objects, prefix: strings.Trim(prefix, "/")}
}

func (s *RemoteStore) objectName(id string) string {
	return path.Join(s.prefix, id+".json")
}

// Save implements Store.
func (s *RemoteStore) Save(ctx context.Context, snap domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return apperr.ValidationFailure("RemoteStore.Save", err)
	}

	meta := map[string]string{
		metaID:          snap.ID,
		metaTimestamp:   snap.Timestamp.UTC().Format(time.RFC3339Nano),
		metaVersion:     snap.Version,
		metaDescription: snap.Description,
		metaChecksum:    snap.Checksum,
		metaCount:       strconv.Itoa(snap.TransactionCount),
	}
	if err := s.objects.Write(ctx, s.objectName(snap.ID), payload, meta); err != nil {
		return apperr.StorageFailure("RemoteStore.Save", err)
	}
	return nil
}

// List implements Store.
func (s *RemoteStore) List(ctx context.Context) ([]domain.Snapshot, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	objects, err := s.objects.List(ctx, prefix)
	if err != nil {
		return nil, apperr.StorageFailure("RemoteStore.List", err)
	}

	snaps := make([]domain.Snapshot, 0, len(objects))
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, ".json") {
			continue
		}
		snaps = append(snaps, summaryFromObject(obj))
	}
	sortNewestFirst(snaps)
	return snaps, nil
}

func summaryFromObject(obj ObjectInfo) domain.Snapshot {
	snap := domain.Snapshot{
		ID:          obj.Metadata[metaID],
		Version:     obj.Metadata[metaVersion],
		Description: obj.Metadata[metaDescription],
		Checksum:    obj.Metadata[metaChecksum],
		Timestamp:   obj.Created,
	}
	if snap.ID == "" {
		snap.ID = strings.TrimSuffix(path.Base(obj.Name), ".json")
	}
	if ts, err := time.Parse(time.RFC3339Nano, obj.Metadata[metaTimestamp]); err == nil {
		snap.Timestamp = ts
	}
	if n, err := strconv.Atoi(obj.Metadata[metaCount]); err == nil {
		snap.TransactionCount = n
	}
	return snap
}

// Get implements Store.
func (s *RemoteStore) Get(ctx context.Context, id string) (domain.Snapshot, error) {
	data, err := s.objects.Read(ctx, s.objectName(id))
	if errors.Is(err, apperr.ErrNotFound) {
		return domain.Snapshot{}, fmt.Errorf("snapshot %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return domain.Snapshot{}, apperr.StorageFailure("RemoteStore.Get", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.Snapshot{}, apperr.ValidationFailure("RemoteStore.Get", fmt.Errorf("decode snapshot %s: %w", id, err))
	}
	return snap, nil
}

// Ensure RemoteStore implements Store.
var _ Store = (*RemoteStore)(nil)
