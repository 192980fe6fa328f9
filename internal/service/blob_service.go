package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/revision-checker/pkg/errors"
)

const blobCachePrefix = "blob:"

// BlobStore is the persistence side of the content-addressable store.
type BlobStore interface {
	Store(ctx context.Context, data []byte) (string, bool, error)
	Get(ctx context.Context, id string) ([]byte, error)
}

// BlobService stores artifacts by content and serves them through the read cache.
type BlobService struct {
	store   BlobStore
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewBlobService constructs the service. cache and metrics may be nil.
func NewBlobService(store BlobStore, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *BlobService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobService{store: store, cache: cache, metrics: metrics, logger: logger}
}

// Store saves data and returns its id. Storing identical bytes again returns
// the same id without writing.
func (s *BlobService) Store(ctx context.Context, data []byte) (string, error) {
	id, created, err := s.store.Store(ctx, data)
	if err != nil {
		return "", err
	}
	s.metrics.RecordBlobStore(created)
	return id, nil
}

// Get loads a blob, preferring the cache. Blobs never change so cached
// copies are never invalidated.
func (s *BlobService) Get(ctx context.Context, id string) ([]byte, error) {
	key := blobCachePrefix + id
	if data, hit, err := s.cache.Get(ctx, key); err == nil && hit {
		return data, nil
	}

	data, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("blob %s not found", id))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load blob")
	}

	if err := s.cache.Set(ctx, key, data, 0); err != nil {
		s.logger.Debug("blob cache fill skipped", zap.String("blob_id", id), zap.Error(err))
	}
	return data, nil
}
