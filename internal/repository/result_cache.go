package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ForecastMCP/internal/domain/models"
	domrepo "ForecastMCP/internal/domain/repository"
	"ForecastMCP/pkg/cache"
)

const latestStudyKey = "study:latest"

// CacheResultStore keeps the most recent study in a cache.Service.
type CacheResultStore struct {
	c   cache.Service
	ttl time.Duration
}

func NewCacheResultStore(c cache.Service, ttl time.Duration) *CacheResultStore {
	return &CacheResultStore{c: c, ttl: ttl}
}

func (s *CacheResultStore) SaveLatest(ctx context.Context, study *models.StudyResult) error {
	if study == nil {
		return nil
	}
	if err := s.c.Set(ctx, latestStudyKey, study, s.ttl); err != nil {
		return fmt.Errorf("cache latest study: %w", err)
	}
	return nil
}

func (s *CacheResultStore) Latest(ctx context.Context) (*models.StudyResult, error) {
	var out models.StudyResult
	if err := s.c.Get(ctx, latestStudyKey, &out); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, models.ErrStudyNotFound
		}
		return nil, fmt.Errorf("read latest study: %w", err)
	}
	return &out, nil
}

var _ domrepo.ResultCache = (*CacheResultStore)(nil)
