package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/uexam-backend/internal/config"
	"github.com/stemsi/uexam-backend/internal/model"
	"github.com/stemsi/uexam-backend/internal/repository"
)

// Domain Errors
var (
	ErrTestNotFound  = errors.New("test not found")
	ErrTestLinkTaken = errors.New("test link already taken")
)

// TestStore is the persistence TestService needs.
type TestStore interface {
	Create(ctx context.Context, def *model.TestDefinition) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.TestDefinition, error)
	GetIDByLink(ctx context.Context, link string) (uuid.UUID, error)
	ListByCreator(ctx context.Context, creatorID int) ([]model.TestDefinition, error)
}

// TestService owns test definitions. It serves them from Redis when cached and
// falls back to PostgreSQL.
type TestService struct {
	store TestStore
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewTestService creates a new TestService. rdb may be nil to disable caching.
func NewTestService(store TestStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *TestService {
	return &TestService{
		store: store,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "test_service").Logger(),
	}
}

// Create validates and stores a new test authored by creatorID.
func (s *TestService) Create(ctx context.Context, req *model.CreateTestRequest, creatorID int) (*model.TestDefinition, error) {
	def := req.ToDefinition(creatorID)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, def); err != nil {
		if errors.Is(err, repository.ErrDuplicateLink) {
			return nil, ErrTestLinkTaken
		}
		return nil, fmt.Errorf("create test: %w", err)
	}

	s.cache(ctx, def)
	s.log.Info().
		Str("test_id", def.ID.String()).
		Str("test_link", def.TestLink).
		Int("questions", len(def.Questions)).
		Msg("Test created")
	return def, nil
}

// GetDefinition returns the full definition, including private test cases and
// correct options. It distinguishes ErrTestNotFound from transient failures.
func (s *TestService) GetDefinition(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, error) {
	if def, ok := s.cached(ctx, testID); ok {
		return def, nil
	}

	def, err := s.store.GetByID(ctx, testID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("load test %s: %w", testID, err)
	}

	s.cache(ctx, def)
	return def, nil
}

// GetByLink resolves a share link to the student-facing view of the test.
func (s *TestService) GetByLink(ctx context.Context, link string) (*model.TestDefinition, error) {
	id, err := s.resolveLink(ctx, link)
	if err != nil {
		return nil, err
	}
	def, err := s.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return def.PublicView(), nil
}

// ListByCreator lists a teacher's tests without their questions.
func (s *TestService) ListByCreator(ctx context.Context, creatorID int) ([]model.TestDefinition, error) {
	tests, err := s.store.ListByCreator(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if tests == nil {
		tests = []model.TestDefinition{}
	}
	return tests, nil
}

func (s *TestService) resolveLink(ctx context.Context, link string) (uuid.UUID, error) {
	if s.rdb != nil {
		if raw, err := s.rdb.Get(ctx, config.CacheKey.TestLinkKey(link)).Result(); err == nil {
			if id, err := uuid.Parse(raw); err == nil {
				return id, nil
			}
		}
	}

	id, err := s.store.GetIDByLink(ctx, link)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrTestNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve test link: %w", err)
	}
	return id, nil
}

func (s *TestService) cached(ctx context.Context, testID uuid.UUID) (*model.TestDefinition, bool) {
	if s.rdb == nil {
		return nil, false
	}
	raw, err := s.rdb.Get(ctx, config.CacheKey.TestDefinitionKey(testID.String())).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Definition cache read failed")
		}
		return nil, false
	}

	var def model.TestDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		s.log.Warn().Err(err).Str("test_id", testID.String()).Msg("Discarding corrupt cached definition")
		return nil, false
	}
	return &def, true
}

func (s *TestService) cache(ctx context.Context, def *model.TestDefinition) {
	if s.rdb == nil {
		return
	}
	data, err := json.Marshal(def)
	if err != nil {
		return
	}

	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.TestDefinitionKey(def.ID.String()), data, s.ttl)
	pipe.Set(ctx, config.CacheKey.TestLinkKey(def.TestLink), def.ID.String(), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("test_id", def.ID.String()).Msg("Definition cache write failed")
	}
}
