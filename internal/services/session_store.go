package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/huangang/kickoff/backend/internal/models"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SessionStore persists provisioning sessions keyed by submission id.
// Get returns an error wrapping ErrNotFound for unknown ids.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.ProvisioningSession, error)
	Save(ctx context.Context, s *models.ProvisioningSession) error
	Delete(ctx context.Context, id string) error
	ListByOwner(ctx context.Context, ownerID uint, includeArchived bool) ([]models.ProvisioningSession, error)
	// PurgeArchived removes archived sessions archived before the cutoff.
	PurgeArchived(ctx context.Context, before time.Time) (int64, error)
}

type GormSessionStore struct {
	db *gorm.DB
}

func NewGormSessionStore(db *gorm.DB) *GormSessionStore {
	return &GormSessionStore{db: db}
}

func (s *GormSessionStore) Get(ctx context.Context, id string) (*models.ProvisioningSession, error) {
	var session models.ProvisioningSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *GormSessionStore) Save(ctx context.Context, session *models.ProvisioningSession) error {
	session.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(session).Error
}

func (s *GormSessionStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ProvisioningSession{}).Error
}

func (s *GormSessionStore) ListByOwner(ctx context.Context, ownerID uint, includeArchived bool) ([]models.ProvisioningSession, error) {
	query := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if !includeArchived {
		query = query.Where("archived = ?", false)
	}
	var sessions []models.ProvisioningSession
	if err := query.Order("updated_at DESC").Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *GormSessionStore) PurgeArchived(ctx context.Context, before time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("archived = ? AND archived_at < ?", true, before).
		Delete(&models.ProvisioningSession{})
	return result.RowsAffected, result.Error
}

const (
	sessionKeyPrefix      = "kickoff:session:"
	ownerSessionsPrefix   = "kickoff:user:"
	archivedSessionsKey   = "kickoff:sessions:archived"
	defaultSessionTTLHour = 24 * 14
)

// RedisSessionStore keeps sessions as JSON blobs with a sliding TTL. Each
// owner has a set of session ids; archived ids are also kept in a sorted set
// scored by archive time so purging does not scan every key.
type RedisSessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSessionStore(client *redis.Client, ttlHours int) *RedisSessionStore {
	if ttlHours <= 0 {
		ttlHours = defaultSessionTTLHour
	}
	return &RedisSessionStore{client: client, ttl: time.Duration(ttlHours) * time.Hour}
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}

func ownerSessionsKey(ownerID uint) string {
	return ownerSessionsPrefix + strconv.FormatUint(uint64(ownerID), 10) + ":sessions"
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*models.ProvisioningSession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session models.ProvisioningSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, session *models.ProvisioningSession) error {
	session.UpdatedAt = time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = session.UpdatedAt
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ownerKey := ownerSessionsKey(session.OwnerID)
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, s.ttl)
	pipe.SAdd(ctx, ownerKey, session.ID)
	pipe.Expire(ctx, ownerKey, s.ttl)
	if session.Archived && session.ArchivedAt != nil {
		pipe.ZAdd(ctx, archivedSessionsKey, redis.Z{Score: float64(session.ArchivedAt.Unix()), Member: session.ID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	pipe.SRem(ctx, ownerSessionsKey(session.OwnerID), id)
	pipe.ZRem(ctx, archivedSessionsKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) ListByOwner(ctx context.Context, ownerID uint, includeArchived bool) ([]models.ProvisioningSession, error) {
	ownerKey := ownerSessionsKey(ownerID)
	ids, err := s.client.SMembers(ctx, ownerKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]models.ProvisioningSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// expired blob, drop the dangling id
			s.client.SRem(ctx, ownerKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Archived && !includeArchived {
			continue
		}
		sessions = append(sessions, *session)
	}
	sortSessionsByUpdated(sessions)
	return sessions, nil
}

func (s *RedisSessionStore) PurgeArchived(ctx context.Context, before time.Time) (int64, error) {
	ids, err := s.client.ZRangeByScore(ctx, archivedSessionsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list archived sessions: %w", err)
	}

	var purged int64
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return purged, err
		}
		s.client.ZRem(ctx, archivedSessionsKey, id)
		purged++
	}
	return purged, nil
}

func sortSessionsByUpdated(sessions []models.ProvisioningSession) {
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
