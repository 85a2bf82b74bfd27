package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Service resolves roles and effective permissions for an actor. Results
// are cached in redis for a short TTL; permission edits take effect after
// the cache entry expires or is invalidated.
type Service struct {
	pool  *pgxpool.Pool
	cache *redis.Client
	ttl   time.Duration
}

// NewService constructs Service. The cache client may be nil, in which
// case every resolution hits PostgreSQL.
func NewService(pool *pgxpool.Pool, cache *redis.Client, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{pool: pool, cache: cache, ttl: ttl}
}

func permsCacheKey(actorID int64) string {
	return fmt.Sprintf("rbac:perms:%d", actorID)
}

// EffectivePermissions returns the deduplicated permission set granted to
// the actor through role membership.
func (s *Service) EffectivePermissions(ctx context.Context, actorID int64) ([]string, error) {
	if s == nil {
		return nil, errors.New("rbac service not initialised")
	}
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, permsCacheKey(actorID)).Result()
		if err == nil {
			var cached []string
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
		}
	}

	if s.pool == nil {
		return nil, errors.New("rbac service not initialised")
	}
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT rp.permission
FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
WHERE ur.actor_id = $1`, actorID)
	if err != nil {
		return nil, fmt.Errorf("rbac: query permissions: %w", err)
	}
	defer rows.Close()

	perms := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, strings.ToLower(strings.TrimSpace(p)))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(perms); err == nil {
			_ = s.cache.Set(ctx, permsCacheKey(actorID), raw, s.ttl).Err()
		}
	}
	return perms, nil
}

// Roles lists the role names assigned to the actor.
func (s *Service) Roles(ctx context.Context, actorID int64) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.actor_id = $1 ORDER BY r.name`, actorID)
	if err != nil {
		return nil, fmt.Errorf("rbac: query roles: %w", err)
	}
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Access resolves the full actor view: roles, permissions and per-feature
// flags the client uses to gate navigation.
func (s *Service) Access(ctx context.Context, actorID int64) (*ActorAccess, error) {
	perms, err := s.EffectivePermissions(ctx, actorID)
	if err != nil {
		return nil, err
	}
	roles, err := s.Roles(ctx, actorID)
	if err != nil {
		return nil, err
	}

	features := map[string]bool{}
	for _, p := range perms {
		feature, _, ok := strings.Cut(p, ":")
		if !ok {
			continue
		}
		features[feature] = true
	}

	return &ActorAccess{
		ActorID:     actorID,
		Roles:       roles,
		Permissions: perms,
		Features:    features,
	}, nil
}

// Invalidate drops the cached permission set for one actor.
func (s *Service) Invalidate(ctx context.Context, actorID int64) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, permsCacheKey(actorID)).Err()
}
