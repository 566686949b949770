package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/velocity-los/velocity-back/internal/domain"
	"github.com/velocity-los/velocity-back/internal/repository"
)

const (
	rulePackKeyPrefix = "velocity:rulepack:"
	overlayKeyPrefix  = "velocity:overlay:"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CachedRulesRepository is a read-through Redis cache in front of a rules
// repository. Rule packs and overlays are large and read on every evaluation;
// profiles and programs are cheap single-row lookups and pass through
// uncached so edits take effect immediately.
type CachedRulesRepository struct {
	inner  repository.RulesRepository
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

func NewCachedRulesRepository(
	ctx context.Context,
	inner repository.RulesRepository,
	cfg Config,
	logger *log.Logger,
) (*CachedRulesRepository, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &CachedRulesRepository{
		inner:  inner,
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}, nil
}

func (c *CachedRulesRepository) Close() error {
	return c.client.Close()
}

func (c *CachedRulesRepository) GetCompanyProfile(
	ctx context.Context,
	profileID string,
) (*domain.CompanyProfile, error) {
	return c.inner.GetCompanyProfile(ctx, profileID)
}

func (c *CachedRulesRepository) GetProgram(
	ctx context.Context,
	programID string,
) (*domain.Program, error) {
	return c.inner.GetProgram(ctx, programID)
}

func (c *CachedRulesRepository) GetRulePack(
	ctx context.Context,
	packID string,
) (*domain.RulePack, error) {
	key := rulePackKeyPrefix + packID

	var cached domain.RulePack
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	pack, err := c.inner.GetRulePack(ctx, packID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, pack)
	return pack, nil
}

func (c *CachedRulesRepository) GetOverlay(
	ctx context.Context,
	overlayID string,
) (*domain.Overlay, error) {
	key := overlayKeyPrefix + overlayID

	var cached domain.Overlay
	if c.lookup(ctx, key, &cached) {
		return &cached, nil
	}

	overlay, err := c.inner.GetOverlay(ctx, overlayID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, overlay)
	return overlay, nil
}

// lookup is best-effort: any Redis or decode failure is treated as a miss.
func (c *CachedRulesRepository) lookup(ctx context.Context, key string, target any) bool {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil && c.logger != nil {
			c.logger.Printf("rule cache lookup failed key=%s err=%v", key, err)
		}
		return false
	}
	return json.Unmarshal(payload, target) == nil
}

func (c *CachedRulesRepository) store(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		if c.logger != nil {
			c.logger.Printf("rule cache store failed key=%s err=%v", key, err)
		}
	}
}
