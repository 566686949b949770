package lease

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/velocity-los/velocity-back/internal/domain"
)

const DefaultDuration = 5 * time.Minute

// ClaimStore is the slice of the jobs repository the lease manager needs.
type ClaimStore interface {
	ClaimOldest(ctx context.Context, stage domain.ProcessingStage, lease domain.Lease) (*domain.Job, error)
	ReleaseLease(ctx context.Context, jobID string, reason domain.LeaseReleaseReason) error
}

// Manager hands out short-lived exclusive claims on jobs. A crashed worker
// never releases its lease; the claim becomes available again once the lease
// expires, so delivery is at-least-once and workers must re-validate stage
// from a fresh read before acting.
type Manager struct {
	store    ClaimStore
	duration time.Duration
	logger   *log.Logger
}

func NewManager(store ClaimStore, duration time.Duration, logger *log.Logger) *Manager {
	if duration <= 0 {
		duration = DefaultDuration
	}
	return &Manager{
		store:    store,
		duration: duration,
		logger:   logger,
	}
}

// ClaimOne claims the single oldest-updated job in the given stage whose
// lease is absent or expired. Returns (nil, nil) when no job is eligible.
func (m *Manager) ClaimOne(ctx context.Context, stage domain.ProcessingStage) (*domain.Job, error) {
	now := time.Now().UTC()
	lease := domain.Lease{
		Holder:    uuid.NewString(),
		Stage:     stage,
		ClaimedAt: now,
		ExpiresAt: now.Add(m.duration),
	}
	return m.store.ClaimOldest(ctx, stage, lease)
}

// Release clears the lease and records the release reason. Best-effort: a
// failed release is logged, not propagated, because the lease self-heals on
// expiry anyway.
func (m *Manager) Release(ctx context.Context, jobID string, reason domain.LeaseReleaseReason) {
	if err := m.store.ReleaseLease(ctx, jobID, reason); err != nil {
		if m.logger != nil {
			m.logger.Printf("lease release failed job_id=%s reason=%s err=%v", jobID, reason, err)
		}
	}
}
