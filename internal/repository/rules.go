package repository

import (
	"context"
	"sync"

	"github.com/velocity-los/velocity-back/internal/domain"
)

// RulesRepository resolves the relationship data the evaluation engine needs:
// company profile -> rule pack, program -> overlay.
type RulesRepository interface {
	GetCompanyProfile(ctx context.Context, profileID string) (*domain.CompanyProfile, error)
	GetRulePack(ctx context.Context, packID string) (*domain.RulePack, error)
	GetProgram(ctx context.Context, programID string) (*domain.Program, error)
	GetOverlay(ctx context.Context, overlayID string) (*domain.Overlay, error)
}

// MemoryRulesRepository holds rule data in memory for local development,
// seeding, and tests.
type MemoryRulesRepository struct {
	mu       sync.RWMutex
	profiles map[string]*domain.CompanyProfile
	packs    map[string]*domain.RulePack
	programs map[string]*domain.Program
	overlays map[string]*domain.Overlay
}

func NewMemoryRulesRepository() *MemoryRulesRepository {
	return &MemoryRulesRepository{
		profiles: make(map[string]*domain.CompanyProfile),
		packs:    make(map[string]*domain.RulePack),
		programs: make(map[string]*domain.Program),
		overlays: make(map[string]*domain.Overlay),
	}
}

func (r *MemoryRulesRepository) PutCompanyProfile(profile domain.CompanyProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ID] = &profile
}

func (r *MemoryRulesRepository) PutRulePack(pack domain.RulePack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := pack
	copied.Rules = append([]domain.Rule(nil), pack.Rules...)
	r.packs[pack.ID] = &copied
}

func (r *MemoryRulesRepository) PutProgram(program domain.Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[program.ID] = &program
}

func (r *MemoryRulesRepository) PutOverlay(overlay domain.Overlay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := overlay
	copied.Rules = append([]domain.Rule(nil), overlay.Rules...)
	r.overlays[overlay.ID] = &copied
}

func (r *MemoryRulesRepository) GetCompanyProfile(
	_ context.Context,
	profileID string,
) (*domain.CompanyProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[profileID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *profile
	return &copied, nil
}

func (r *MemoryRulesRepository) GetRulePack(
	_ context.Context,
	packID string,
) (*domain.RulePack, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pack, ok := r.packs[packID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *pack
	copied.Rules = append([]domain.Rule(nil), pack.Rules...)
	return &copied, nil
}

func (r *MemoryRulesRepository) GetProgram(
	_ context.Context,
	programID string,
) (*domain.Program, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	program, ok := r.programs[programID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *program
	return &copied, nil
}

func (r *MemoryRulesRepository) GetOverlay(
	_ context.Context,
	overlayID string,
) (*domain.Overlay, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	overlay, ok := r.overlays[overlayID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *overlay
	copied.Rules = append([]domain.Rule(nil), overlay.Rules...)
	return &copied, nil
}
