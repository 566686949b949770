package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/velocity-los/velocity-back/internal/domain"
)

type PostgresRulesRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRulesRepository shares the pool owned by the jobs repository;
// rule data lives in the same database as the job records.
func NewPostgresRulesRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresRulesRepository, error) {
	repo := &PostgresRulesRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRulesRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS company_profiles (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL DEFAULT '',
			rule_pack_id TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS rule_packs (
			id      TEXT PRIMARY KEY,
			version TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS rule_pack_rules (
			pack_id  TEXT NOT NULL REFERENCES rule_packs(id),
			position INTEGER NOT NULL,
			rule_id  TEXT NOT NULL,
			title    TEXT NOT NULL DEFAULT '',
			severity TEXT NOT NULL DEFAULT '',
			pattern  TEXT NOT NULL DEFAULT '',
			type     TEXT NOT NULL,
			PRIMARY KEY (pack_id, position)
		);
		CREATE TABLE IF NOT EXISTS programs (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL DEFAULT '',
			active_overlay_id TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS overlays (
			id   TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS overlay_rules (
			overlay_id TEXT NOT NULL REFERENCES overlays(id),
			position   INTEGER NOT NULL,
			rule_id    TEXT NOT NULL,
			title      TEXT NOT NULL DEFAULT '',
			severity   TEXT NOT NULL DEFAULT '',
			pattern    TEXT NOT NULL DEFAULT '',
			type       TEXT NOT NULL,
			PRIMARY KEY (overlay_id, position)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure rules schema: %w", err)
	}
	return nil
}

func (r *PostgresRulesRepository) GetCompanyProfile(
	ctx context.Context,
	profileID string,
) (*domain.CompanyProfile, error) {
	var profile domain.CompanyProfile
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, rule_pack_id FROM company_profiles WHERE id = $1
	`, profileID).Scan(&profile.ID, &profile.Name, &profile.RulePackID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query company profile: %w", err)
	}
	return &profile, nil
}

func (r *PostgresRulesRepository) GetRulePack(
	ctx context.Context,
	packID string,
) (*domain.RulePack, error) {
	var pack domain.RulePack
	err := r.pool.QueryRow(ctx, `
		SELECT id, version FROM rule_packs WHERE id = $1
	`, packID).Scan(&pack.ID, &pack.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query rule pack: %w", err)
	}

	rules, err := r.queryRules(ctx, `
		SELECT rule_id, title, severity, pattern, type
		FROM rule_pack_rules WHERE pack_id = $1 ORDER BY position ASC
	`, packID)
	if err != nil {
		return nil, err
	}
	pack.Rules = rules
	return &pack, nil
}

func (r *PostgresRulesRepository) GetProgram(
	ctx context.Context,
	programID string,
) (*domain.Program, error) {
	var program domain.Program
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, active_overlay_id FROM programs WHERE id = $1
	`, programID).Scan(&program.ID, &program.Name, &program.ActiveOverlayID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query program: %w", err)
	}
	return &program, nil
}

func (r *PostgresRulesRepository) GetOverlay(
	ctx context.Context,
	overlayID string,
) (*domain.Overlay, error) {
	var overlay domain.Overlay
	err := r.pool.QueryRow(ctx, `
		SELECT id, name FROM overlays WHERE id = $1
	`, overlayID).Scan(&overlay.ID, &overlay.Name)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query overlay: %w", err)
	}

	rules, err := r.queryRules(ctx, `
		SELECT rule_id, title, severity, pattern, type
		FROM overlay_rules WHERE overlay_id = $1 ORDER BY position ASC
	`, overlayID)
	if err != nil {
		return nil, err
	}
	overlay.Rules = rules
	return &overlay, nil
}

func (r *PostgresRulesRepository) queryRules(
	ctx context.Context,
	query string,
	args ...any,
) ([]domain.Rule, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	rules := make([]domain.Rule, 0)
	for rows.Next() {
		var (
			rule     domain.Rule
			severity string
			ruleType string
		)
		if err := rows.Scan(&rule.ID, &rule.Title, &severity, &rule.Pattern, &ruleType); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rule.Severity = domain.RuleSeverity(severity)
		rule.Type = domain.RuleType(ruleType)
		rules = append(rules, rule)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate rules: %w", rows.Err())
	}
	return rules, nil
}
