// Package postgres stores rule documents in PostgreSQL. The enforcement
// core only reads through rules.Repository; the write path exists for
// admin tooling and tests.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/OpenFluxGate/fluxgate/rules"
)

// DDL policies applied at startup.
const (
	DDLValidate = "validate" // fail when the table is missing
	DDLCreate   = "create"   // create the table when missing
)

type Config struct {
	ConnString string
	Table      string // defaults to "fluxgate_rules"
	DDL        string // DDLValidate or DDLCreate, defaults to DDLValidate
	MaxConns   int32
	MinConns   int32
}

// Repository implements rules.Repository on a pgx connection pool.
type Repository struct {
	pool  *pgxpool.Pool
	table string
}

func New(config Config) (*Repository, error) {
	if config.Table == "" {
		config.Table = "fluxgate_rules"
	}
	if config.DDL == "" {
		config.DDL = DDLValidate
	}
	if config.MaxConns == 0 {
		config.MaxConns = 10
	}
	if config.MinConns == 0 {
		config.MinConns = 2
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &Repository{pool: pool, table: config.Table}
	if err := repo.applyDDL(ctx, config.DDL); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *Repository) applyDDL(ctx context.Context, policy string) error {
	switch policy {
	case DDLCreate:
		_, err := r.pool.Exec(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				rule_set_id     TEXT NOT NULL,
				rule_id         TEXT NOT NULL,
				position        INTEGER NOT NULL,
				name            TEXT NOT NULL DEFAULT '',
				enabled         BOOLEAN NOT NULL DEFAULT TRUE,
				scope           TEXT NOT NULL,
				key_strategy_id TEXT NOT NULL DEFAULT '',
				on_limit_exceed TEXT NOT NULL DEFAULT '',
				bands           JSONB NOT NULL,
				attributes      JSONB,
				PRIMARY KEY (rule_set_id, rule_id)
			)
		`, r.table))
		if err != nil {
			return fmt.Errorf("failed to create rules table: %w", err)
		}
		return nil
	case DDLValidate:
		var regclass *string
		err := r.pool.QueryRow(ctx, `SELECT to_regclass($1)::text`, r.table).Scan(&regclass)
		if err != nil {
			return fmt.Errorf("failed to validate rules table: %w", err)
		}
		if regclass == nil {
			return fmt.Errorf("rules table %q does not exist", r.table)
		}
		return nil
	default:
		return fmt.Errorf("unknown ddl policy %q", policy)
	}
}

// Pool exposes the underlying pool, mainly for tests.
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *Repository) FindByRuleSetID(ctx context.Context, ruleSetID string) ([]rules.Rule, error) {
	query := fmt.Sprintf(`
		SELECT rule_id, name, enabled, scope, key_strategy_id, on_limit_exceed, bands, attributes
		FROM %s
		WHERE rule_set_id = $1
		ORDER BY position
	`, r.table)

	rows, err := r.pool.Query(ctx, query, ruleSetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for %q: %w", ruleSetID, err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var (
			rule      rules.Rule
			bandsJSON []byte
			attrsJSON []byte
		)
		if err := rows.Scan(&rule.ID, &rule.Name, &rule.Enabled, &rule.Scope,
			&rule.KeyStrategyID, &rule.OnLimitExceed, &bandsJSON, &attrsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}
		rule.RuleSetID = ruleSetID
		if err := json.Unmarshal(bandsJSON, &rule.Bands); err != nil {
			return nil, fmt.Errorf("failed to decode bands for rule %q: %w", rule.ID, err)
		}
		if len(attrsJSON) > 0 {
			if err := json.Unmarshal(attrsJSON, &rule.Attributes); err != nil {
				return nil, fmt.Errorf("failed to decode attributes for rule %q: %w", rule.ID, err)
			}
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rule rows: %w", err)
	}
	if len(out) == 0 {
		return nil, rules.ErrRuleSetNotFound
	}
	return out, nil
}

// SaveRuleSet transactionally replaces the rules of a rule set, preserving
// the given order.
func (r *Repository) SaveRuleSet(ctx context.Context, ruleSetID string, ruleList []rules.Rule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rule_set_id = $1`, r.table), ruleSetID); err != nil {
		return fmt.Errorf("failed to clear rule set %q: %w", ruleSetID, err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (rule_set_id, rule_id, position, name, enabled, scope,
			key_strategy_id, on_limit_exceed, bands, attributes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.table)

	for i, rule := range ruleList {
		if err := rule.Validate(); err != nil {
			return err
		}
		bandsJSON, err := json.Marshal(rule.Bands)
		if err != nil {
			return fmt.Errorf("failed to encode bands for rule %q: %w", rule.ID, err)
		}
		var attrsJSON []byte
		if len(rule.Attributes) > 0 {
			if attrsJSON, err = json.Marshal(rule.Attributes); err != nil {
				return fmt.Errorf("failed to encode attributes for rule %q: %w", rule.ID, err)
			}
		}
		if _, err := tx.Exec(ctx, insert, ruleSetID, rule.ID, i, rule.Name, rule.Enabled,
			string(rule.Scope), rule.KeyStrategyID, string(rule.OnLimitExceed), bandsJSON, attrsJSON); err != nil {
			return fmt.Errorf("failed to insert rule %q: %w", rule.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rule set %q: %w", ruleSetID, err)
	}
	return nil
}

// DeleteRuleSet removes every rule of a rule set.
func (r *Repository) DeleteRuleSet(ctx context.Context, ruleSetID string) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rule_set_id = $1`, r.table), ruleSetID)
	if err != nil {
		return fmt.Errorf("failed to delete rule set %q: %w", ruleSetID, err)
	}
	return nil
}

func (r *Repository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

var _ rules.Repository = (*Repository)(nil)
