package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/planner/internal/plan"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS plans (
	plan_id        TEXT PRIMARY KEY,
	parent_id      TEXT,
	planning_id    TEXT NOT NULL,
	concern        TEXT NOT NULL,
	domain         TEXT NOT NULL,
	schema_version TEXT NOT NULL,
	gate_decision  TEXT NOT NULL,
	revision_scope TEXT,
	created_at     TEXT NOT NULL,
	artifact       TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES plans(plan_id)
);
CREATE INDEX IF NOT EXISTS idx_plans_parent ON plans(parent_id);
CREATE INDEX IF NOT EXISTS idx_plans_planning ON plans(planning_id);

CREATE TABLE IF NOT EXISTS stage_audit (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	plan_id         TEXT NOT NULL,
	stage           TEXT NOT NULL,
	name            TEXT NOT NULL,
	decision        TEXT NOT NULL,
	reason          TEXT,
	validation_json TEXT NOT NULL,
	started_at      TEXT NOT NULL,
	duration_ms     INTEGER NOT NULL,
	FOREIGN KEY (plan_id) REFERENCES plans(plan_id)
);
CREATE INDEX IF NOT EXISTS idx_audit_plan ON stage_audit(plan_id);
`

// timeLayout has fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const summaryColumns = `plan_id, parent_id, planning_id, concern, domain, schema_version, gate_decision, revision_scope, created_at`

// SQLite stores plans in a SQLite database with parent lineage and one
// audit row per stage.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" for an ephemeral database) and runs
// migrations.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Save implements Store.
func (s *SQLite) Save(ctx context.Context, p plan.PlannerPlan) error {
	if p.Metadata.PlanID == "" {
		return ErrInvalidPlan
	}
	data, err := plan.MarshalArtifact(p)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if ok, err := exists(ctx, tx, p.Metadata.PlanID); err != nil {
		return err
	} else if ok {
		return ErrExists
	}
	var parent any
	if id := p.Metadata.ParentPlanID; id != "" {
		ok, err := exists(ctx, tx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrMissingParent
		}
		parent = id
	}
	var scope any
	if p.Metadata.Revision != nil {
		scope = p.Metadata.Revision.Scope
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO plans (`+summaryColumns+`, artifact) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Metadata.PlanID, parent, p.Metadata.PlanningID, p.Metadata.Concern, string(p.Metadata.Domain),
		p.Metadata.SchemaVersion, string(p.Metadata.GateDecision), scope,
		p.Metadata.CreatedAt.UTC().Format(timeLayout), string(data),
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	for _, rec := range p.Audit {
		vj, err := json.Marshal(rec.Validation)
		if err != nil {
			return fmt.Errorf("marshal validation: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO stage_audit (plan_id, stage, name, decision, reason, validation_json, started_at, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Metadata.PlanID, string(rec.Stage), rec.Name, string(rec.Gate.Decision), rec.Gate.Reason,
			string(vj), rec.StartedAt.UTC().Format(timeLayout), rec.DurationMS,
		)
		if err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func exists(ctx context.Context, tx *sql.Tx, id string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM plans WHERE plan_id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup plan: %w", err)
	}
	return true, nil
}

// GetArtifact implements Store.
func (s *SQLite) GetArtifact(ctx context.Context, id string) ([]byte, error) {
	var artifact string
	err := s.db.QueryRowContext(ctx, `SELECT artifact FROM plans WHERE plan_id = ?`, id).Scan(&artifact)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return []byte(artifact), nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, id string) (plan.PlannerPlan, error) {
	data, err := s.GetArtifact(ctx, id)
	if err != nil {
		return plan.PlannerPlan{}, err
	}
	return plan.UnmarshalArtifact(data)
}

// Audit implements Store. Records come from the stage_audit table.
func (s *SQLite) Audit(ctx context.Context, id string) ([]plan.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, name, decision, reason, validation_json, started_at, duration_ms
		 FROM stage_audit WHERE plan_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("query audit: %w", err)
	}
	defer rows.Close()

	var out []plan.StageRecord
	for rows.Next() {
		var (
			rec             plan.StageRecord
			stage, decision string
			reason          sql.NullString
			vj, startedAt   string
		)
		if err := rows.Scan(&stage, &rec.Name, &decision, &reason, &vj, &startedAt, &rec.DurationMS); err != nil {
			return nil, err
		}
		rec.Stage = plan.Stage(stage)
		rec.Gate = plan.GateDecision{Decision: plan.Decision(decision), Reason: reason.String}
		if err := json.Unmarshal([]byte(vj), &rec.Validation); err != nil {
			return nil, fmt.Errorf("decode validation: %w", err)
		}
		rec.StartedAt, _ = time.Parse(timeLayout, startedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		if _, err := s.GetArtifact(ctx, id); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Lineage implements Store with a recursive walk over parent_id.
func (s *SQLite) Lineage(ctx context.Context, id string) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE chain(plan_id, parent_id, depth) AS (
			SELECT plan_id, parent_id, 0 FROM plans WHERE plan_id = ?
			UNION ALL
			SELECT p.plan_id, p.parent_id, c.depth + 1
			FROM plans p JOIN chain c ON p.plan_id = c.parent_id
			WHERE c.depth < ?
		)
		SELECT p.plan_id, p.parent_id, p.planning_id, p.concern, p.domain, p.schema_version,
		       p.gate_decision, p.revision_scope, p.created_at
		FROM plans p JOIN chain c ON p.plan_id = c.plan_id
		ORDER BY c.depth DESC`, id, maxLineageDepth)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	out, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// List implements Store.
func (s *SQLite) List(ctx context.Context, opts ListOptions) ([]Summary, error) {
	query := `SELECT ` + summaryColumns + ` FROM plans`
	var args []any
	if opts.PlanningID != "" {
		query += ` WHERE planning_id = ?`
		args = append(args, opts.PlanningID)
	}
	query += ` ORDER BY created_at DESC, plan_id`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return scanSummaries(rows)
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	defer rows.Close()
	var out []Summary
	for rows.Next() {
		var (
			sum                   Summary
			parent, scope         sql.NullString
			domain, gate, created string
		)
		if err := rows.Scan(&sum.PlanID, &parent, &sum.PlanningID, &sum.Concern, &domain,
			&sum.SchemaVersion, &gate, &scope, &created); err != nil {
			return nil, err
		}
		sum.ParentPlanID = parent.String
		sum.RevisionScope = scope.String
		sum.Domain = plan.DomainID(domain)
		sum.GateDecision = plan.Decision(gate)
		sum.CreatedAt, _ = time.Parse(timeLayout, created)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}
