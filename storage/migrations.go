package storage

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"stageboot/config"
	"stageboot/logging"
	"stageboot/metrics"
)

// ServiceLookup resolves wired services by name. It is how migrations reach
// the service graph without owning it.
type ServiceLookup interface {
	Lookup(name string) (interface{}, bool)
	Names() []string
}

// MigrationContext is what a migration sees while it runs.
type MigrationContext struct {
	// Tx is the transaction the migration and its record commit in.
	Tx    *sql.Tx
	Stage Stage
	// Config is the run's bootstrap context. It may be nil in tools that
	// apply migrations outside a full run.
	Config *config.BootstrapContext
	// Services is nil until core services have been constructed.
	Services ServiceLookup
	Logger   logging.Logger
}

// Migration is a named state transformation bound to one stage.
type Migration struct {
	Name        string
	Stage       Stage
	Description string
	Up          func(ctx context.Context, mc *MigrationContext) error
	Checksum    string // SHA256 of stage, name and description, filled in by Register
}

// MigrationRecord is a row in the stage_migrations table.
type MigrationRecord struct {
	ID        int64     `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Stage     Stage     `json:"-" yaml:"-"`
	StageName string    `json:"stage" yaml:"stage"`
	Checksum  string    `json:"checksum" yaml:"checksum"`
	RunID     string    `json:"run_id" yaml:"run_id"`
	AppliedAt time.Time `json:"applied_at" yaml:"applied_at"`
	Duration  int64     `json:"duration_ms" yaml:"duration_ms"`
}

// Env is the per-call input to ApplyStage.
type Env struct {
	Config   *config.BootstrapContext
	Services ServiceLookup
}

type migrationKey struct {
	name  string
	stage Stage
}

// Runner applies stage-gated migrations against a Store. It holds no
// progress of its own: what has been applied is read from the store on every
// call.
type Runner struct {
	store  *Store
	logger logging.Logger

	mu         sync.RWMutex
	migrations []Migration
	declared   map[migrationKey]bool
}

// NewRunner creates a runner over store.
func NewRunner(store *Store, logger logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop("migrations")
	}
	return &Runner{
		store:    store,
		logger:   logger,
		declared: make(map[migrationKey]bool),
	}
}

// Register declares a migration. Declaration order is execution order
// within a stage.
func (r *Runner) Register(m Migration) error {
	if m.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidMigration)
	}
	if m.Up == nil {
		return fmt.Errorf("%w: %q has no Up function", ErrInvalidMigration, m.Name)
	}
	if !m.Stage.Valid() {
		return fmt.Errorf("%w: migration %q has stage %d", ErrUnknownStage, m.Name, int(m.Stage))
	}
	if m.Checksum == "" {
		m.Checksum = calculateChecksum(m)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := migrationKey{name: m.Name, stage: m.Stage}
	if r.declared[key] {
		return fmt.Errorf("%w: %q in %s", ErrDuplicateMigration, m.Name, m.Stage)
	}
	r.declared[key] = true
	r.migrations = append(r.migrations, m)
	return nil
}

// calculateChecksum hashes what identifies a migration; Up itself cannot be
// hashed.
func calculateChecksum(m Migration) string {
	content := fmt.Sprintf("%s:%s:%s", m.Stage, m.Name, m.Description)
	hash := sha256.Sum256([]byte(content))
	return hex.EncodeToString(hash[:8])
}

// Migrations returns the migrations declared for stage, in declaration order.
func (r *Runner) Migrations(stage Stage) []Migration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Migration
	for _, m := range r.migrations {
		if m.Stage == stage {
			out = append(out, m)
		}
	}
	return out
}

// Applied returns every persisted migration record, oldest first.
func (r *Runner) Applied(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := r.store.DB.QueryContext(ctx, `
		SELECT id, name, stage, checksum, run_id, applied_at, duration_ms
		FROM stage_migrations
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var rec MigrationRecord
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.StageName, &rec.Checksum, &rec.RunID, &rec.AppliedAt, &rec.Duration); err != nil {
			return nil, fmt.Errorf("failed to scan migration record: %w", err)
		}
		stage, err := ParseStage(rec.StageName)
		if err != nil {
			return nil, err
		}
		rec.Stage = stage
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Runner) appliedSet(ctx context.Context) (map[migrationKey]bool, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[migrationKey]bool, len(applied))
	for _, rec := range applied {
		set[migrationKey{name: rec.Name, stage: rec.Stage}] = true
	}
	return set, nil
}

// Pending returns the migrations declared for stage that are not recorded.
func (r *Runner) Pending(ctx context.Context, stage Stage) ([]Migration, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, int(stage))
	}
	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range r.Migrations(stage) {
		if !applied[migrationKey{name: m.Name, stage: m.Stage}] {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// ApplyStage runs every unrecorded migration declared for stage, one at a
// time in declaration order, and returns the records it created. It refuses
// to run while any migration of an earlier stage is unrecorded. The first
// failure stops the stage and is returned as a *MigrationError; everything
// applied before it stays recorded, so a later call resumes from there.
func (r *Runner) ApplyStage(ctx context.Context, stage Stage, env Env) ([]MigrationRecord, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStage, int(stage))
	}

	applied, err := r.appliedSet(ctx)
	if err != nil {
		return nil, err
	}

	for earlier := PreInit; earlier < stage; earlier++ {
		for _, m := range r.Migrations(earlier) {
			if !applied[migrationKey{name: m.Name, stage: earlier}] {
				return nil, fmt.Errorf("%w: %s migration %q has not been applied before %s",
					ErrStageOrder, earlier, m.Name, stage)
			}
		}
	}

	var pending []Migration
	for _, m := range r.Migrations(stage) {
		if !applied[migrationKey{name: m.Name, stage: stage}] {
			pending = append(pending, m)
		}
	}

	logger := r.logger.With("stage", stage.String())
	if len(pending) == 0 {
		logger.Debugw("No pending migrations")
		return nil, nil
	}
	logger.Infow("Running pending migrations", "count", len(pending))

	runID := ""
	if env.Config != nil {
		runID = env.Config.RunID()
	}

	records := make([]MigrationRecord, 0, len(pending))
	for _, m := range pending {
		rec, err := r.runMigration(ctx, m, env, runID)
		if err != nil {
			metrics.MigrationFailures.WithLabelValues(stage.String()).Inc()
			logger.Errorw("Migration failed", "migration", m.Name, "error", err)
			return records, &MigrationError{Name: m.Name, Stage: stage, Err: err}
		}
		metrics.MigrationsApplied.WithLabelValues(stage.String()).Inc()
		records = append(records, rec)
	}

	logger.Infow("Stage migrations completed", "applied", len(records))
	return records, nil
}

// runMigration applies one migration and inserts its record in the same
// transaction.
func (r *Runner) runMigration(ctx context.Context, m Migration, env Env, runID string) (MigrationRecord, error) {
	r.logger.Infow("Running migration", "migration", m.Name, "stage", m.Stage.String())
	start := time.Now()
	rec := MigrationRecord{
		Name:      m.Name,
		Stage:     m.Stage,
		StageName: m.Stage.String(),
		Checksum:  m.Checksum,
		RunID:     runID,
	}

	err := r.store.WithTransaction(ctx, func(tx *sql.Tx) error {
		mc := &MigrationContext{
			Tx:       tx,
			Stage:    m.Stage,
			Config:   env.Config,
			Services: env.Services,
			Logger:   r.logger.Named(m.Name),
		}
		if err := m.Up(ctx, mc); err != nil {
			return fmt.Errorf("migration Up() failed: %w", err)
		}

		rec.AppliedAt = time.Now().UTC()
		rec.Duration = time.Since(start).Milliseconds()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO stage_migrations (name, stage, checksum, run_id, applied_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, rec.Name, rec.StageName, rec.Checksum, rec.RunID, rec.AppliedAt, rec.Duration)
		if err != nil {
			return fmt.Errorf("failed to record migration: %w", err)
		}
		rec.ID, _ = res.LastInsertId()
		return nil
	})
	if err != nil {
		return MigrationRecord{}, err
	}

	r.logger.Infow("Migration completed", "migration", m.Name, "duration_ms", rec.Duration)
	return rec, nil
}

// VerifyIntegrity reports applied migrations whose checksum no longer matches
// their declaration, and applied migrations that are no longer declared.
func (r *Runner) VerifyIntegrity(ctx context.Context) ([]string, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	registered := make(map[migrationKey]Migration, len(r.migrations))
	for _, m := range r.migrations {
		registered[migrationKey{name: m.Name, stage: m.Stage}] = m
	}
	r.mu.RUnlock()

	var issues []string
	for _, rec := range applied {
		m, ok := registered[migrationKey{name: rec.Name, stage: rec.Stage}]
		if !ok {
			issues = append(issues, fmt.Sprintf(
				"Migration %s/%s was applied but is not registered (orphaned migration)",
				rec.StageName, rec.Name))
			continue
		}
		if m.Checksum != rec.Checksum {
			issues = append(issues, fmt.Sprintf(
				"Migration %s/%s checksum mismatch: applied=%s, registered=%s (possible code drift)",
				rec.StageName, rec.Name, rec.Checksum, m.Checksum))
		}
	}
	return issues, nil
}

// Status summarizes migration state.
type Status struct {
	Registered      int                 `json:"total_registered" yaml:"total_registered"`
	Applied         []MigrationRecord   `json:"applied" yaml:"applied"`
	PendingByStage  map[string][]string `json:"pending" yaml:"pending"`
	IntegrityIssues []string            `json:"integrity_issues" yaml:"integrity_issues"`
}

// Status returns the applied, pending and drifted migrations.
func (r *Runner) Status(ctx context.Context) (*Status, error) {
	applied, err := r.Applied(ctx)
	if err != nil {
		return nil, err
	}
	issues, err := r.VerifyIntegrity(ctx)
	if err != nil {
		return nil, err
	}

	st := &Status{
		Applied:         applied,
		PendingByStage:  make(map[string][]string),
		IntegrityIssues: issues,
	}
	for _, stage := range Stages() {
		pending, err := r.Pending(ctx, stage)
		if err != nil {
			return nil, err
		}
		for _, m := range pending {
			st.PendingByStage[stage.String()] = append(st.PendingByStage[stage.String()], m.Name)
		}
		st.Registered += len(r.Migrations(stage))
	}
	return st, nil
}

// UnappliedStatus is the status of a store that does not exist yet: every
// registered migration is pending. It never touches the store.
func (r *Runner) UnappliedStatus() *Status {
	st := &Status{PendingByStage: make(map[string][]string)}
	for _, stage := range Stages() {
		for _, m := range r.Migrations(stage) {
			st.PendingByStage[stage.String()] = append(st.PendingByStage[stage.String()], m.Name)
		}
		st.Registered += len(r.Migrations(stage))
	}
	return st
}
