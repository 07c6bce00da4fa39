package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"autoboard/internal/types"
)

const currentSchemaVersion = 1

const sqliteTimeFormat = time.RFC3339Nano

type sqliteRepository struct {
	db       *sql.DB
	projects ProjectStore
	cards    CardStore
	logs     CardLogStore
	autoMode AutoModeSettingsStore
}

func NewSQLiteRepository(path string) (Repository, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("repository db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps writers serialized and the foreign_keys pragma in effect.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := initSQLiteSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteRepository{
		db:       db,
		projects: &sqliteProjectStore{db: db},
		cards:    &sqliteCardStore{db: db},
		logs:     &sqliteCardLogStore{db: db},
		autoMode: &sqliteAutoModeStore{db: db},
	}, nil
}

func (r *sqliteRepository) Projects() ProjectStore {
	return r.projects
}

func (r *sqliteRepository) Cards() CardStore {
	return r.cards
}

func (r *sqliteRepository) CardLogs() CardLogStore {
	return r.logs
}

func (r *sqliteRepository) AutoMode() AutoModeSettingsStore {
	return r.autoMode
}

func (r *sqliteRepository) Backend() string {
	return RepositoryBackendSQLite
}

func (r *sqliteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func initSQLiteSchema(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}
	var version int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		version = 0
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			column_id TEXT NOT NULL,
			position INTEGER NOT NULL DEFAULT 0,
			session_id TEXT NOT NULL DEFAULT '',
			archived_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_project_column ON cards(project_id, column_id)`,
		`CREATE TABLE IF NOT EXISTS card_logs (
			id TEXT PRIMARY KEY,
			card_id TEXT NOT NULL REFERENCES cards(id) ON DELETE CASCADE,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(card_id, sequence)
		)`,
		`CREATE TABLE IF NOT EXISTS auto_mode_settings (
			project_id TEXT PRIMARY KEY REFERENCES projects(id) ON DELETE CASCADE,
			enabled INTEGER NOT NULL DEFAULT 0,
			max_concurrency INTEGER NOT NULL DEFAULT 1,
			updated_at TEXT NOT NULL
		)`,
		`DELETE FROM schema_version`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(sqliteTimeFormat, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY
	}
	return false
}

type sqliteProjectStore struct {
	db *sql.DB
}

const projectColumns = `id, name, path, created_at, updated_at`

func scanProject(row rowScanner) (*types.Project, error) {
	var (
		project            types.Project
		createdAt, updated string
	)
	if err := row.Scan(&project.ID, &project.Name, &project.Path, &createdAt, &updated); err != nil {
		return nil, err
	}
	project.CreatedAt = parseTime(createdAt)
	project.UpdatedAt = parseTime(updated)
	return &project, nil
}

func (s *sqliteProjectStore) List(ctx context.Context) ([]*types.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*types.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, project)
	}
	return out, rows.Err()
}

func (s *sqliteProjectStore) Get(ctx context.Context, id string) (*types.Project, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id)
	project, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return project, true, nil
}

func (s *sqliteProjectStore) Create(ctx context.Context, project *types.Project) (*types.Project, error) {
	if err := validateProject(project); err != nil {
		return nil, err
	}
	out := cloneProject(project)
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?)`,
		out.ID, out.Name, out.Path, formatTime(out.CreatedAt), formatTime(out.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, invalid("project already exists: " + out.ID)
		}
		return nil, err
	}
	return out, nil
}

func (s *sqliteProjectStore) Update(ctx context.Context, id string, patch types.ProjectPatch) (*types.Project, error) {
	current, ok, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	if patch.Name != nil {
		current.Name = *patch.Name
	}
	if patch.Path != nil {
		current.Path = *patch.Path
	}
	if err := validateProject(current); err != nil {
		return nil, err
	}
	current.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, path = ?, updated_at = ? WHERE id = ?`,
		current.Name, current.Path, formatTime(current.UpdatedAt), current.ID)
	if err != nil {
		return nil, err
	}
	return current, nil
}

func (s *sqliteProjectStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type sqliteCardStore struct {
	db *sql.DB
}

const cardColumns = `id, project_id, title, description, column_id, position, session_id, archived_at, created_at, updated_at`

func scanCard(row rowScanner) (*types.Card, error) {
	var (
		card               types.Card
		projectID          sql.NullString
		column             string
		archivedAt         sql.NullString
		createdAt, updated string
	)
	if err := row.Scan(&card.ID, &projectID, &card.Title, &card.Description, &column, &card.Position,
		&card.SessionID, &archivedAt, &createdAt, &updated); err != nil {
		return nil, err
	}
	card.ProjectID = projectID.String
	card.ColumnID = types.ColumnID(column)
	if archivedAt.Valid {
		archived := parseTime(archivedAt.String)
		card.ArchivedAt = &archived
	}
	card.CreatedAt = parseTime(createdAt)
	card.UpdatedAt = parseTime(updated)
	return &card, nil
}

func (s *sqliteCardStore) List(ctx context.Context, filter CardFilter) ([]*types.Card, error) {
	query := `SELECT ` + cardColumns + ` FROM cards WHERE 1 = 1`
	args := make([]any, 0, 2)
	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	if filter.Column != "" {
		query += ` AND column_id = ?`
		args = append(args, string(filter.Column))
	}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	query += ` ORDER BY position, created_at, id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*types.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, card)
	}
	return out, rows.Err()
}

func (s *sqliteCardStore) Get(ctx context.Context, id string) (*types.Card, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return card, true, nil
}

func (s *sqliteCardStore) Create(ctx context.Context, card *types.Card) (*types.Card, error) {
	out := cloneCard(card)
	if err := validateCard(out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	now := time.Now().UTC()
	out.CreatedAt = now
	out.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), -1) + 1 FROM cards WHERE column_id = ? AND project_id IS ?`,
		string(out.ColumnID), nullableString(out.ProjectID)).Scan(&out.Position)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO cards (`+cardColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		out.ID, nullableString(out.ProjectID), out.Title, out.Description, string(out.ColumnID), out.Position,
		out.SessionID, nullableTime(out.ArchivedAt), formatTime(out.CreatedAt), formatTime(out.UpdatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, invalid("project not found: " + out.ProjectID)
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *sqliteCardStore) Update(ctx context.Context, id string, patch types.CardPatch) (*types.Card, error) {
	current, ok, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(current)
	if err := validateCard(current); err != nil {
		return nil, err
	}
	current.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE cards SET project_id = ?, title = ?, description = ?, column_id = ?, position = ?,
			session_id = ?, archived_at = ?, updated_at = ? WHERE id = ?`,
		nullableString(current.ProjectID), current.Title, current.Description, string(current.ColumnID),
		current.Position, current.SessionID, nullableTime(current.ArchivedAt), formatTime(current.UpdatedAt), current.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, invalid("project not found: " + current.ProjectID)
		}
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return current, nil
}

func (s *sqliteCardStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

type sqliteCardLogStore struct {
	db *sql.DB
}

const cardLogColumns = `id, card_id, type, content, sequence, created_at`

func scanCardLog(row rowScanner) (*types.CardLog, error) {
	var (
		record    types.CardLog
		logType   string
		createdAt string
	)
	if err := row.Scan(&record.ID, &record.CardID, &logType, &record.Content, &record.Sequence, &createdAt); err != nil {
		return nil, err
	}
	record.Type = types.LogType(logType)
	record.CreatedAt = parseTime(createdAt)
	return &record, nil
}

func (s *sqliteCardLogStore) CreateLog(ctx context.Context, record *types.CardLog) (*types.CardLog, error) {
	if err := validateLog(record); err != nil {
		return nil, err
	}
	out := *record
	if strings.TrimSpace(out.ID) == "" {
		out.ID = newID()
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO card_logs (`+cardLogColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		out.ID, out.CardID, string(out.Type), out.Content, out.Sequence, formatTime(out.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateSequence
		}
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (s *sqliteCardLogStore) ListByCard(ctx context.Context, cardID string) ([]*types.CardLog, error) {
	return s.ListAfterSequence(ctx, cardID, 0)
}

func (s *sqliteCardLogStore) ListAfterSequence(ctx context.Context, cardID string, after int64) ([]*types.CardLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardLogColumns+` FROM card_logs WHERE card_id = ? AND sequence > ? ORDER BY sequence`,
		cardID, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*types.CardLog, 0)
	for rows.Next() {
		record, err := scanCardLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, rows.Err()
}

func (s *sqliteCardLogStore) MaxSequence(ctx context.Context, cardID string) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM card_logs WHERE card_id = ?`, cardID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max, nil
}

type sqliteAutoModeStore struct {
	db *sql.DB
}

const autoModeColumns = `project_id, enabled, max_concurrency, updated_at`

func scanSettings(row rowScanner) (*types.AutoModeSettings, error) {
	var (
		settings  types.AutoModeSettings
		enabled   int
		updatedAt string
	)
	if err := row.Scan(&settings.ProjectID, &enabled, &settings.MaxConcurrency, &updatedAt); err != nil {
		return nil, err
	}
	settings.Enabled = enabled != 0
	settings.UpdatedAt = parseTime(updatedAt)
	return &settings, nil
}

func (s *sqliteAutoModeStore) Get(ctx context.Context, projectID string) (*types.AutoModeSettings, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+autoModeColumns+` FROM auto_mode_settings WHERE project_id = ?`, projectID)
	settings, err := scanSettings(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return settings, true, nil
}

func (s *sqliteAutoModeStore) Upsert(ctx context.Context, settings *types.AutoModeSettings) (*types.AutoModeSettings, error) {
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	out := cloneSettings(settings)
	out.UpdatedAt = time.Now().UTC()
	enabled := 0
	if out.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auto_mode_settings (`+autoModeColumns+`) VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET
			enabled = excluded.enabled,
			max_concurrency = excluded.max_concurrency,
			updated_at = excluded.updated_at`,
		out.ProjectID, enabled, out.MaxConcurrency, formatTime(out.UpdatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return out, nil
}

func (s *sqliteAutoModeStore) ListEnabled(ctx context.Context) ([]*types.AutoModeSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+autoModeColumns+` FROM auto_mode_settings WHERE enabled = 1 ORDER BY project_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*types.AutoModeSettings, 0)
	for rows.Next() {
		settings, err := scanSettings(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, settings)
	}
	return out, rows.Err()
}

func (s *sqliteAutoModeStore) Delete(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM auto_mode_settings WHERE project_id = ?`, projectID)
	return err
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
