package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/alertscope/alertscope/internal/models"
	"github.com/alertscope/alertscope/internal/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id       INTEGER NOT NULL,
	alert_content TEXT    NOT NULL,
	status        TEXT    NOT NULL,
	current_stage TEXT    NOT NULL DEFAULT '',
	intent        TEXT,
	context_data  TEXT,
	result        TEXT,
	messages      TEXT    NOT NULL DEFAULT '[]',
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS datasources (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT    NOT NULL,
	type       TEXT    NOT NULL,
	host       TEXT    NOT NULL,
	port       INTEGER NOT NULL,
	auth_token TEXT    NOT NULL DEFAULT '',
	options    TEXT    NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	ticket_no   TEXT    NOT NULL UNIQUE,
	user_id     INTEGER NOT NULL,
	session_id  INTEGER,
	title       TEXT    NOT NULL,
	description TEXT    NOT NULL DEFAULT '',
	status      TEXT    NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tickets_user ON tickets(user_id, created_at DESC);
`

// SQLite is the embedded Store implementation.
type SQLite struct {
	db *sqlx.DB
}

// Open connects to (and if needed bootstraps) the database at path.
// ":memory:" is accepted for tests.
func Open(path string) (*SQLite, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, utils.NewAppError("store.open", "open sqlite at "+path, err)
	}
	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent pipelines.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, utils.NewAppError("store.open", "apply schema", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

type sessionRow struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	AlertContent string    `db:"alert_content"`
	Status       string    `db:"status"`
	CurrentStage string    `db:"current_stage"`
	Intent       []byte    `db:"intent"`
	ContextData  []byte    `db:"context_data"`
	Result       []byte    `db:"result"`
	Messages     []byte    `db:"messages"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func encodeDoc(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func sessionToRow(sess *models.Session) (sessionRow, error) {
	row := sessionRow{
		ID:           sess.ID,
		UserID:       sess.UserID,
		AlertContent: sess.AlertContent,
		Status:       string(sess.Status),
		CurrentStage: sess.CurrentStage,
		CreatedAt:    sess.CreatedAt,
		UpdatedAt:    sess.UpdatedAt,
	}
	var err error
	if sess.Intent != nil {
		if row.Intent, err = encodeDoc(sess.Intent); err != nil {
			return row, fmt.Errorf("encode intent: %w", err)
		}
	}
	if sess.Context != nil {
		if row.ContextData, err = encodeDoc(sess.Context); err != nil {
			return row, fmt.Errorf("encode context: %w", err)
		}
	}
	if sess.Result != nil {
		if row.Result, err = encodeDoc(sess.Result); err != nil {
			return row, fmt.Errorf("encode result: %w", err)
		}
	}
	msgs := sess.Messages
	if msgs == nil {
		msgs = []models.ConversationMessage{}
	}
	if row.Messages, err = json.Marshal(msgs); err != nil {
		return row, fmt.Errorf("encode messages: %w", err)
	}
	return row, nil
}

func rowToSession(row sessionRow) (*models.Session, error) {
	sess := &models.Session{
		ID:           row.ID,
		UserID:       row.UserID,
		AlertContent: row.AlertContent,
		Status:       models.Status(row.Status),
		CurrentStage: row.CurrentStage,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}
	if len(row.Intent) > 0 {
		sess.Intent = &models.Intent{}
		if err := json.Unmarshal(row.Intent, sess.Intent); err != nil {
			return nil, fmt.Errorf("decode intent: %w", err)
		}
	}
	if len(row.ContextData) > 0 {
		sess.Context = &models.ContextData{}
		if err := json.Unmarshal(row.ContextData, sess.Context); err != nil {
			return nil, fmt.Errorf("decode context: %w", err)
		}
	}
	if len(row.Result) > 0 {
		sess.Result = &models.Verdict{}
		if err := json.Unmarshal(row.Result, sess.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if len(row.Messages) > 0 {
		if err := json.Unmarshal(row.Messages, &sess.Messages); err != nil {
			return nil, fmt.Errorf("decode messages: %w", err)
		}
	}
	return sess, nil
}

func (s *SQLite) CreateSession(ctx context.Context, sess *models.Session) error {
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	row, err := sessionToRow(sess)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO sessions (user_id, alert_content, status, current_stage, intent, context_data, result, messages, created_at, updated_at)
		VALUES (:user_id, :alert_content, :status, :current_stage, :intent, :context_data, :result, :messages, :created_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	sess.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %d: %w", id, err)
	}
	return rowToSession(row)
}

func (s *SQLite) SaveSession(ctx context.Context, sess *models.Session) error {
	sess.UpdatedAt = time.Now().UTC()
	row, err := sessionToRow(sess)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE sessions SET
			status = :status,
			current_stage = :current_stage,
			intent = :intent,
			context_data = :context_data,
			result = :result,
			messages = :messages,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update session %d: %w", sess.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) ListSessions(ctx context.Context, userID int64, limit, offset int) ([]models.SessionSummary, int, error) {
	if limit <= 0 {
		limit = 20
	}
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	var rows []struct {
		ID           int64     `db:"id"`
		AlertContent string    `db:"alert_content"`
		Status       string    `db:"status"`
		Result       []byte    `db:"result"`
		CreatedAt    time.Time `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, alert_content, status, result, created_at
		FROM sessions WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]models.SessionSummary, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.SessionSummary{
			ID:           r.ID,
			AlertContent: utils.Truncate(r.AlertContent, 100),
			Status:       models.Status(r.Status),
			CreatedAt:    r.CreatedAt,
			HasResult:    len(r.Result) > 0,
		})
	}
	return out, total, nil
}

// DeleteSession removes the session and unlinks any tickets that
// referenced it.
func (s *SQLite) DeleteSession(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE tickets SET session_id = NULL WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("unlink tickets: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type datasourceRow struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	Host      string    `db:"host"`
	Port      int       `db:"port"`
	AuthToken string    `db:"auth_token"`
	Options   []byte    `db:"options"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func datasourceToRow(ds *models.DataSource) (datasourceRow, error) {
	opts, err := json.Marshal(ds.Options)
	if err != nil {
		return datasourceRow{}, fmt.Errorf("encode options: %w", err)
	}
	return datasourceRow{
		ID:        ds.ID,
		Name:      ds.Name,
		Type:      string(ds.Type),
		Host:      ds.Host,
		Port:      ds.Port,
		AuthToken: ds.AuthToken,
		Options:   opts,
		CreatedAt: ds.CreatedAt,
		UpdatedAt: ds.UpdatedAt,
	}, nil
}

func rowToDatasource(row datasourceRow) (models.DataSource, error) {
	ds := models.DataSource{
		ID:        row.ID,
		Name:      row.Name,
		Type:      models.DataSourceType(row.Type),
		Host:      row.Host,
		Port:      row.Port,
		AuthToken: row.AuthToken,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Options) > 0 {
		if err := json.Unmarshal(row.Options, &ds.Options); err != nil {
			return ds, fmt.Errorf("decode options: %w", err)
		}
	}
	return ds, nil
}

func (s *SQLite) CreateDataSource(ctx context.Context, ds *models.DataSource) error {
	now := time.Now().UTC()
	ds.CreatedAt = now
	ds.UpdatedAt = now

	row, err := datasourceToRow(ds)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO datasources (name, type, host, port, auth_token, options, created_at, updated_at)
		VALUES (:name, :type, :host, :port, :auth_token, :options, :created_at, :updated_at)`, row)
	if err != nil {
		return fmt.Errorf("insert datasource: %w", err)
	}
	ds.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) GetDataSource(ctx context.Context, id int64) (*models.DataSource, error) {
	var row datasourceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM datasources WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get datasource %d: %w", id, err)
	}
	ds, err := rowToDatasource(row)
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

func (s *SQLite) ListDataSources(ctx context.Context) ([]models.DataSource, error) {
	var rows []datasourceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM datasources ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list datasources: %w", err)
	}
	out := make([]models.DataSource, 0, len(rows))
	for _, row := range rows {
		ds, err := rowToDatasource(row)
		if err != nil {
			return nil, err
		}
		out = append(out, ds)
	}
	return out, nil
}

// DataSourcesByIDs returns the named sources in the order the ids were
// given. Unknown ids are an error so an analysis never silently runs
// against fewer backends than requested.
func (s *SQLite) DataSourcesByIDs(ctx context.Context, ids []int64) ([]models.DataSource, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM datasources WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var rows []datasourceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("select datasources: %w", err)
	}

	byID := make(map[int64]models.DataSource, len(rows))
	for _, row := range rows {
		ds, err := rowToDatasource(row)
		if err != nil {
			return nil, err
		}
		byID[ds.ID] = ds
	}
	out := make([]models.DataSource, 0, len(ids))
	for _, id := range ids {
		ds, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("datasource %d: %w", id, ErrNotFound)
		}
		out = append(out, ds)
	}
	return out, nil
}

func (s *SQLite) UpdateDataSource(ctx context.Context, ds *models.DataSource) error {
	ds.UpdatedAt = time.Now().UTC()
	row, err := datasourceToRow(ds)
	if err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE datasources SET
			name = :name, type = :type, host = :host, port = :port,
			auth_token = :auth_token, options = :options, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return fmt.Errorf("update datasource %d: %w", ds.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteDataSource(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM datasources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete datasource %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) CreateTicket(ctx context.Context, t *models.Ticket) error {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tickets (ticket_no, user_id, session_id, title, description, status, created_at, updated_at)
		VALUES (:ticket_no, :user_id, :session_id, :title, :description, :status, :created_at, :updated_at)`, t)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	t.ID, err = res.LastInsertId()
	return err
}

func (s *SQLite) GetTicket(ctx context.Context, id int64) (*models.Ticket, error) {
	var t models.Ticket
	err := s.db.GetContext(ctx, &t, `SELECT * FROM tickets WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %d: %w", id, err)
	}
	return &t, nil
}

func (s *SQLite) ListTickets(ctx context.Context, userID int64) ([]models.Ticket, error) {
	var out []models.Ticket
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM tickets WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	return out, nil
}

func (s *SQLite) UpdateTicket(ctx context.Context, t *models.Ticket) error {
	t.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE tickets SET
			session_id = :session_id, title = :title, description = :description,
			status = :status, updated_at = :updated_at
		WHERE id = :id`, t)
	if err != nil {
		return fmt.Errorf("update ticket %d: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) DeleteTicket(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tickets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete ticket %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
