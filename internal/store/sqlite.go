package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/nvandessel/tally/internal/models"
)

// DBFileName is the SQLite database file inside the .tally directory.
const DBFileName = "tally.db"

const schemaVersion = 1

var schema = []string{
	`CREATE TABLE IF NOT EXISTS transactions (
		id           TEXT PRIMARY KEY,
		report_id    TEXT NOT NULL DEFAULT '',
		amount       TEXT NOT NULL DEFAULT '0',
		currency     TEXT NOT NULL DEFAULT '',
		created      TEXT NOT NULL DEFAULT '',
		merchant     TEXT NOT NULL DEFAULT '',
		category     TEXT NOT NULL DEFAULT '',
		tag          TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		tax_code     TEXT NOT NULL DEFAULT '',
		billable     INTEGER NOT NULL DEFAULT 0,
		reimbursable INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_duplicates (
		transaction_id TEXT NOT NULL,
		duplicate_id   TEXT NOT NULL,
		position       INTEGER NOT NULL,
		PRIMARY KEY (transaction_id, duplicate_id)
	)`,
	`CREATE TABLE IF NOT EXISTS review_sessions (
		transaction_id TEXT PRIMARY KEY,
		steps          TEXT NOT NULL,
		cursor         INTEGER NOT NULL DEFAULT 0,
		choices        TEXT NOT NULL DEFAULT '{}',
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		report_id           TEXT PRIMARY KEY,
		parent_report_id    TEXT NOT NULL DEFAULT '',
		type                TEXT NOT NULL DEFAULT 'task',
		title               TEXT NOT NULL DEFAULT '',
		description         TEXT NOT NULL DEFAULT '',
		description_html    TEXT NOT NULL DEFAULT '',
		status              TEXT NOT NULL DEFAULT 'open',
		owner_account_id    INTEGER NOT NULL DEFAULT 0,
		assignee_account_id INTEGER NOT NULL DEFAULT 0,
		parent_archived     INTEGER NOT NULL DEFAULT 0
	)`,
}

// SQLiteStore is a Store backed by a SQLite database under <root>/.tally.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (creating if needed) the database for projectRoot.
func NewSQLiteStore(projectRoot string) (*SQLiteStore, error) {
	dir := LocalTallyPath(projectRoot)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create .tally directory: %w", err)
	}
	if err := EnsureGitignore(dir); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, DBFileName)
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("writing schema version: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// PutTransaction implements Store.
func (s *SQLiteStore) PutTransaction(ctx context.Context, tx models.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	return s.withTx(ctx, func(q *sql.Tx) error {
		return putTransaction(ctx, q, tx)
	})
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func putTransaction(ctx context.Context, q querier, tx models.Transaction) error {
	_, err := q.ExecContext(ctx, `INSERT INTO transactions
		(id, report_id, amount, currency, created, merchant, category, tag, description, tax_code, billable, reimbursable)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			report_id = excluded.report_id, amount = excluded.amount, currency = excluded.currency,
			created = excluded.created, merchant = excluded.merchant, category = excluded.category,
			tag = excluded.tag, description = excluded.description, tax_code = excluded.tax_code,
			billable = excluded.billable, reimbursable = excluded.reimbursable`,
		tx.ID, tx.ReportID, tx.Amount.String(), tx.Currency, tx.Created.UTC().Format(time.RFC3339Nano),
		tx.Merchant, tx.Category, tx.Tag, tx.Description, tx.TaxCode,
		boolInt(tx.Billable), boolInt(tx.Reimbursable))
	if err != nil {
		return fmt.Errorf("saving transaction %s: %w", tx.ID, err)
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM transaction_duplicates WHERE transaction_id = ?`, tx.ID); err != nil {
		return fmt.Errorf("clearing duplicates of %s: %w", tx.ID, err)
	}
	for i, dupID := range tx.DuplicateOf {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO transaction_duplicates (transaction_id, duplicate_id, position) VALUES (?, ?, ?)`,
			tx.ID, dupID, i); err != nil {
			return fmt.Errorf("flagging duplicate %s of %s: %w", dupID, tx.ID, err)
		}
	}
	return nil
}

const transactionColumns = `id, report_id, amount, currency, created, merchant, category, tag, description, tax_code, billable, reimbursable`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(r rowScanner) (*models.Transaction, error) {
	var (
		tx                     models.Transaction
		amount, created        string
		billable, reimbursable int
	)
	if err := r.Scan(&tx.ID, &tx.ReportID, &amount, &tx.Currency, &created,
		&tx.Merchant, &tx.Category, &tx.Tag, &tx.Description, &tx.TaxCode,
		&billable, &reimbursable); err != nil {
		return nil, err
	}
	if amount != "" {
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parsing amount of %s: %w", tx.ID, err)
		}
		tx.Amount = d
	}
	if created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parsing created of %s: %w", tx.ID, err)
		}
		tx.Created = t
	}
	tx.Billable = billable != 0
	tx.Reimbursable = reimbursable != 0
	return &tx, nil
}

func duplicateIDs(ctx context.Context, q querier, id string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT duplicate_id FROM transaction_duplicates WHERE transaction_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("querying duplicates of %s: %w", id, err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		ids = append(ids, d)
	}
	return ids, rows.Err()
}

// GetTransaction implements Store.
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, q querier, id string) (*models.Transaction, error) {
	row := q.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", id, err)
	}
	if tx.DuplicateOf, err = duplicateIDs(ctx, q, id); err != nil {
		return nil, err
	}
	return tx, nil
}

// ListDuplicates implements Store.
func (s *SQLiteStore) ListDuplicates(ctx context.Context, id string) ([]models.Transaction, error) {
	ids, err := duplicateIDs(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	var out []models.Transaction
	for _, dupID := range ids {
		tx, err := s.GetTransaction(ctx, dupID)
		if err != nil {
			return nil, err
		}
		if tx != nil {
			out = append(out, *tx)
		}
	}
	return out, nil
}

// ApplyResolution implements Store. The read, the write and the session
// cleanup commit together.
func (s *SQLiteStore) ApplyResolution(ctx context.Context, id string, values map[string]any) error {
	return s.withTx(ctx, func(q *sql.Tx) error {
		tx, err := getTransaction(ctx, q, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		for field, v := range values {
			if err := tx.SetField(field, v); err != nil {
				return err
			}
		}
		tx.DuplicateOf = nil
		if err := putTransaction(ctx, q, *tx); err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM review_sessions WHERE transaction_id = ?`, id); err != nil {
			return fmt.Errorf("closing review session %s: %w", id, err)
		}
		return nil
	})
}

// SaveSession implements Store.
func (s *SQLiteStore) SaveSession(ctx context.Context, state models.ReviewState) error {
	return saveSession(ctx, s.db, state)
}

func saveSession(ctx context.Context, q querier, state models.ReviewState) error {
	steps, err := json.Marshal(state.Steps)
	if err != nil {
		return fmt.Errorf("encoding steps: %w", err)
	}
	choices := state.Choices
	if choices == nil {
		choices = map[string]any{}
	}
	choicesJSON, err := json.Marshal(choices)
	if err != nil {
		return fmt.Errorf("encoding choices: %w", err)
	}
	updated := state.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err = q.ExecContext(ctx, `INSERT INTO review_sessions (transaction_id, steps, cursor, choices, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO UPDATE SET
			steps = excluded.steps, cursor = excluded.cursor,
			choices = excluded.choices, updated_at = excluded.updated_at`,
		state.TransactionID, string(steps), state.Cursor, string(choicesJSON), updated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving review session %s: %w", state.TransactionID, err)
	}
	return nil
}

// LoadSession implements Store.
func (s *SQLiteStore) LoadSession(ctx context.Context, transactionID string) (*models.ReviewState, error) {
	return loadSession(ctx, s.db, transactionID)
}

func loadSession(ctx context.Context, q querier, transactionID string) (*models.ReviewState, error) {
	var steps, choices, updated string
	state := models.ReviewState{TransactionID: transactionID}
	err := q.QueryRowContext(ctx,
		`SELECT steps, cursor, choices, updated_at FROM review_sessions WHERE transaction_id = ?`, transactionID).
		Scan(&steps, &state.Cursor, &choices, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading review session %s: %w", transactionID, err)
	}
	if err := json.Unmarshal([]byte(steps), &state.Steps); err != nil {
		return nil, fmt.Errorf("decoding steps: %w", err)
	}
	if err := json.Unmarshal([]byte(choices), &state.Choices); err != nil {
		return nil, fmt.Errorf("decoding choices: %w", err)
	}
	if state.Choices == nil {
		state.Choices = make(map[string]any)
	}
	if state.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("decoding updated_at: %w", err)
	}
	return &state, nil
}

// RecordChoice implements Store.
func (s *SQLiteStore) RecordChoice(ctx context.Context, transactionID string, choice FieldChoice, nextCursor int) error {
	return s.withTx(ctx, func(q *sql.Tx) error {
		state, err := loadSession(ctx, q, transactionID)
		if err != nil {
			return err
		}
		if state == nil {
			return fmt.Errorf("review session %s: %w", transactionID, ErrNotFound)
		}
		state.Choices[choice.Field] = choice.Value
		state.Cursor = nextCursor
		state.UpdatedAt = time.Now()
		return saveSession(ctx, q, *state)
	})
}

// PutTask implements Store.
func (s *SQLiteStore) PutTask(ctx context.Context, task models.Task) error {
	if task.ReportID == "" {
		return fmt.Errorf("task report id is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks
		(report_id, parent_report_id, type, title, description, description_html, status,
		 owner_account_id, assignee_account_id, parent_archived)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(report_id) DO UPDATE SET
			parent_report_id = excluded.parent_report_id, type = excluded.type, title = excluded.title,
			description = excluded.description, description_html = excluded.description_html,
			status = excluded.status, owner_account_id = excluded.owner_account_id,
			assignee_account_id = excluded.assignee_account_id, parent_archived = excluded.parent_archived`,
		task.ReportID, task.ParentReportID, string(task.Type), task.Title, task.Description, task.DescriptionHTML,
		string(task.Status), task.OwnerAccountID, task.AssigneeAccountID, boolInt(task.ParentArchived))
	if err != nil {
		return fmt.Errorf("saving task %s: %w", task.ReportID, err)
	}
	return nil
}

// GetTask implements Store.
func (s *SQLiteStore) GetTask(ctx context.Context, reportID string) (*models.Task, error) {
	var (
		t           models.Task
		typ, status string
		archived    int
	)
	err := s.db.QueryRowContext(ctx, `SELECT report_id, parent_report_id, type, title, description, description_html,
		status, owner_account_id, assignee_account_id, parent_archived FROM tasks WHERE report_id = ?`, reportID).
		Scan(&t.ReportID, &t.ParentReportID, &typ, &t.Title, &t.Description, &t.DescriptionHTML,
			&status, &t.OwnerAccountID, &t.AssigneeAccountID, &archived)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", reportID, err)
	}
	t.Type = models.ReportType(typ)
	t.Status = models.TaskStatus(status)
	t.ParentArchived = archived != 0
	return &t, nil
}

// UpdateTaskDescription implements Store.
func (s *SQLiteStore) UpdateTaskDescription(ctx context.Context, reportID, description, descriptionHTML string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET description = ?, description_html = ? WHERE report_id = ?`,
		description, descriptionHTML, reportID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", reportID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating task %s: %w", reportID, err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", reportID, ErrNotFound)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	q, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(q); err != nil {
		q.Rollback()
		return err
	}
	return q.Commit()
}

var _ Store = (*SQLiteStore)(nil)
