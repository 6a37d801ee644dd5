package ordering

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

const itemsTable = "content_items"

var itemColumns = []string{"id", "resource", "scope_id", "ord", "title", "location", "metadata", "created_at", "updated_at"}

// OpenSQLite opens and pings a SQLite database. The DSN is passed to
// mattn/go-sqlite3 unchanged; "_txlock=immediate" is recommended so that
// concurrent writers queue instead of failing on upgrade.
func OpenSQLite(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite dsn must be provided")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; also keeps ":memory:" databases on one connection.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the content_items table and its indexes exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS content_items (
			id TEXT PRIMARY KEY,
			resource TEXT NOT NULL,
			scope_id TEXT NOT NULL,
			ord INTEGER NOT NULL,
			title TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			metadata TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_items_scope ON content_items(resource, scope_id, ord)`,
		`CREATE INDEX IF NOT EXISTS idx_content_items_resource_id ON content_items(resource, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SQLRepository persists items in a SQL database. Every InScope call is one
// database transaction.
type SQLRepository struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ Repository = (*SQLRepository)(nil)

// NewSQLRepository wires a migrated *sql.DB.
func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Question),
	}
}

// Locate implements Repository.Locate.
func (r *SQLRepository) Locate(ctx context.Context, resource Resource, id ItemID) (ScopeID, error) {
	query, args, err := r.sb.Select("scope_id").
		From(itemsTable).
		Where(sq.Eq{"resource": string(resource), "id": string(id)}).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build locate: %w", err)
	}

	var scopeID string
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&scopeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("locate item: %w", err)
	}
	return ScopeID(scopeID), nil
}

// Get implements Repository.Get.
func (r *SQLRepository) Get(ctx context.Context, resource Resource, id ItemID) (Item, error) {
	query, args, err := r.sb.Select(itemColumns...).
		From(itemsTable).
		Where(sq.Eq{"resource": string(resource), "id": string(id)}).
		ToSql()
	if err != nil {
		return Item{}, fmt.Errorf("build get: %w", err)
	}

	it, err := scanItem(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("get item: %w", err)
	}
	return it, nil
}

// List implements Repository.List.
func (r *SQLRepository) List(ctx context.Context, scope Scope) ([]Item, error) {
	return r.listScope(ctx, r.db, scope)
}

// InScope implements Repository.InScope.
func (r *SQLRepository) InScope(ctx context.Context, scope Scope, fn func(tx ScopeTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	items, err := r.listScope(ctx, tx, scope)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	stx := &sqlScopeTx{ctx: ctx, tx: tx, sb: r.sb, scope: scope, items: items}
	if err := fn(stx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *SQLRepository) listScope(ctx context.Context, q queryer, scope Scope) ([]Item, error) {
	query, args, err := r.sb.Select(itemColumns...).
		From(itemsTable).
		Where(sq.Eq{"resource": string(scope.Resource), "scope_id": string(scope.ID)}).
		OrderBy("ord ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scope: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it                    Item
		id, resource, scopeID string
		metadata              sql.NullString
		createdAt, updatedAt  time.Time
	)
	if err := row.Scan(&id, &resource, &scopeID, &it.Order, &it.Title, &it.Location, &metadata, &createdAt, &updatedAt); err != nil {
		return Item{}, err
	}
	it.ID = ItemID(id)
	it.Resource = Resource(resource)
	it.ScopeID = ScopeID(scopeID)
	it.CreatedAt = createdAt.UTC()
	it.UpdatedAt = updatedAt.UTC()
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &it.Metadata); err != nil {
			return Item{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return it, nil
}

type sqlScopeTx struct {
	ctx   context.Context
	tx    *sql.Tx
	sb    sq.StatementBuilderType
	scope Scope
	items []Item
}

func (t *sqlScopeTx) Items() []Item {
	out := make([]Item, len(t.items))
	copy(out, t.items)
	return out
}

func (t *sqlScopeTx) Insert(item Item) error {
	var metadata sql.NullString
	if len(item.Metadata) > 0 {
		b, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}

	query, args, err := t.sb.Insert(itemsTable).
		Columns(itemColumns...).
		Values(string(item.ID), string(t.scope.Resource), string(t.scope.ID), item.Order,
			item.Title, item.Location, metadata, item.CreatedAt, item.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := t.tx.ExecContext(t.ctx, query, args...); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	return nil
}

func (t *sqlScopeTx) SetOrder(id ItemID, order int, at time.Time) error {
	query, args, err := t.sb.Update(itemsTable).
		Set("ord", order).
		Set("updated_at", at).
		Where(sq.Eq{"resource": string(t.scope.Resource), "scope_id": string(t.scope.ID), "id": string(id)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	return t.execOne(query, args)
}

func (t *sqlScopeTx) Delete(id ItemID) error {
	query, args, err := t.sb.Delete(itemsTable).
		Where(sq.Eq{"resource": string(t.scope.Resource), "scope_id": string(t.scope.ID), "id": string(id)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	return t.execOne(query, args)
}

// execOne runs a statement that must touch exactly one row.
func (t *sqlScopeTx) execOne(query string, args []any) error {
	res, err := t.tx.ExecContext(t.ctx, query, args...)
	if err != nil {
		return fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return ErrNotFound
	}
	return nil
}
