package backend

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Postgres implements Backend on top of sqlx with realtime changes delivered
// through LISTEN/NOTIFY (see listener.go).
type Postgres struct {
	db       *sqlx.DB
	listener *changeListener
}

// Connect initializes the database connection, runs migrations and starts
// the change listener.
func Connect(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	listener, err := newChangeListener(dsn)
	if err != nil {
		return nil, fmt.Errorf("start change listener: %w", err)
	}

	return &Postgres{db: db, listener: listener}, nil
}

// Close releases the connection pool and the notification channel.
func (p *Postgres) Close() error {
	if p.listener != nil {
		_ = p.listener.close()
	}
	return p.db.Close()
}

// Query runs a windowed select. The range is inclusive on both ends, so
// from=0 to=19 yields the first 20 rows under the given order.
func (p *Postgres) Query(ctx context.Context, dest any, table string, filter Filter, order Order, from, to int) error {
	where, args := renderFilter(filter, 1)
	query := fmt.Sprintf("SELECT * FROM %s", table)
	if where != "" {
		query += " WHERE " + where
	}
	if order.Column != "" {
		query += " ORDER BY " + order.Column
		if order.Desc {
			query += " DESC"
		}
	}
	query += fmt.Sprintf(" OFFSET %d LIMIT %d", from, to-from+1)
	return p.db.SelectContext(ctx, dest, query, args...)
}

// Insert stores one row and scans the backend-assigned result into dest.
func (p *Postgres) Insert(ctx context.Context, dest any, table string, row map[string]any) error {
	columns := sortedKeys(row)
	placeholders := make([]string, len(columns))
	args := make([]any, len(columns))
	for i, col := range columns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col]
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "),
	)
	return p.db.QueryRowxContext(ctx, query, args...).StructScan(dest)
}

// Update applies a patch to every row matching the filter.
func (p *Postgres) Update(ctx context.Context, table string, filter Filter, patch map[string]any) error {
	columns := sortedKeys(patch)
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns))
	for i, col := range columns {
		sets[i] = fmt.Sprintf("%s = $%d", col, i+1)
		args = append(args, patch[col])
	}
	query := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	where, whereArgs := renderFilter(filter, len(columns)+1)
	if where != "" {
		query += " WHERE " + where
		args = append(args, whereArgs...)
	}
	_, err := p.db.ExecContext(ctx, query, args...)
	return err
}

// Subscribe registers a change-feed consumer for one table and event kind,
// optionally narrowed by a single equality predicate.
func (p *Postgres) Subscribe(ctx context.Context, table string, kind EventKind, filter Cond, fn EventFunc) (Subscription, error) {
	if filter.Op != "" && filter.Op != OpEq {
		return nil, fmt.Errorf("subscribe filter supports equality only, got %q", filter.Op)
	}
	return p.listener.subscribe(table, kind, filter, fn), nil
}

func renderFilter(f Filter, firstArg int) (string, []any) {
	var clauses []string
	var args []any
	n := firstArg

	render := func(c Cond) string {
		switch c.Op {
		case OpIsNull:
			return c.Column + " IS NULL"
		case OpNeq:
			clause := fmt.Sprintf("%s <> $%d", c.Column, n)
			args = append(args, c.Value)
			n++
			return clause
		case OpIn:
			clause := fmt.Sprintf("%s = ANY($%d)", c.Column, n)
			if values, ok := c.Value.([]int); ok {
				args = append(args, pq.Array(values))
			} else {
				args = append(args, c.Value)
			}
			n++
			return clause
		case OpLike:
			clause := fmt.Sprintf("%s LIKE $%d", c.Column, n)
			args = append(args, c.Value)
			n++
			return clause
		default:
			clause := fmt.Sprintf("%s = $%d", c.Column, n)
			args = append(args, c.Value)
			n++
			return clause
		}
	}

	for _, c := range f.All {
		clauses = append(clauses, render(c))
	}
	if len(f.Any) > 0 {
		group := make([]string, 0, len(f.Any))
		for _, c := range f.Any {
			group = append(group, render(c))
		}
		clauses = append(clauses, "("+strings.Join(group, " OR ")+")")
	}
	return strings.Join(clauses, " AND "), args
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id SERIAL PRIMARY KEY,
            name TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            sender_id INT NOT NULL REFERENCES users(id),
            receiver_id INT NOT NULL REFERENCES users(id),
            content TEXT NOT NULL,
            is_read BOOLEAN DEFAULT FALSE,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            updated_at TIMESTAMPTZ DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS notifications (
            id SERIAL PRIMARY KEY,
            target_user_id INT NOT NULL REFERENCES users(id),
            kind TEXT NOT NULL,
            content TEXT NOT NULL,
            created_at TIMESTAMPTZ DEFAULT NOW(),
            read_at TIMESTAMPTZ
        );`,
		`CREATE OR REPLACE VIEW messages_with_users AS
            SELECT m.id, m.sender_id, s.name AS sender_name,
                   m.receiver_id, r.name AS receiver_name,
                   m.content, m.is_read, m.created_at, m.updated_at
            FROM messages m
            JOIN users s ON s.id = m.sender_id
            JOIN users r ON r.id = m.receiver_id;`,
		`CREATE OR REPLACE FUNCTION notify_inbox_change() RETURNS trigger AS $fn$
        BEGIN
            PERFORM pg_notify('` + notifyChannel + `', json_build_object(
                'table', TG_TABLE_NAME,
                'op', lower(TG_OP),
                'id', NEW.id,
                'row', row_to_json(NEW)
            )::text);
            RETURN NEW;
        END;
        $fn$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
		`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_inbox_change();`,
		`DROP TRIGGER IF EXISTS notifications_notify ON notifications;`,
		`CREATE TRIGGER notifications_notify AFTER INSERT OR UPDATE ON notifications
            FOR EACH ROW EXECUTE FUNCTION notify_inbox_change();`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
