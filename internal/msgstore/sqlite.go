package msgstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"msgnotify/internal/eventbus"
	logx "msgnotify/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	bus eventbus.Bus
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.Component("msgstore.sqlite")), bus: eventbus.New()}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) QueryUnread(ctx context.Context, sender string) ([]Message, error) {
	q := `SELECT id, box, address, body, date, read FROM messages WHERE box = ? AND read = 0`
	args := []any{string(BoxInbox)}
	if sender != "" {
		q += ` AND address = ?`
		args = append(args, sender)
	}
	q += ` ORDER BY date ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			id   int64
			box  string
			m    Message
			ms   int64
			read int
		)
		if err := rows.Scan(&id, &box, &m.Address, &m.Body, &ms, &read); err != nil {
			return nil, err
		}
		m.ID = strconv.FormatInt(id, 10)
		m.Box = Box(box)
		m.Date = time.UnixMilli(ms)
		m.Read = read != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) MarkRead(ctx context.Context, sender string) (int, error) {
	if strings.TrimSpace(sender) == "" {
		return 0, ErrEmptyAddress
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read = 1 WHERE box = ? AND read = 0 AND address = ?`,
		string(BoxInbox), sender,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		announce(s.bus, Change{Op: "read", Box: BoxInbox, Address: sender, Rows: int(n)})
	}
	return int(n), nil
}

func (s *sqliteStore) InsertInbound(ctx context.Context, sender, body string, at time.Time) (Message, error) {
	if at.IsZero() {
		at = time.Now()
	}
	return s.insert(ctx, BoxInbox, sender, body, at)
}

func (s *sqliteStore) InsertSent(ctx context.Context, recipient, body string) (Message, error) {
	return s.insert(ctx, BoxSent, recipient, body, time.Now())
}

func (s *sqliteStore) insert(ctx context.Context, box Box, addr, body string, at time.Time) (Message, error) {
	if strings.TrimSpace(addr) == "" {
		return Message{}, ErrEmptyAddress
	}
	read := box == BoxSent
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(box, address, body, date, read) VALUES(?,?,?,?,?)`,
		string(box), addr, body, at.UnixMilli(), boolInt(read),
	)
	if err != nil {
		return Message{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, err
	}
	announce(s.bus, Change{Op: "insert", Box: box, Address: addr, Rows: 1})
	return Message{
		ID:      strconv.FormatInt(id, 10),
		Box:     box,
		Address: addr,
		Body:    body,
		Date:    time.UnixMilli(at.UnixMilli()),
		Read:    read,
	}, nil
}

func (s *sqliteStore) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return s.bus.Subscribe(buffer)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
