package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/learnlive/learnlive/internal/feed"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a document, user or session does not exist.
var ErrNotFound = errors.New("not found")

// TimeLayout is how the store writes server timestamps. It is fixed width so
// that lexical order matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a schemaless document store on SQLite. Documents are JSON objects
// grouped in collections; writes notify live subscriptions.
type Store struct {
	db     *sql.DB
	nodeID string
	bus    feed.Bus
	now    func() time.Time

	stopBus func()

	mu      sync.Mutex
	subs    map[int]*subscription
	nextSub int
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithChangeFeed publishes every write on bus and refreshes subscriptions on
// events from other nodes. A bus that implements io.Closer is closed with the store.
func WithChangeFeed(bus feed.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{
		db:     db,
		nodeID: uuid.NewString(),
		now:    time.Now,
		subs:   make(map[int]*subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if s.bus != nil {
		stop, err := s.bus.Listen(s.onEvent)
		if err != nil {
			return nil, fmt.Errorf("listen for changes: %w", err)
		}
		s.stopBus = stop
	}
	return s, nil
}

// Close stops all subscriptions and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	if s.stopBus != nil {
		s.stopBus()
	}
	if c, ok := s.bus.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close change feed", "error", err)
		}
	}
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS documents_collection ON documents(collection);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Document is a stored JSON object. Data always includes the "id" field.
type Document struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document into v.
func (d Document) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Fields is a set of top-level document fields to write.
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its clock at write time.
var ServerTimestamp any = serverTimestamp{}

// Filter matches documents whose top-level Field equals Value.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Where      []Filter
	OrderBy    string
	Desc       bool
	Limit      int
}

// Create writes a new document and returns its id.
func (s *Store) Create(ctx context.Context, collection string, fields Fields) (string, error) {
	now := s.timestamp()
	data := resolve(fields, now)
	id := uuid.NewString()
	data["id"] = id

	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode %s document: %w", collection, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, data, created_at) VALUES (?, ?, ?, ?)`,
		collection, id, string(raw), now,
	)
	if err != nil {
		return "", fmt.Errorf("insert %s document: %w", collection, err)
	}
	s.changed(ctx, collection)
	return id, nil
}

// Update merges the given top-level fields into an existing document.
// Nested objects are replaced, not merged.
func (s *Store) Update(ctx context.Context, collection, id string, fields Fields) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return err
	}

	var current map[string]any
	if err := json.Unmarshal([]byte(raw), &current); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	for k, v := range resolve(fields, s.timestamp()) {
		if k == "id" {
			continue
		}
		current[k] = v
	}
	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE documents SET data = ? WHERE collection = ? AND id = ?`, string(merged), collection, id,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.changed(ctx, collection)
	return nil
}

// Get returns one document.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return Document{}, err
	}
	return Document{ID: id, Data: json.RawMessage(raw)}, nil
}

// Query runs a one-shot query.
func (s *Store) Query(ctx context.Context, q Query) ([]Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = ?`
	args := []any{q.Collection}
	for _, f := range q.Where {
		query += ` AND json_extract(data, ?) = ?`
		args = append(args, "$."+f.Field, f.Value)
	}
	if q.OrderBy != "" {
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		query += ` ORDER BY json_extract(data, ?) ` + dir + `, rowid ` + dir
		args = append(args, "$."+q.OrderBy)
	} else {
		query += ` ORDER BY rowid`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()
	docs := []Document{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		docs = append(docs, Document{ID: id, Data: json.RawMessage(raw)})
	}
	return docs, rows.Err()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimeLayout)
}

// resolve copies fields, replacing ServerTimestamp sentinels (also inside nested objects).
func resolve(fields map[string]any, now string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = now
		case Fields:
			out[k] = resolve(val, now)
		case map[string]any:
			out[k] = resolve(val, now)
		default:
			out[k] = v
		}
	}
	return out
}

func (s *Store) changed(ctx context.Context, collection string) {
	s.notify(collection)
	if s.bus == nil {
		return
	}
	ev := feed.Event{Source: s.nodeID, Collection: collection, SentAt: time.Now().UTC()}
	if err := s.bus.Publish(ctx, ev); err != nil {
		slog.Warn("failed to publish change event", "collection", collection, "error", err)
	}
}

func (s *Store) onEvent(ev feed.Event) {
	if ev.Source == s.nodeID {
		return
	}
	s.notify(ev.Collection)
}
