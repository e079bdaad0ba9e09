// Package journal persists committed ledger events in a sqlite table. Each
// row is chained to its predecessor with a blake3 digest so the history can be
// audited after the fact.
package journal

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/sqlite"
	"lukechampine.com/blake3"

	"solbox/core/events"
	"solbox/core/types"
)

var (
	ErrPathRequired = errors.New("journal: path must be configured")
	ErrChainBroken  = errors.New("journal: digest chain broken")
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    prev_digest TEXT NOT NULL,
    digest TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// Entry is a single journal row.
type Entry struct {
	Seq        int64             `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	PrevDigest string            `json:"prevDigest"`
	Digest     string            `json:"digest"`
	RecordedAt int64             `json:"recordedAt"`
}

// Journal is an append-only event log. It satisfies events.Emitter.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
	nowFn  func() time.Time

	mu        sync.Mutex
	head      string
	listeners []func(Entry)
}

// Open initialises the journal at the given sqlite DSN.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	dsn := strings.TrimSpace(path)
	if dsn == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// In-memory databases are per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{db: db, logger: logger.With("component", "journal"), nowFn: time.Now}
	latest, ok, err := j.Latest(context.Background())
	if err != nil {
		db.Close()
		return nil, err
	}
	if ok {
		j.head = latest.Digest
	}
	return j, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// OnAppend registers fn to receive every entry after it is stored.
func (j *Journal) OnAppend(fn func(Entry)) {
	if j == nil || fn == nil {
		return
	}
	j.mu.Lock()
	j.listeners = append(j.listeners, fn)
	j.mu.Unlock()
}

func digest(prev, kind string, attrs []byte) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write(attrs)
	return hex.EncodeToString(h.Sum(nil))
}

func encodeAttributes(attrs map[string]string) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]string{}
	}
	// encoding/json sorts map keys.
	return json.Marshal(attrs)
}

// Append stores evt and returns the resulting entry.
func (j *Journal) Append(ctx context.Context, evt *types.Event) (*Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if evt == nil || strings.TrimSpace(evt.Type) == "" {
		return nil, fmt.Errorf("journal: event type required")
	}
	attrs, err := encodeAttributes(evt.Attributes)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}

	j.mu.Lock()
	prev := j.head
	entry := Entry{
		Type:       evt.Type,
		Attributes: evt.Clone().Attributes,
		PrevDigest: prev,
		Digest:     digest(prev, evt.Type, attrs),
		RecordedAt: j.nowFn().UTC().Unix(),
	}
	res, err := j.db.ExecContext(ctx, `
        INSERT INTO events(type, attributes, prev_digest, digest, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, entry.Type, string(attrs), entry.PrevDigest, entry.Digest, entry.RecordedAt)
	if err != nil {
		j.mu.Unlock()
		return nil, fmt.Errorf("insert event: %w", err)
	}
	if entry.Seq, err = res.LastInsertId(); err != nil {
		j.mu.Unlock()
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	j.head = entry.Digest
	listeners := append([]func(Entry){}, j.listeners...)
	j.mu.Unlock()

	for _, fn := range listeners {
		fn(entry)
	}
	return &entry, nil
}

// Emit implements events.Emitter. Failures are logged and dropped so a
// journal outage never blocks the ledger.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	if _, err := j.Append(context.Background(), events.Render(evt)); err != nil {
		j.logger.Error("journal append failed", "type", evt.EventType(), "error", err)
	}
}

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var (
		entry Entry
		attrs string
	)
	if err := scan(&entry.Seq, &entry.Type, &attrs, &entry.PrevDigest, &entry.Digest, &entry.RecordedAt); err != nil {
		return entry, err
	}
	if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
		return entry, fmt.Errorf("decode attributes of %d: %w", entry.Seq, err)
	}
	return entry, nil
}

// List returns up to limit entries with a sequence greater than after.
func (j *Journal) List(ctx context.Context, after int64, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT seq, type, attributes, prev_digest, digest, recorded_at
        FROM events
        WHERE seq > ?
        ORDER BY seq ASC
        LIMIT ?
    `, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Latest returns the newest entry.
func (j *Journal) Latest(ctx context.Context) (*Entry, bool, error) {
	row := j.db.QueryRowContext(ctx, `
        SELECT seq, type, attributes, prev_digest, digest, recorded_at
        FROM events
        ORDER BY seq DESC
        LIMIT 1
    `)
	entry, err := scanEntry(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("query latest event: %w", err)
	}
	return &entry, true, nil
}

// Verify walks the full journal and recomputes every digest.
func (j *Journal) Verify(ctx context.Context) error {
	var (
		after int64
		prev  string
	)
	for {
		page, err := j.List(ctx, after, 500)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		for _, entry := range page {
			attrs, err := encodeAttributes(entry.Attributes)
			if err != nil {
				return err
			}
			if entry.PrevDigest != prev || entry.Digest != digest(prev, entry.Type, attrs) {
				return fmt.Errorf("%w at seq %d", ErrChainBroken, entry.Seq)
			}
			prev = entry.Digest
			after = entry.Seq
		}
	}
}
