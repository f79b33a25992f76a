// Package storage is the durable side of the record stores. A Gateway reads
// and writes whole named collections; Table keeps one collection in memory
// for the session and writes it back in full after every mutation.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/healthcenter/hms/internal/platform/apperr"
)

// Collection names a persisted record collection.
type Collection string

const (
	Users        Collection = "users"
	Patients     Collection = "patients"
	Appointments Collection = "appointments"
)

// All lists the collections a session initializes.
var All = []Collection{Users, Patients, Appointments}

// ErrNotExist is returned by Gateway.Read when the collection has never been
// written.
var ErrNotExist = errors.New("collection does not exist")

// Gateway moves serialized collections to and from durable storage.
type Gateway interface {
	Read(ctx context.Context, c Collection) ([]byte, error)
	Write(ctx context.Context, c Collection, data []byte) error
	Ensure(ctx context.Context, c Collection) error
}

// WriteObserver is notified after every collection write.
type WriteObserver interface {
	ObserveWrite(collection string, err error)
}

// EnsureAll initializes every collection in All.
func EnsureAll(ctx context.Context, gw Gateway) error {
	for _, c := range All {
		if err := gw.Ensure(ctx, c); err != nil {
			return apperr.Storage(string(c), err)
		}
	}
	return nil
}

// Load reads a collection. A missing collection, or one that is not a JSON
// list, yields an empty slice; the problem is logged, never returned. Records
// are decoded one by one, so a bad element costs only itself.
func Load[T any](ctx context.Context, gw Gateway, c Collection, logger zerolog.Logger) []*T {
	rows, _ := load[T](ctx, gw, c, logger)
	return rows
}

// load also returns the elements that could not be decoded as a T, so a
// Table can write them back instead of erasing them.
func load[T any](ctx context.Context, gw Gateway, c Collection, logger zerolog.Logger) ([]*T, []json.RawMessage) {
	data, err := gw.Read(ctx, c)
	if err != nil {
		if !errors.Is(err, ErrNotExist) {
			logger.Warn().Err(err).Str("collection", string(c)).Msg("collection unreadable, starting empty")
		}
		return []*T{}, nil
	}

	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		logger.Warn().Err(err).Str("collection", string(c)).Msg("collection malformed, starting empty")
		return []*T{}, nil
	}

	rows := make([]*T, 0, len(elems))
	var stray []json.RawMessage
	for i, raw := range elems {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			continue
		}
		r := new(T)
		if err := json.Unmarshal(raw, r); err != nil {
			logger.Warn().Err(err).Str("collection", string(c)).Int("index", i).Msg("record malformed, keeping it as is")
			stray = append(stray, raw)
			continue
		}
		rows = append(rows, r)
	}
	return rows, stray
}

// Save serializes rows with four-space indentation and overwrites the
// collection. Failures are wrapped in apperr.ErrStorage.
func Save[T any](ctx context.Context, gw Gateway, c Collection, rows []*T) error {
	return save(ctx, gw, c, rows, nil)
}

func save[T any](ctx context.Context, gw Gateway, c Collection, rows []*T, stray []json.RawMessage) error {
	elems := make([]interface{}, 0, len(rows)+len(stray))
	for _, r := range rows {
		elems = append(elems, r)
	}
	for _, raw := range stray {
		elems = append(elems, raw)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(elems); err != nil {
		return apperr.Storage(string(c), err)
	}

	if err := gw.Write(ctx, c, bytes.TrimRight(buf.Bytes(), "\n")); err != nil {
		return apperr.Storage(string(c), err)
	}
	return nil
}

// Table is one collection resident in memory. It is not safe for concurrent
// use; callers serialize access.
type Table[T any] struct {
	gw       Gateway
	name     Collection
	rows     []*T
	stray    []json.RawMessage
	logger   zerolog.Logger
	observer WriteObserver
}

// OpenTable ensures the collection exists and loads it.
func OpenTable[T any](ctx context.Context, gw Gateway, c Collection, logger zerolog.Logger) (*Table[T], error) {
	if err := gw.Ensure(ctx, c); err != nil {
		return nil, apperr.Storage(string(c), err)
	}
	rows, stray := load[T](ctx, gw, c, logger)
	return &Table[T]{
		gw:     gw,
		name:   c,
		rows:   rows,
		stray:  stray,
		logger: logger,
	}, nil
}

// Observe registers o to be told about every Flush.
func (t *Table[T]) Observe(o WriteObserver) {
	t.observer = o
}

// Name returns the collection the table persists to.
func (t *Table[T]) Name() Collection {
	return t.name
}

// Rows returns the resident records in collection order. The slice must not
// be appended to; use Append.
func (t *Table[T]) Rows() []*T {
	return t.rows
}

// Len returns the number of resident records.
func (t *Table[T]) Len() int {
	return len(t.rows)
}

// Find returns the first record matching pred.
func (t *Table[T]) Find(pred func(*T) bool) (*T, bool) {
	for _, r := range t.rows {
		if pred(r) {
			return r, true
		}
	}
	return nil, false
}

// Append adds r at the end of the collection.
func (t *Table[T]) Append(r *T) {
	t.rows = append(t.rows, r)
}

// Retain keeps only the records for which keep returns true and reports how
// many were removed.
func (t *Table[T]) Retain(keep func(*T) bool) int {
	kept := t.rows[:0]
	for _, r := range t.rows {
		if keep(r) {
			kept = append(kept, r)
		}
	}
	removed := len(t.rows) - len(kept)
	for i := len(kept); i < len(t.rows); i++ {
		t.rows[i] = nil
	}
	t.rows = kept
	return removed
}

// Reload replaces the resident records with the durable copy.
func (t *Table[T]) Reload(ctx context.Context) {
	t.rows, t.stray = load[T](ctx, t.gw, t.name, t.logger)
}

// Flush writes the whole collection back, followed by any elements that did
// not decode. Memory is not rolled back when the write fails.
func (t *Table[T]) Flush(ctx context.Context) error {
	err := save(ctx, t.gw, t.name, t.rows, t.stray)
	if t.observer != nil {
		t.observer.ObserveWrite(string(t.name), err)
	}
	if err != nil {
		t.logger.Error().Err(err).Str("collection", string(t.name)).Msg("collection write failed")
	}
	return err
}
