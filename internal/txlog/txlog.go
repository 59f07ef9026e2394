// Package txlog is the transaction log of a wallet session: the current
// record of every slate the wallet took part in, plus an append-only event
// history, stored in a bbolt database.
package txlog

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/mrz1836/mwcbridge/internal/slate"
)

// FileName is the name of the log database inside a wallet's state directory.
const FileName = "txlog.db"

var (
	bucketSlates = []byte("slates")
	bucketEvents = []byte("events")
)

var (
	// ErrNotFound is returned for an unknown slate id.
	ErrNotFound = errors.New("transaction not found")

	// ErrExists is returned when creating a record for a slate id already logged.
	ErrExists = errors.New("transaction already logged")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transaction log is closed")
)

// Direction tells which side of the protocol the wallet played.
type Direction string

// Directions.
const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// Record is the current view of one transaction.
type Record struct {
	Seq        uint64       `json:"seq"`
	SlateID    uuid.UUID    `json:"slate_id"`
	Direction  Direction    `json:"direction"`
	State      slate.State  `json:"state"`
	Amount     uint64       `json:"amount"`
	Fee        uint64       `json:"fee"`
	Message    string       `json:"message,omitempty"`
	Address    string       `json:"address,omitempty"`
	Slate      *slate.Slate `json:"slate"`
	InputKeys  []uint32     `json:"input_keys,omitempty"`
	OutputKeys []uint32     `json:"output_keys,omitempty"`
	Posted     bool         `json:"posted"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Event is one entry of the append-only history.
type Event struct {
	Seq     uint64      `json:"seq"`
	SlateID uuid.UUID   `json:"slate_id,omitzero"`
	Kind    string      `json:"kind"`
	State   slate.State `json:"state,omitempty"`
	Detail  string      `json:"detail,omitempty"`
	At      time.Time   `json:"at"`
}

// Log wraps a bbolt database holding the transaction log.
type Log struct {
	db   *bbolt.DB
	path string
}

// Open opens or creates the log database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("txlog: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("txlog: open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketSlates, bucketEvents} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("txlog: create buckets: %w", err)
	}

	return &Log{db: db, path: path}, nil
}

// Path returns the database file path.
func (l *Log) Path() string { return l.path }

// Close closes the underlying database.
func (l *Log) Close() error { return l.db.Close() }

func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

// Create stores a new record and appends a "created" event. The record's Seq
// and timestamps are assigned here.
func (l *Log) Create(rec Record) (Record, error) {
	err := l.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSlates)
		if b.Get(rec.SlateID[:]) != nil {
			return fmt.Errorf("%w: %s", ErrExists, rec.SlateID)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		rec.Seq = seq
		rec.CreatedAt = now
		rec.UpdatedAt = now

		if err := putRecord(b, &rec); err != nil {
			return err
		}
		return appendEvent(tx, Event{SlateID: rec.SlateID, Kind: "created", State: rec.State, Detail: string(rec.Direction), At: now})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Get returns the record for id.
func (l *Log) Get(id uuid.UUID) (Record, error) {
	var rec Record
	err := l.view(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSlates).Get(id[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// Has reports whether a record exists for id.
func (l *Log) Has(id uuid.UUID) (bool, error) {
	_, err := l.Get(id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Update applies fn to the record for id inside one bbolt transaction and
// appends an event of the given kind. If fn fails nothing is written.
func (l *Log) Update(id uuid.UUID, kind string, fn func(*Record) error) (Record, error) {
	var rec Record
	err := l.update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSlates)
		data := b.Get(id[:])
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("decode record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.UpdatedAt = time.Now().UTC()
		if err := putRecord(b, &rec); err != nil {
			return err
		}
		return appendEvent(tx, Event{SlateID: id, Kind: kind, State: rec.State, At: rec.UpdatedAt})
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// List returns every record ordered by creation.
func (l *Log) List() ([]Record, error) {
	var recs []Record
	err := l.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSlates).ForEach(func(_, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record: %w", err)
			}
			recs = append(recs, rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(recs, func(a, b Record) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		default:
			return 0
		}
	})
	return recs, nil
}

// Append adds a standalone event, such as a scan, to the history.
func (l *Log) Append(ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return l.update(func(tx *bbolt.Tx) error {
		return appendEvent(tx, ev)
	})
}

// Events returns the history in append order.
func (l *Log) Events() ([]Event, error) {
	var events []Event
	err := l.view(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketEvents).ForEach(func(_, v []byte) error {
			var ev Event
			if err := json.Unmarshal(v, &ev); err != nil {
				return fmt.Errorf("decode event: %w", err)
			}
			events = append(events, ev)
			return nil
		})
	})
	return events, err
}

func (l *Log) view(fn func(*bbolt.Tx) error) error {
	err := l.db.View(fn)
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func (l *Log) update(fn func(*bbolt.Tx) error) error {
	err := l.db.Update(fn)
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return ErrClosed
	}
	return err
}

func putRecord(b *bbolt.Bucket, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	return b.Put(rec.SlateID[:], data)
}

func appendEvent(tx *bbolt.Tx, ev Event) error {
	b := tx.Bucket(bucketEvents)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	ev.Seq = seq
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return b.Put(seqKey(seq), data)
}
