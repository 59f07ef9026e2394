package outputs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/fileutil"
	"github.com/mrz1836/mwcbridge/internal/keychain"
)

const (
	// FileName is the name of the output store file inside a wallet's state directory.
	FileName = "outputs.json"

	// currentVersion is the current file format version.
	currentVersion = 1
)

var (
	// ErrCorruptStore indicates the output file is malformed.
	ErrCorruptStore = errors.New("output store is corrupted")

	// ErrUnsupportedVersion indicates a file written by a newer release.
	ErrUnsupportedVersion = errors.New("unsupported output store version")

	// ErrNotSpendable indicates an attempt to lock an output that is not unspent.
	ErrNotSpendable = errors.New("output is not spendable")
)

// File is the JSON file structure (versioned).
type File struct {
	Version   int                `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	NextIndex uint32             `json:"next_index"`
	TipHeight uint64             `json:"tip_height,omitempty"` // last tip seen by a scan or refresh
	Outputs   map[string]*Output `json:"outputs"`              // key: hex commitment
}

// Store manages the output set of a single wallet.
type Store struct {
	dir  string
	mu   sync.RWMutex
	data *File
}

// New creates an empty store rooted at dir. Nothing is read until Load.
func New(dir string) *Store {
	return &Store{
		dir:  dir,
		data: emptyFile(),
	}
}

// Open creates a store and loads it.
func Open(dir string) (*Store, error) {
	s := New(dir)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

func emptyFile() *File {
	return &File{
		Version:   currentVersion,
		UpdatedAt: time.Now(),
		Outputs:   make(map[string]*Output),
	}
}

// Path returns the full path to the output file.
func (s *Store) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Load reads the output file. A missing file yields an empty store.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.data = emptyFile()
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading output store: %w", err)
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("%w: %w", ErrCorruptStore, err)
	}
	if file.Version > currentVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, file.Version)
	}
	if file.Outputs == nil {
		file.Outputs = make(map[string]*Output)
	}

	s.mu.Lock()
	s.data = &file
	s.mu.Unlock()
	return nil
}

// Save writes the output file atomically.
func (s *Store) Save() error {
	if err := fileutil.EnsurePrivateDir(s.dir); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	s.mu.Lock()
	s.data.UpdatedAt = time.Now()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("marshaling output store: %w", err)
	}

	if err := fileutil.WriteAtomic(s.Path(), data, fileutil.PrivateFileMode); err != nil {
		return fmt.Errorf("writing output store: %w", err)
	}
	return nil
}

// Remove deletes the output file.
func (s *Store) Remove() error {
	return fileutil.RemoveIfExists(s.Path())
}

// Put inserts or replaces an output.
func (s *Store) Put(o Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(o)
}

func (s *Store) putLocked(o Output) {
	now := time.Now()
	if prev, ok := s.data.Outputs[o.Key()]; ok && !prev.FirstSeen.IsZero() {
		o.FirstSeen = prev.FirstSeen
	} else if o.FirstSeen.IsZero() {
		o.FirstSeen = now
	}
	o.LastUpdated = now
	s.data.Outputs[o.Key()] = &o
}

// Get returns the output with the given commitment.
func (s *Store) Get(commit keychain.Point) (Output, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data.Outputs[commit.String()]
	if !ok {
		return Output{}, false
	}
	return *o, true
}

// All returns every output ordered by height, then key index.
// Unconfirmed outputs (height 0) sort last.
func (s *Store) All() []Output {
	s.mu.RLock()
	defer s.mu.RUnlock()

	outs := make([]Output, 0, len(s.data.Outputs))
	for _, o := range s.data.Outputs {
		outs = append(outs, *o)
	}
	slices.SortFunc(outs, compareAge)
	return outs
}

// BySlate returns the outputs created or locked by a slate.
func (s *Store) BySlate(id uuid.UUID) []Output {
	var outs []Output
	for _, o := range s.All() {
		if o.SlateID == id {
			outs = append(outs, o)
		}
	}
	return outs
}

// Len returns the number of tracked outputs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data.Outputs)
}

// NextIndex returns the next unused key index.
func (s *Store) NextIndex() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.NextIndex
}

// TipHeight returns the chain tip recorded by the last scan or refresh, or
// zero when the wallet never synced.
func (s *Store) TipHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.TipHeight
}

// SetTipHeight records the chain tip seen while syncing.
func (s *Store) SetTipHeight(h uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.TipHeight = h
}

// ReserveIndex returns the next unused key index and advances past it.
func (s *Store) ReserveIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.data.NextIndex
	s.data.NextIndex++
	return idx
}

// AdvanceIndex moves the next key index past used, never backwards.
func (s *Store) AdvanceIndex(used uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if used >= s.data.NextIndex {
		s.data.NextIndex = used + 1
	}
}

// Lock reserves the given unspent outputs for a slate. Either every output is
// locked or none is.
func (s *Store) Lock(commits []keychain.Point, slateID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range commits {
		o, ok := s.data.Outputs[c.String()]
		if !ok || o.Status != StatusUnspent {
			return fmt.Errorf("%w: %s", ErrNotSpendable, c)
		}
	}

	now := time.Now()
	for _, c := range commits {
		o := s.data.Outputs[c.String()]
		o.Status = StatusLocked
		o.SlateID = slateID
		o.LastUpdated = now
	}
	return nil
}

// Release undoes every effect of a slate that did not complete: its locked
// inputs return to unspent and the unconfirmed outputs it created are
// dropped. It returns the number of outputs touched.
func (s *Store) Release(slateID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	now := time.Now()
	for key, o := range s.data.Outputs {
		if o.SlateID != slateID {
			continue
		}
		switch o.Status {
		case StatusLocked:
			o.Status = StatusUnspent
			o.SlateID = uuid.Nil
			o.LastUpdated = now
			n++
		case StatusUnconfirmed:
			delete(s.data.Outputs, key)
			n++
		case StatusUnspent, StatusSpent:
		}
	}
	return n
}

// Finalize marks the inputs locked by a slate as spent and flags the outputs
// it created as finalized.
func (s *Store) Finalize(slateID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, o := range s.data.Outputs {
		if o.SlateID != slateID {
			continue
		}
		switch o.Status {
		case StatusLocked:
			o.Status = StatusSpent
			o.LastUpdated = now
		case StatusUnconfirmed:
			o.Finalized = true
			o.LastUpdated = now
		case StatusUnspent, StatusSpent:
		}
	}
}

// Snapshot returns a deep copy of the store state.
func (s *Store) Snapshot() *File {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneFile(s.data)
}

// Restore replaces the in-memory state with a snapshot taken earlier.
func (s *Store) Restore(f *File) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = cloneFile(f)
}

func cloneFile(f *File) *File {
	c := &File{
		Version:   f.Version,
		UpdatedAt: f.UpdatedAt,
		NextIndex: f.NextIndex,
		TipHeight: f.TipHeight,
		Outputs:   make(map[string]*Output, len(f.Outputs)),
	}
	for k, o := range f.Outputs {
		cp := *o
		c.Outputs[k] = &cp
	}
	return c
}

func compareAge(a, b Output) int {
	ha, hb := a.Height, b.Height
	if ha == 0 {
		ha = ^uint64(0)
	}
	if hb == 0 {
		hb = ^uint64(0)
	}
	switch {
	case ha < hb:
		return -1
	case ha > hb:
		return 1
	case a.KeyIndex < b.KeyIndex:
		return -1
	case a.KeyIndex > b.KeyIndex:
		return 1
	default:
		return 0
	}
}
