package outputs

import (
	"time"

	"github.com/google/uuid"

	"github.com/mrz1836/mwcbridge/internal/keychain"
)

// ScanResult reports what a chain scan changed.
type ScanResult struct {
	// Found is the number of wallet outputs the chain reported.
	Found int `json:"found"`

	// New is the number of outputs the store did not know about.
	New int `json:"new"`

	// Confirmed is the number of unconfirmed outputs that are now on chain.
	Confirmed int `json:"confirmed"`

	// NowSpent is the number of unspent outputs the chain no longer reports.
	NowSpent int `json:"now_spent"`

	// NextIndex is the next key index after the scan.
	NextIndex uint32 `json:"next_index"`
}

// Reconcile merges the wallet outputs the chain reports for heights
// [start, end) into the store. Unspent outputs inside the range that the chain
// did not report become spent, and the key index moves past every recovered
// index. Running it twice with the same input leaves the same output set.
func (s *Store) Reconcile(start, end uint64, found []Output) ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := ScanResult{Found: len(found)}
	seen := make(map[string]struct{}, len(found))

	for _, f := range found {
		seen[f.Key()] = struct{}{}
		s.mergeLocked(f, &result)
	}

	now := time.Now()
	for key, o := range s.data.Outputs {
		if o.Status != StatusUnspent || o.Height < start || o.Height >= end {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		o.Status = StatusSpent
		o.LastUpdated = now
		result.NowSpent++
	}

	result.NextIndex = s.data.NextIndex
	return result
}

// Tracked returns the commitments the chain can still confirm or spend:
// unconfirmed, unspent and locked outputs.
func (s *Store) Tracked() []keychain.Point {
	var commits []keychain.Point
	for _, o := range s.All() {
		if o.Status != StatusSpent {
			commits = append(commits, o.Commit)
		}
	}
	return commits
}

// Refresh applies a node lookup of queried commitments. Reported outputs are
// confirmed; queried unspent outputs the node did not report become spent.
// Unconfirmed outputs that are still missing are left alone.
func (s *Store) Refresh(queried []keychain.Point, found []Output) ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := ScanResult{Found: len(found)}
	seen := make(map[string]struct{}, len(found))
	for _, f := range found {
		seen[f.Key()] = struct{}{}
		s.mergeLocked(f, &result)
	}

	now := time.Now()
	for _, c := range queried {
		key := c.String()
		if _, ok := seen[key]; ok {
			continue
		}
		o, ok := s.data.Outputs[key]
		if !ok || o.Status != StatusUnspent {
			continue
		}
		o.Status = StatusSpent
		o.LastUpdated = now
		result.NowSpent++
	}

	result.NextIndex = s.data.NextIndex
	return result
}

func (s *Store) mergeLocked(f Output, result *ScanResult) {
	now := time.Now()
	if f.KeyIndex >= s.data.NextIndex {
		s.data.NextIndex = f.KeyIndex + 1
	}

	o, ok := s.data.Outputs[f.Key()]
	if !ok {
		f.Status = StatusUnspent
		f.FirstSeen = now
		f.LastUpdated = now
		s.data.Outputs[f.Key()] = &f
		result.New++
		return
	}

	o.Height = f.Height
	o.Coinbase = f.Coinbase
	o.LastUpdated = now
	switch o.Status {
	case StatusUnconfirmed:
		o.Status = StatusUnspent
		o.SlateID = uuid.Nil
		o.Finalized = false
		result.Confirmed++
	case StatusSpent:
		// Spent by one of our slates: the chain has not seen that spend yet.
		if o.SlateID == uuid.Nil {
			o.Status = StatusUnspent
		}
	case StatusUnspent, StatusLocked:
	}
}
