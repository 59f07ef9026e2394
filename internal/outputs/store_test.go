package outputs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrz1836/mwcbridge/internal/keychain"
)

// testCommit returns a distinct fake commitment for n. Store operations never
// decode the point, so any 33 bytes do.
func testCommit(n byte) keychain.Point {
	var p keychain.Point
	p[0] = 0x02
	p[32] = n
	return p
}

func testOutput(n byte, value, height uint64) Output {
	return Output{
		Commit:   testCommit(n),
		KeyIndex: uint32(n),
		Value:    value,
		Height:   height,
		Status:   StatusUnspent,
	}
}

func createTestStore(t *testing.T) *Store {
	t.Helper()
	store := New(t.TempDir())
	require.NotNil(t, store)
	return store
}

func TestNew(t *testing.T) {
	t.Parallel()
	store := New("/tmp/test-wallet")

	assert.Equal(t, filepath.Join("/tmp/test-wallet", FileName), store.Path())
	assert.Equal(t, currentVersion, store.data.Version)
	assert.Zero(t, store.Len())
	assert.Zero(t, store.NextIndex())
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	require.NoError(t, store.Load())
	assert.Zero(t, store.Len())
}

func TestLoadSave(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	store := New(dir)
	store.Put(testOutput(1, 1000, 5))
	store.Put(testOutput(2, 2000, 6))
	store.AdvanceIndex(2)
	require.NoError(t, store.Save())

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, uint32(3), loaded.NextIndex())

	o, ok := loaded.Get(testCommit(2))
	require.True(t, ok)
	assert.Equal(t, uint64(2000), o.Value)
	assert.Equal(t, StatusUnspent, o.Status)
	assert.False(t, o.FirstSeen.IsZero())
}

func TestLoadCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o600))

	_, err := Open(dir)
	require.ErrorIs(t, err, ErrCorruptStore)
}

func TestLoadNewerVersion(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(`{"version": 99}`), 0o600))

	_, err := Open(dir)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestRemove(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	store.Put(testOutput(1, 10, 1))
	require.NoError(t, store.Save())

	require.NoError(t, store.Remove())
	_, err := os.Stat(store.Path())
	require.ErrorIs(t, err, os.ErrNotExist)

	// removing twice is fine
	require.NoError(t, store.Remove())
}

func TestAllOrdering(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	store.Put(testOutput(3, 1, 20))
	store.Put(testOutput(1, 1, 20))
	store.Put(testOutput(2, 1, 10))

	pending := testOutput(4, 1, 0)
	pending.Status = StatusUnconfirmed
	store.Put(pending)

	all := store.All()
	require.Len(t, all, 4)
	assert.Equal(t, []uint32{2, 1, 3, 4}, []uint32{all[0].KeyIndex, all[1].KeyIndex, all[2].KeyIndex, all[3].KeyIndex})
}

func TestReserveAndAdvanceIndex(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)

	assert.Equal(t, uint32(0), store.ReserveIndex())
	assert.Equal(t, uint32(1), store.ReserveIndex())

	store.AdvanceIndex(0)
	assert.Equal(t, uint32(2), store.NextIndex(), "never moves backwards")

	store.AdvanceIndex(9)
	assert.Equal(t, uint32(10), store.NextIndex())
}

func TestLockIsAllOrNothing(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	store.Put(testOutput(1, 100, 1))
	spent := testOutput(2, 100, 1)
	spent.Status = StatusSpent
	store.Put(spent)

	id := uuid.New()
	err := store.Lock([]keychain.Point{testCommit(1), testCommit(2)}, id)
	require.ErrorIs(t, err, ErrNotSpendable)

	o, _ := store.Get(testCommit(1))
	assert.Equal(t, StatusUnspent, o.Status)

	require.NoError(t, store.Lock([]keychain.Point{testCommit(1)}, id))
	o, _ = store.Get(testCommit(1))
	assert.Equal(t, StatusLocked, o.Status)
	assert.Equal(t, id, o.SlateID)

	// a locked output cannot be locked again
	require.ErrorIs(t, store.Lock([]keychain.Point{testCommit(1)}, uuid.New()), ErrNotSpendable)
}

func TestReleaseAndFinalize(t *testing.T) {
	t.Parallel()
	id := uuid.New()

	setup := func(t *testing.T) *Store {
		t.Helper()
		store := createTestStore(t)
		store.Put(testOutput(1, 1000, 1))
		require.NoError(t, store.Lock([]keychain.Point{testCommit(1)}, id))
		change := Output{Commit: testCommit(2), KeyIndex: 2, Value: 492, Status: StatusUnconfirmed, SlateID: id}
		store.Put(change)
		return store
	}

	t.Run("release", func(t *testing.T) {
		t.Parallel()
		store := setup(t)
		assert.Equal(t, 2, store.Release(id))

		in, _ := store.Get(testCommit(1))
		assert.Equal(t, StatusUnspent, in.Status)
		assert.Equal(t, uuid.Nil, in.SlateID)
		_, ok := store.Get(testCommit(2))
		assert.False(t, ok)

		assert.Zero(t, store.Release(id))
	})

	t.Run("finalize", func(t *testing.T) {
		t.Parallel()
		store := setup(t)
		store.Finalize(id)

		in, _ := store.Get(testCommit(1))
		assert.Equal(t, StatusSpent, in.Status)
		change, _ := store.Get(testCommit(2))
		assert.Equal(t, StatusUnconfirmed, change.Status)
		assert.True(t, change.Finalized)
		assert.Len(t, store.BySlate(id), 2)
	})
}

func TestSnapshotRestore(t *testing.T) {
	t.Parallel()
	store := createTestStore(t)
	store.Put(testOutput(1, 1000, 1))
	snap := store.Snapshot()

	require.NoError(t, store.Lock([]keychain.Point{testCommit(1)}, uuid.New()))
	store.ReserveIndex()

	store.Restore(snap)
	o, _ := store.Get(testCommit(1))
	assert.Equal(t, StatusUnspent, o.Status)
	assert.Zero(t, store.NextIndex())

	// the snapshot is a copy, not a view
	require.NoError(t, store.Lock([]keychain.Point{testCommit(1)}, uuid.New()))
	assert.Equal(t, StatusUnspent, snap.Outputs[testCommit(1).String()].Status)
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	tip := uint64(100)

	coinbase := testOutput(1, 60, 95)
	coinbase.Coinbase = true
	young := testOutput(2, 7, 99)
	old := testOutput(3, 100, 10)
	locked := testOutput(4, 50, 10)
	locked.Status = StatusLocked
	pending := Output{Commit: testCommit(5), Value: 20, Status: StatusUnconfirmed}
	final := Output{Commit: testCommit(6), Value: 30, Status: StatusUnconfirmed, Finalized: true}
	spent := testOutput(7, 1000, 10)
	spent.Status = StatusSpent

	s := Summarize([]Output{coinbase, young, old, locked, pending, final, spent}, tip, 3, 1440)
	assert.Equal(t, Summary{
		Total:                100 + 7 + 30 + 60,
		Spendable:            100,
		AwaitingConfirmation: 7 + 30,
		AwaitingFinalization: 20,
		Immature:             60,
		Locked:               50,
	}, s)

	assert.Equal(t, Summary{}, Summarize(nil, tip, 1, 1440))
}

func TestConfirmations(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		height uint64
		tip    uint64
		want   uint64
	}{
		{"unconfirmed", 0, 100, 0},
		{"tip block", 100, 100, 1},
		{"deep", 1, 100, 100},
		{"ahead of tip", 101, 100, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			o := Output{Height: tc.height}
			assert.Equal(t, tc.want, o.Confirmations(tc.tip))
		})
	}
}
