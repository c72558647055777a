package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexaview/pkg/models"
)

const (
	addrA = "nexa:nqtsq5g57ryq398vhaqwlr6tpa2ekjlghus8z5yv6emmj3ux"
	addrB = "nexa:nqtsq5g5abcdq398vhaqwlr6tpa2ekjlghus8z5yv6emm1234"
)

type failingKV struct{}

func (failingKV) Get(string) ([]byte, error) { return nil, errors.New("disk on fire") }
func (failingKV) Set(string, []byte) error   { return errors.New("disk on fire") }

func newTestStore(t *testing.T) (*Store, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	s := New(kv, nil)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	return s, kv
}

func TestUpsertInsertsAtFront(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Upsert(addrA, 1000, "")
	require.NoError(t, err)
	_, err = s.Upsert(addrB, 2000, "Savings")
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, addrB, all[0].Address)
	assert.Equal(t, "Savings", all[0].Name)
	assert.Equal(t, addrA, all[1].Address)
	assert.Equal(t, models.DefaultWalletName(addrA), all[1].Name)
}

func TestUpsertKeepsPreviousName(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Upsert(addrA, 1000, "Cold")
	require.NoError(t, err)
	w, err := s.Upsert(addrA, 2500, "")
	require.NoError(t, err)

	assert.Equal(t, "Cold", w.Name)
	assert.Equal(t, int64(2500), w.Balance)
	assert.Len(t, s.All(), 1)
}

func TestRename(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Upsert(addrA, 0, "Old")
	require.NoError(t, err)

	ok, err := s.Rename(addrA, "New")
	require.NoError(t, err)
	assert.True(t, ok)
	w, _ := s.Get(addrA)
	assert.Equal(t, "New", w.Name)

	ok, err = s.Rename(addrA, "   ")
	require.NoError(t, err)
	assert.True(t, ok)
	w, _ = s.Get(addrA)
	assert.Equal(t, models.DefaultWalletName(addrA), w.Name)

	ok, err = s.Rename(addrB, "Ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Upsert(addrA, 1, "")
	_, _ = s.Upsert(addrB, 2, "")

	remaining, err := s.Delete(addrA)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, addrB, remaining[0].Address)
	assert.Equal(t, []string{addrB}, s.Addresses())

	_, found := s.Get(addrA)
	assert.False(t, found)
}

func TestUpdateBalance(t *testing.T) {
	s, _ := newTestStore(t)
	_, _ = s.Upsert(addrA, 1000, "")

	later := time.Date(2024, 5, 1, 13, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return later }

	ok, err := s.UpdateBalance(addrA, 1500)
	require.NoError(t, err)
	assert.True(t, ok)

	w, _ := s.Get(addrA)
	assert.Equal(t, int64(1500), w.Balance)
	assert.True(t, w.LastUpdated.Equal(later))

	ok, err = s.UpdateBalance(addrB, 99)
	require.NoError(t, err)
	assert.False(t, ok, "untracked address must not be created")
	assert.Len(t, s.All(), 1)
}

func TestLoadSkipsMalformedAndMigratesNames(t *testing.T) {
	s, kv := newTestStore(t)
	raw := `[
		{"address":"` + addrA + `","balance":10,"lastUpdated":"2024-01-01T00:00:00Z"},
		{"address":"","balance":5},
		"not an object",
		{"address":"` + addrB + `","balance":20,"customName":"Named"}
	]`
	require.NoError(t, kv.Set(StorageKey, []byte(raw)))

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, models.DefaultWalletName(addrA), all[0].Name)
	assert.Equal(t, "Named", all[1].Name)
}

func TestCorruptStorageIsEmpty(t *testing.T) {
	s, kv := newTestStore(t)
	require.NoError(t, kv.Set(StorageKey, []byte("{{{")))
	assert.Empty(t, s.All())
}

func TestStorageErrorsDegradeToEmpty(t *testing.T) {
	s := New(failingKV{}, nil)
	assert.Empty(t, s.All())
	assert.Empty(t, s.Addresses())

	_, err := s.Upsert(addrA, 1, "")
	assert.Error(t, err)
}

func TestFileKVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	kv, err := NewFileKV(dir)
	require.NoError(t, err)

	_, err = kv.Get(StorageKey)
	assert.ErrorIs(t, err, ErrNotFound)

	s := New(kv, nil)
	_, err = s.Upsert(addrA, 4200, "Main")
	require.NoError(t, err)

	reopened, err := NewFileKV(dir)
	require.NoError(t, err)
	w, ok := New(reopened, nil).Get(addrA)
	require.True(t, ok)
	assert.Equal(t, int64(4200), w.Balance)
	assert.Equal(t, "Main", w.Name)
}
