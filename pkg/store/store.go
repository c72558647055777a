// Package store persists the tracked wallet list. It is the source of truth
// for which addresses are tracked.
package store

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"nexaview/pkg/logging"
	"nexaview/pkg/models"
)

// StorageKey is the fixed key the wallet list is written under.
const StorageKey = "nexaView_wallets"

// Store maps address to wallet record. Every mutating call rewrites the whole
// list, so storage is always a complete snapshot.
type Store struct {
	kv     KV
	logger *zap.Logger
	now    func() time.Time
	mu     sync.Mutex
}

func New(kv KV, logger *zap.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logging.OrNop(logger),
		now:    time.Now,
	}
}

// load reads the persisted list. Storage or decode errors degrade to an
// empty list.
func (s *Store) load() []models.Wallet {
	data, err := s.kv.Get(StorageKey)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error("failed to read wallet store", zap.Error(err))
		}
		return []models.Wallet{}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Error("wallet store is corrupt, starting empty", zap.Error(err))
		return []models.Wallet{}
	}

	wallets := make([]models.Wallet, 0, len(raw))
	for _, r := range raw {
		var w models.Wallet
		if err := json.Unmarshal(r, &w); err != nil || strings.TrimSpace(w.Address) == "" {
			s.logger.Warn("skipping malformed wallet record", zap.ByteString("record", r))
			continue
		}
		if strings.TrimSpace(w.Name) == "" {
			w.Name = models.DefaultWalletName(w.Address)
		}
		wallets = append(wallets, w)
	}
	return wallets
}

func (s *Store) save(wallets []models.Wallet) error {
	data, err := json.Marshal(wallets)
	if err != nil {
		return err
	}
	if err := s.kv.Set(StorageKey, data); err != nil {
		s.logger.Error("failed to write wallet store", zap.Error(err))
		return err
	}
	return nil
}

func indexOf(wallets []models.Wallet, address string) int {
	for i, w := range wallets {
		if w.Address == address {
			return i
		}
	}
	return -1
}

// All returns every tracked wallet, most recently added first.
func (s *Store) All() []models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Addresses returns the tracked address set in store order.
func (s *Store) Addresses() []string {
	wallets := s.All()
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		out = append(out, w.Address)
	}
	return out
}

func (s *Store) Get(address string) (models.Wallet, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallets := s.load()
	if i := indexOf(wallets, address); i >= 0 {
		return wallets[i], true
	}
	return models.Wallet{}, false
}

// Upsert inserts or replaces the record for address. An empty name keeps the
// previous name, or the default name for a new record.
func (s *Store) Upsert(address string, balance int64, name string) (models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallets := s.load()
	i := indexOf(wallets, address)

	name = strings.TrimSpace(name)
	if name == "" && i >= 0 {
		name = wallets[i].Name
	}
	if name == "" {
		name = models.DefaultWalletName(address)
	}

	w := models.Wallet{
		Address:     address,
		Balance:     balance,
		Name:        name,
		LastUpdated: s.now(),
	}
	if i >= 0 {
		wallets[i] = w
	} else {
		wallets = append([]models.Wallet{w}, wallets...)
	}
	return w, s.save(wallets)
}

// Rename sets the display name. An empty name restores the default.
func (s *Store) Rename(address, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallets := s.load()
	i := indexOf(wallets, address)
	if i < 0 {
		return false, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = models.DefaultWalletName(address)
	}
	wallets[i].Name = name
	return true, s.save(wallets)
}

// Delete removes address and returns the remaining wallets.
func (s *Store) Delete(address string) ([]models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallets := s.load()
	filtered := wallets[:0]
	for _, w := range wallets {
		if w.Address != address {
			filtered = append(filtered, w)
		}
	}
	return filtered, s.save(filtered)
}

// UpdateBalance stores a confirmed balance and stamps LastUpdated. It reports
// false when the address is not tracked.
func (s *Store) UpdateBalance(address string, balance int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wallets := s.load()
	i := indexOf(wallets, address)
	if i < 0 {
		return false, nil
	}
	wallets[i].Balance = balance
	wallets[i].LastUpdated = s.now()
	return true, s.save(wallets)
}
