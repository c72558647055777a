package models

import (
	"errors"
	"strings"
	"time"
)

// AddressPrefix is the scheme every tracked address must carry.
const AddressPrefix = "nexa:"

// ErrInvalidAddress is returned before any I/O when an address fails validation.
var ErrInvalidAddress = errors.New("invalid address")

// Wallet holds the persisted record for a single tracked address.
type Wallet struct {
	Address     string    `json:"address"`
	Balance     int64     `json:"balance"` // minor units
	Name        string    `json:"customName"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// ConnectionState is the process-wide status of the live update channel.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateFailed       ConnectionState = "failed"
)

func (s ConnectionState) String() string { return string(s) }

// Live reports whether balances are currently being pushed over the channel.
func (s ConnectionState) Live() bool { return s == StateConnected }

// EntryState is the lifecycle of a per-address coalescer entry.
type EntryState int

const (
	EntryIdle EntryState = iota
	EntryPending
	EntryReconciling
)

func (s EntryState) String() string {
	switch s {
	case EntryPending:
		return "pending"
	case EntryReconciling:
		return "reconciling"
	default:
		return "idle"
	}
}

// BalanceUpdate is emitted after a confirmed balance fetch.
type BalanceUpdate struct {
	Address  string    `json:"address"`
	Balance  int64     `json:"balance"`
	Previous int64     `json:"previous"`
	Changed  bool      `json:"changed"`
	At       time.Time `json:"at"`
}

// PaymentEvent is reported by the payment monitor when an address receives funds.
type PaymentEvent struct {
	Address  string    `json:"address"`
	Received int64     `json:"received"`
	Balance  int64     `json:"balance"`
	At       time.Time `json:"at"`
}

// ValidAddress reports whether s looks like a Nexa address.
func ValidAddress(s string) bool {
	if !strings.HasPrefix(s, AddressPrefix) {
		return false
	}
	payload := s[len(AddressPrefix):]
	if payload == "" {
		return false
	}
	for _, r := range payload {
		if (r < '0' || r > '9') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// DefaultWalletName derives a display name from the last four characters of addr.
func DefaultWalletName(addr string) string {
	if len(addr) <= 4 {
		return "WALLET " + addr
	}
	return "WALLET " + addr[len(addr)-4:]
}

// EndpointResult holds the probe result for one endpoint in test mode.
type EndpointResult struct {
	URL     string `json:"url"`
	Status  string `json:"status"` // "ok" or "error"
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// WalletResult holds the balance probe result for one tracked wallet.
type WalletResult struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Valid   bool   `json:"valid"`
	Balance *int64 `json:"balance,omitempty"`
	Updated bool   `json:"updated,omitempty"`
	Error   string `json:"error,omitempty"`
}

// TestReport holds the results of the configuration test.
type TestReport struct {
	ConfigPath      string         `json:"config_path"`
	ValidStructure  bool           `json:"valid_structure"`
	StructureErrors []string       `json:"structure_errors,omitempty"`
	WalletCount     int            `json:"wallet_count"`
	Node            EndpointResult `json:"node"`
	BalanceAPI      EndpointResult `json:"balance_api"`
	Wallets         []WalletResult `json:"wallets,omitempty"`
	ConfigUpdated   bool           `json:"config_updated"`
	SaveError       string         `json:"save_error,omitempty"`
	DryRun          bool           `json:"dry_run"`
}
