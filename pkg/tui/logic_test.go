package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexaview/pkg/config"
	"nexaview/pkg/models"
	"nexaview/pkg/store"
	"nexaview/pkg/watcher"
)

const (
	addrA = "nexa:nqtsq5g57ryq398vhaqwlr6tpa2ekjlghus8z5yv6emmj3ux"
	addrB = "nexa:nqtsq5g5abcdq398vhaqwlr6tpa2ekjlghus8z5yv6emm1234"
)

type stubSource map[string]int64

func (s stubSource) FetchBalance(ctx context.Context, address string) (int64, bool) {
	bal, ok := s[address]
	return bal, ok
}

func newTestModel(t *testing.T, src stubSource) model {
	t.Helper()
	st := store.New(store.NewMemoryKV(), nil)
	w := watcher.NewWatcher(config.Default(), st, watcher.Options{
		DataSource: src,
		Clock:      new(mclock.Simulated),
	})
	t.Cleanup(w.Stop)
	return initialModel(w, config.Default())
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestTotalBalance(t *testing.T) {
	wallets := []models.Wallet{{Balance: 1000}, {Balance: 250}, {Balance: 0}}
	assert.Equal(t, int64(1250), totalBalance(wallets))
	assert.Equal(t, int64(0), totalBalance(nil))
}

func TestAppendHistoryCaps(t *testing.T) {
	var hist []float64
	for i := 0; i < historyLimit+10; i++ {
		hist = appendHistory(hist, float64(i))
	}
	assert.Len(t, hist, historyLimit)
	assert.Equal(t, float64(10), hist[0])
	assert.Equal(t, float64(historyLimit+9), hist[len(hist)-1])
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		state models.ConnectionState
		want  string
	}{
		{models.StateConnected, "● Live"},
		{models.StateConnecting, "◌ Connecting..."},
		{models.StateReconnecting, "◌ Reconnecting..."},
		{models.StateFailed, "✕ Manual refresh only"},
		{models.StateDisconnected, "○ Offline"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusLabel(tt.state), tt.state.String())
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"", 0, false},
		{"12", 1200, false},
		{"12.5", 1250, false},
		{"12.05", 1205, false},
		{".5", 50, false},
		{"1,000.25", 100025, false},
		{"1.234", 0, true},
		{"1.", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, errInvalidAmount, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestApplyWalletsKeepsSelection(t *testing.T) {
	m := model{history: make(map[string][]float64)}
	m.applyWallets([]models.Wallet{{Address: addrA, Balance: 100}, {Address: addrB, Balance: 200}})
	m.activeIdx = 1

	// A new wallet is inserted at the front; the cursor follows addrB.
	m.applyWallets([]models.Wallet{{Address: "nexa:new"}, {Address: addrA, Balance: 100}, {Address: addrB, Balance: 200}})
	assert.Equal(t, 2, m.activeIdx)

	m.applyWallets([]models.Wallet{{Address: addrA, Balance: 100}})
	assert.Equal(t, 0, m.activeIdx)
	assert.NotContains(t, m.history, addrB)
	assert.Equal(t, []float64{1}, m.history[addrA])
}

func TestApplyBalance(t *testing.T) {
	m := model{history: make(map[string][]float64)}
	m.applyWallets([]models.Wallet{{Address: addrA, Balance: 1000}})

	at := time.Now()
	assert.True(t, m.applyBalance(models.BalanceUpdate{Address: addrA, Balance: 1500, At: at}))
	assert.Equal(t, int64(1500), m.wallets[0].Balance)
	assert.Equal(t, at, m.wallets[0].LastUpdated)
	assert.Equal(t, []float64{10, 15}, m.history[addrA])

	assert.False(t, m.applyBalance(models.BalanceUpdate{Address: addrB, Balance: 1}))
}

func TestUpdateWatcherEvents(t *testing.T) {
	m := newTestModel(t, stubSource{})

	next, cmd := m.Update(watcher.Event{Type: watcher.EventStatusUpdated, Data: models.StateReconnecting})
	m = next.(model)
	assert.Equal(t, models.StateReconnecting, m.state)
	assert.NotNil(t, cmd)

	next, _ = m.Update(watcher.Event{Type: watcher.EventWalletsChanged, Data: []models.Wallet{{Address: addrA, Name: "Savings", Balance: 500}}})
	m = next.(model)
	require.Len(t, m.wallets, 1)
	assert.False(t, m.loading)

	next, _ = m.Update(watcher.Event{Type: watcher.EventBalanceUpdated, Data: models.BalanceUpdate{Address: addrA, Balance: 900, Previous: 500, Changed: true}})
	m = next.(model)
	assert.Equal(t, int64(900), m.wallets[0].Balance)
	assert.Equal(t, "Balance updated: 9.00 NEXA", m.statusMessage)

	payment := models.PaymentEvent{Address: addrA, Received: 400, Balance: 900}
	next, _ = m.Update(watcher.Event{Type: watcher.EventPaymentReceived, Data: payment})
	m = next.(model)
	require.NotNil(t, m.lastPayment)
	assert.Equal(t, int64(400), m.lastPayment.Received)
	assert.Equal(t, "Payment received: +4.00 NEXA", m.statusMessage)
}

func TestNavigationWraps(t *testing.T) {
	m := model{history: make(map[string][]float64)}
	m.applyWallets([]models.Wallet{{Address: addrA}, {Address: addrB}})

	next, _ := m.Update(runes("j"))
	m = next.(model)
	assert.Equal(t, 1, m.activeIdx)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(model)
	assert.Equal(t, 0, m.activeIdx)

	next, _ = m.Update(runes("k"))
	m = next.(model)
	assert.Equal(t, 1, m.activeIdx)
}

func TestHelpToggle(t *testing.T) {
	m := model{history: make(map[string][]float64)}
	next, _ := m.Update(runes("?"))
	m = next.(model)
	assert.True(t, m.showHelp)
	assert.Contains(t, m.View(), "Help: Main View")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(model)
	assert.False(t, m.showHelp)
}

func TestAddRejectsInvalidAddress(t *testing.T) {
	m := newTestModel(t, stubSource{})

	next, _ := m.Update(runes("a"))
	m = next.(model)
	require.True(t, m.adding)

	m.addressInputs[0].SetValue("invalid")
	m.addFocus = 1
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	assert.True(t, m.adding)
	assert.Equal(t, "Invalid Nexa address", m.statusMessage)
}

func TestTrackFlow(t *testing.T) {
	m := newTestModel(t, stubSource{addrA: 123456})

	msg := trackCmd(m.watcher, addrA, "")()
	res, ok := msg.(trackResultMsg)
	require.True(t, ok)
	require.NoError(t, res.err)
	assert.Equal(t, models.DefaultWalletName(addrA), res.wallet.Name)

	next, _ := m.Update(res)
	m = next.(model)
	assert.Equal(t, "Tracking "+models.DefaultWalletName(addrA), m.statusMessage)

	msg = trackCmd(m.watcher, addrB, "")()
	res = msg.(trackResultMsg)
	assert.ErrorIs(t, res.err, watcher.ErrBalanceUnavailable)

	next, _ = m.Update(res)
	m = next.(model)
	assert.Equal(t, "Balance unavailable, try again later", m.statusMessage)
}

func TestRefreshAndRename(t *testing.T) {
	src := stubSource{addrA: 1000}
	m := newTestModel(t, src)
	_, err := m.watcher.Track(context.Background(), addrA, "Main")
	require.NoError(t, err)
	m.applyWallets(m.watcher.Wallets())

	src[addrA] = 2500
	next, _ := m.Update(refreshCmd(m.watcher, addrA)())
	m = next.(model)
	assert.Equal(t, "Balance refreshed", m.statusMessage)
	assert.Equal(t, int64(2500), m.wallets[0].Balance)

	next, _ = m.Update(renameCmd(m.watcher, addrA, "Cold storage")())
	m = next.(model)
	assert.Equal(t, "Wallet renamed", m.statusMessage)
	w, ok := m.watcher.Wallet(addrA)
	require.True(t, ok)
	assert.Equal(t, "Cold storage", w.Name)

	next, _ = m.Update(untrackCmd(m.watcher, addrA)())
	m = next.(model)
	assert.Equal(t, "Wallet removed", m.statusMessage)
	assert.Empty(t, m.watcher.Wallets())
}

func TestReceiveRequestsAmount(t *testing.T) {
	m := newTestModel(t, stubSource{addrA: 1000})

	next, cmd := m.openReceive(addrA)
	m = next.(model)
	require.NotNil(t, cmd)
	assert.True(t, m.showReceive)
	assert.NoError(t, watchCmd(m.watcher, addrA, false)().(watchResultMsg).err)

	m.amountInput.SetValue("12.5")
	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	assert.Equal(t, "Requesting 12.50 NEXA", m.statusMessage)
	assert.Equal(t, 3*time.Second, m.watcher.PaymentWatchInterval())

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(model)
	assert.False(t, m.showReceive)
}

func TestViewShowsManualRefreshWhenNotLive(t *testing.T) {
	m := model{history: make(map[string][]float64), width: 120, height: 40}
	m.applyWallets([]models.Wallet{{Address: addrA, Name: "Main", Balance: 1000}})

	m.state = models.StateFailed
	out := m.View()
	assert.Contains(t, out, "Manual refresh only")
	assert.Contains(t, out, "r:refresh")

	m.state = models.StateConnected
	out = m.View()
	assert.Contains(t, out, "Live")
	assert.NotContains(t, out, "r:refresh")

	m.privacyMode = true
	assert.NotContains(t, m.View(), "10.00")
}
