package tui

import (
	"time"

	"nexaview/pkg/config"
	"nexaview/pkg/models"
	"nexaview/pkg/watcher"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Version is set by Start()
var Version = "dev"

// historyLimit caps the number of points kept per wallet chart.
const historyLimit = 240

// --- Messages ---

type clearStatusMsg struct{}
type uiTickMsg time.Time

type trackResultMsg struct {
	wallet models.Wallet
	err    error
}

type refreshResultMsg struct {
	address string
	wallet  models.Wallet
	err     error
}

type refreshAllResultMsg struct{ err error }

type opResultMsg struct {
	status string
	err    error
}

type watchResultMsg struct {
	address string
	err     error
}

// --- Model ---

type model struct {
	watcher         *watcher.Watcher
	sub             watcher.Subscriber
	wallets         []models.Wallet
	state           models.ConnectionState
	activeIdx       int
	width           int
	height          int
	loading         bool
	lastUpdate      time.Time
	spinner         spinner.Model
	statusMessage   string
	addressInputs   []textinput.Model
	addFocus        int
	adding          bool
	renaming        bool
	renameInput     textinput.Model
	confirmDelete   bool
	showHelp        bool
	showDetail      bool
	showReceive     bool
	showDonate      bool
	receiveAddress  string
	amountInput     textinput.Model
	lastPayment     *models.PaymentEvent
	history         map[string][]float64
	privacyMode     bool
	lastInteraction time.Time
	donationAddress string
}

func initialModel(w *watcher.Watcher, cfg config.Config) model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	ais := make([]textinput.Model, 2)
	for i := range ais {
		ais[i] = textinput.New()
		ais[i].Width = 60
	}
	ais[0].Placeholder = "nexa:..."
	ais[1].Placeholder = "Name (Optional)"

	renameTi := textinput.New()
	renameTi.Placeholder = "Name (empty restores default)"
	renameTi.Width = 40

	amountTi := textinput.New()
	amountTi.Placeholder = "Amount in NEXA (Optional)"
	amountTi.Width = 30

	m := model{
		watcher:         w,
		state:           models.StateDisconnected,
		loading:         true,
		spinner:         s,
		addressInputs:   ais,
		renameInput:     renameTi,
		amountInput:     amountTi,
		history:         make(map[string][]float64),
		lastInteraction: time.Now(),
		donationAddress: cfg.DonationAddress,
	}
	if w != nil {
		m.sub = w.Subscribe()
		m.state = w.Status()
		m.applyWallets(w.Wallets())
	}
	return m
}

func (m model) Init() tea.Cmd {
	var cmds []tea.Cmd

	if m.sub != nil {
		cmds = append(cmds, listenForWatcher(m.sub))
	}
	cmds = append(cmds, m.spinner.Tick)
	cmds = append(cmds, tea.Tick(time.Second, func(t time.Time) tea.Msg { return uiTickMsg(t) }))
	return tea.Batch(cmds...)
}
