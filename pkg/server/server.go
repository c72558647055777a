package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nexaview/pkg/logging"
	"nexaview/pkg/metrics"
	"nexaview/pkg/models"
	"nexaview/pkg/rpc"
	"nexaview/pkg/watcher"
)

const timeout = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BalanceSource is the upstream the /api/balance proxy forwards to.
type BalanceSource interface {
	Balance(ctx context.Context, address string) (rpc.Balance, error)
}

type Server struct {
	watcher  *watcher.Watcher
	upstream BalanceSource
	metrics  *metrics.Metrics
	logger   *zap.Logger
	clients  map[*websocket.Conn]bool
	mu       sync.Mutex
	router   *mux.Router
}

func NewServer(w *watcher.Watcher, upstream BalanceSource, m *metrics.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		watcher:  w,
		upstream: upstream,
		metrics:  m,
		logger:   logging.OrNop(logger),
		clients:  make(map[*websocket.Conn]bool),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/wallets", s.handleListWallets).Methods("GET")
	r.HandleFunc("/api/wallets", s.handleTrack).Methods("POST")
	r.HandleFunc("/api/wallets/{address}", s.handleRename).Methods("PATCH")
	r.HandleFunc("/api/wallets/{address}", s.handleUntrack).Methods("DELETE")
	r.HandleFunc("/api/wallets/{address}/refresh", s.handleRefresh).Methods("POST")
	r.HandleFunc("/api/lifecycle/{event}", s.handleLifecycle).Methods("POST")
	r.HandleFunc("/api/reconnect", s.handleReconnect).Methods("POST")
	r.HandleFunc("/api/payment-watch", s.handleWatchPayment).Methods("POST")
	r.HandleFunc("/api/payment-watch", s.handleStopPaymentWatch).Methods("DELETE")
	r.HandleFunc("/api/balance", s.handleBalance).Methods("GET", "OPTIONS")
	r.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	r.HandleFunc("/ws", s.handleWS)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	go s.listenToWatcher()

	srv := &http.Server{
		Handler:      s.router,
		Addr:         fmt.Sprintf(":%d", port),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.logger.Info("API server listening", zap.Int("port", port))
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusFor maps watcher errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidAddress), errors.Is(err, watcher.ErrUnknownEvent):
		return http.StatusBadRequest
	case errors.Is(err, watcher.ErrUnknownWallet):
		return http.StatusNotFound
	case errors.Is(err, watcher.ErrBalanceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Snapshot())
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Wallets())
}

type trackRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	wallet, err := s.watcher.Track(r.Context(), req.Address, req.Name)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	address := mux.Vars(r)["address"]
	if err := s.watcher.Rename(address, req.Name); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	wallet, _ := s.watcher.Wallet(address)
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleUntrack(w http.ResponseWriter, r *http.Request) {
	if err := s.watcher.Untrack(mux.Vars(r)["address"]); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.watcher.Refresh(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	action, err := s.watcher.Lifecycle(mux.Vars(r)["event"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"action": string(action)})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	s.watcher.ForceReconnect()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": s.watcher.Status().String()})
}

func (s *Server) handleWatchPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"address"`
		Requested bool   `json:"requested"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.watcher.WatchPayment(r.Context(), req.Address, req.Requested); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"watching": req.Address})
}

func (s *Server) handleStopPaymentWatch(w http.ResponseWriter, r *http.Request) {
	s.watcher.StopPaymentWatch()
	w.WriteHeader(http.StatusNoContent)
}

type balanceResponse struct {
	Success     bool   `json:"success"`
	Address     string `json:"address"`
	Balance     int64  `json:"balance"`
	Unconfirmed int64  `json:"unconfirmed"`
	Timestamp   string `json:"timestamp"`
}

// handleBalance proxies the public Nexa API so browser clients avoid CORS.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	address := strings.TrimSpace(r.URL.Query().Get("address"))
	if address == "" {
		writeError(w, http.StatusBadRequest, errors.New("address query parameter is required"))
		return
	}
	if !strings.HasPrefix(address, models.AddressPrefix) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: must start with %q", models.ErrInvalidAddress, models.AddressPrefix))
		return
	}

	bal, err := s.upstream.Balance(r.Context(), address)
	switch {
	case errors.Is(err, rpc.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, errors.New("too many requests, try again later"))
		return
	case err != nil:
		s.logger.Warn("upstream balance query failed", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusBadGateway, err)
		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		Success:     true,
		Address:     address,
		Balance:     bal.Confirmed,
		Unconfirmed: bal.Unconfirmed,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	s.mu.Lock()
	s.clients[conn] = true
	// Send initial state
	err = conn.WriteJSON(map[string]interface{}{
		"type": "initial",
		"data": s.watcher.Snapshot(),
	})
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()
	if err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) listenToWatcher() {
	sub := s.watcher.Subscribe()
	defer s.watcher.Unsubscribe(sub)

	for event := range sub {
		s.broadcast(event)
	}
}

func (s *Server) broadcast(event watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		_ = client.SetWriteDeadline(time.Now().Add(timeout))
		if err := client.WriteJSON(event); err != nil {
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}
