package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"solsync/pkg/models"
	"solsync/pkg/retry"
	"solsync/pkg/rpc"
	"solsync/pkg/store"
	"solsync/pkg/watcher"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Charts serves candle and price series for the token detail routes.
type Charts interface {
	OHLCV(ctx context.Context, mint, interval string, from, to time.Time) ([]models.OHLCVPoint, error)
	PriceHistory(ctx context.Context, mint, interval string, from, to time.Time) ([]models.PricePoint, error)
}

// Swapper shuttles swaps between the caller and the swap router: quotes,
// unsigned transactions for a quote, and submission of signed transactions.
type Swapper interface {
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (models.SwapQuote, error)
	SwapTransaction(ctx context.Context, quote models.SwapQuote, userPublicKey string) (models.SwapTransaction, error)
	Submit(ctx context.Context, signedTx string) (string, error)
}

// Options carries the optional collaborators of the server. Routes whose
// collaborator is nil answer 503.
type Options struct {
	Book   *store.AddressBookStore
	Charts Charts
	Swap   Swapper
	Logout func(ctx context.Context) error
	Logger *slog.Logger
}

type Server struct {
	watcher *watcher.Watcher
	opts    Options
	logger  *slog.Logger
	clients map[*websocket.Conn]bool
	mu      sync.Mutex
	router  *mux.Router
}

func NewServer(w *watcher.Watcher, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		watcher: w,
		opts:    opts,
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/api/refresh", s.handleRefresh).Methods("POST")
	r.HandleFunc("/api/portfolio", s.handlePortfolio).Methods("GET")
	r.HandleFunc("/api/portfolio/history", s.handlePortfolioHistory).Methods("GET")
	r.HandleFunc("/api/transactions", s.handleTransactions).Methods("GET")
	r.HandleFunc("/api/profile", s.handleProfile).Methods("GET")
	r.HandleFunc("/api/trending", s.handleTrending).Methods("GET")
	r.HandleFunc("/api/trending/more", s.handleTrendingMore).Methods("POST")
	r.HandleFunc("/api/assets", s.handleAssets).Methods("GET")
	r.HandleFunc("/api/assets/more", s.handleAssetsMore).Methods("POST")
	r.HandleFunc("/api/tokens/{address}", s.handleToken).Methods("GET")
	r.HandleFunc("/api/tokens/{address}/ohlcv", s.handleOHLCV).Methods("GET")
	r.HandleFunc("/api/tokens/{address}/history", s.handlePriceHistory).Methods("GET")
	r.HandleFunc("/api/addressbook", s.handleListEntries).Methods("GET")
	r.HandleFunc("/api/addressbook", s.handleCreateEntry).Methods("POST")
	r.HandleFunc("/api/addressbook/{id}", s.handleUpdateEntry).Methods("PUT")
	r.HandleFunc("/api/addressbook/{id}", s.handleDeleteEntry).Methods("DELETE")
	r.HandleFunc("/api/addressbook/{id}/favorite", s.handleToggleFavorite).Methods("POST")
	r.HandleFunc("/api/swap/quote", s.handleQuote).Methods("GET")
	r.HandleFunc("/api/swap/transaction", s.handleSwapTransaction).Methods("POST")
	r.HandleFunc("/api/swap/submit", s.handleSwapSubmit).Methods("POST")
	r.HandleFunc("/api/logout", s.handleLogout).Methods("POST")
	r.HandleFunc("/ws", s.handleWS)
}

// Handler exposes the router, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start(ctx context.Context, port int) error {
	go s.listenToWatcher(ctx, s.watcher.Subscribe())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api_listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "api server")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps sync-layer errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var remote *rpc.RemoteError
	switch {
	case errors.Is(err, store.ErrInvalidEntry), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrEntryNotFound):
		status = http.StatusNotFound
	case errors.Is(err, watcher.ErrNoKey):
		status = http.StatusConflict
	case errors.Is(err, retry.ErrOffline), errors.Is(err, errUnavailable):
		status = http.StatusServiceUnavailable
	case errors.As(err, &remote):
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

var (
	errBadRequest  = errors.New("bad request")
	errUnavailable = errors.New("not configured")
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Status())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.watcher.RefreshAll(r.Context()); err != nil {
		s.logger.Warn("refresh_failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": s.watcher.Status(), "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": s.watcher.Status()})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Portfolio().Result())
}

func (s *Server) handlePortfolioHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"wallet": s.watcher.Wallet(), "values": s.watcher.PortfolioHistory()})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Transactions().Result())
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.watcher.Profile().Result())
}

type pageResponse[T any] struct {
	Result        watcher.Result[store.PageState[T]] `json:"result"`
	HasNextPage   bool                               `json:"hasNextPage"`
	IsLoadingMore bool                               `json:"isLoadingMore"`
	Loaded        *bool                              `json:"loaded,omitempty"`
}

func pageOf[T any](q *watcher.PagedQuery[T], loaded *bool) pageResponse[T] {
	return pageResponse[T]{
		Result:        q.Result(),
		HasNextPage:   q.HasNextPage(),
		IsLoadingMore: q.IsLoadingMore(),
		Loaded:        loaded,
	}
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pageOf(s.watcher.Trending(), nil))
}

func (s *Server) handleTrendingMore(w http.ResponseWriter, r *http.Request) {
	q := s.watcher.Trending()
	loaded, err := q.LoadMore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageOf(q, &loaded))
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pageOf(s.watcher.Assets(), nil))
}

func (s *Server) handleAssetsMore(w http.ResponseWriter, r *http.Request) {
	q := s.watcher.Assets()
	loaded, err := q.LoadMore(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pageOf(q, &loaded))
}

// handleToken returns the overview of a token, fetching it on first request.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if err := rpc.ValidateAddress(address); err != nil {
		writeError(w, errors.Mark(err, errBadRequest))
		return
	}
	q := s.watcher.TokenOverview(r.Context(), address)
	if q.Result().Data == nil {
		if err := q.Refetch(r.Context()); err != nil && !errors.Is(err, watcher.ErrSuperseded) {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, q.Result())
}

// chartRange parses the token and time window of a chart request. Defaults are
// the 1H interval over the last 24 hours.
func (s *Server) chartRange(r *http.Request) (mint, interval string, from, to time.Time, err error) {
	if s.opts.Charts == nil {
		return "", "", from, to, errors.Wrap(errUnavailable, "charts")
	}
	mint = mux.Vars(r)["address"]
	if err := rpc.ValidateAddress(mint); err != nil {
		return "", "", from, to, errors.Mark(err, errBadRequest)
	}
	interval = r.URL.Query().Get("interval")
	if interval == "" {
		interval = "1H"
	}
	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return "", "", from, to, errors.Wrapf(errBadRequest, "hours %q", v)
		}
		hours = n
	}
	to = time.Now()
	return mint, interval, to.Add(-time.Duration(hours) * time.Hour), to, nil
}

func (s *Server) handleOHLCV(w http.ResponseWriter, r *http.Request) {
	mint, interval, from, to, err := s.chartRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	points, err := s.opts.Charts.OHLCV(r.Context(), mint, interval, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	mint, interval, from, to, err := s.chartRange(r)
	if err != nil {
		writeError(w, err)
		return
	}
	points, err := s.opts.Charts.PriceHistory(r.Context(), mint, interval, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) book(w http.ResponseWriter) *store.AddressBookStore {
	if s.opts.Book == nil {
		writeError(w, errors.Wrap(errUnavailable, "address book"))
	}
	return s.opts.Book
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	book := s.book(w)
	if book == nil {
		return
	}
	entries := book.List()
	if entries == nil {
		entries = []models.AddressBookEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	book := s.book(w)
	if book == nil {
		return
	}
	var in store.EntryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	e, err := book.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	book := s.book(w)
	if book == nil {
		return
	}
	var in store.EntryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, errors.Wrap(errBadRequest, err.Error()))
		return
	}
	e, err := book.Update(r.Context(), mux.Vars(r)["id"], func(e *models.AddressBookEntry) {
		e.Name = in.Name
		e.WalletAddress = in.WalletAddress
		e.Description = in.Description
		e.Network = in.Network
		e.Tags = in.Tags
		e.IsFavorite = in.IsFavorite
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	book := s.book(w)
	if book == nil {
		return
	}
	e, err := book.ToggleFavorite(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	book := s.book(w)
	if book == nil {
		return
	}
	if err := book.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type quoteRequest struct {
	InputMint   string `json:"inputMint"`
	OutputMint  string `json:"outputMint"`
	Amount      uint64 `json:"amount"`
	SlippageBps *int   `json:"slippageBps,omitempty"`
	// UserPublicKey defaults to the watched wallet.
	UserPublicKey string `json:"userPublicKey,omitempty"`
}

// quote validates req and asks the router for a quote. Slippage defaults to
// 50 bps.
func (s *Server) quote(ctx context.Context, req quoteRequest) (models.SwapQuote, error) {
	for _, mint := range []string{req.InputMint, req.OutputMint} {
		if err := rpc.ValidateAddress(mint); err != nil {
			return models.SwapQuote{}, errors.Mark(err, errBadRequest)
		}
	}
	if req.Amount == 0 {
		return models.SwapQuote{}, errors.Wrap(errBadRequest, "amount must be positive")
	}
	slippage := 50
	if req.SlippageBps != nil {
		if *req.SlippageBps < 0 {
			return models.SwapQuote{}, errors.Wrapf(errBadRequest, "slippageBps %d", *req.SlippageBps)
		}
		slippage = *req.SlippageBps
	}
	return s.opts.Swap.Quote(ctx, req.InputMint, req.OutputMint, req.Amount, slippage)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	if s.opts.Swap == nil {
		writeError(w, errors.Wrap(errUnavailable, "swap"))
		return
	}
	q := r.URL.Query()
	req := quoteRequest{InputMint: q.Get("inputMint"), OutputMint: q.Get("outputMint")}
	amount, err := strconv.ParseUint(q.Get("amount"), 10, 64)
	if err != nil {
		writeError(w, errors.Wrapf(errBadRequest, "amount %q", q.Get("amount")))
		return
	}
	req.Amount = amount
	if v := q.Get("slippageBps"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, errors.Wrapf(errBadRequest, "slippageBps %q", v))
			return
		}
		req.SlippageBps = &n
	}
	quote, err := s.quote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// handleSwapTransaction quotes the request and returns the quote with the
// unsigned transaction to sign for it. Signing stays with the caller.
func (s *Server) handleSwapTransaction(w http.ResponseWriter, r *http.Request) {
	if s.opts.Swap == nil {
		writeError(w, errors.Wrap(errUnavailable, "swap"))
		return
	}
	var req quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.Mark(errors.Wrap(err, "decode swap request"), errBadRequest))
		return
	}
	if req.UserPublicKey == "" {
		req.UserPublicKey = s.watcher.Wallet()
	}
	if err := rpc.ValidateAddress(req.UserPublicKey); err != nil {
		writeError(w, errors.Mark(err, errBadRequest))
		return
	}
	quote, err := s.quote(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	tx, err := s.opts.Swap.SwapTransaction(r.Context(), quote, req.UserPublicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Quote       models.SwapQuote       `json:"quote"`
		Transaction models.SwapTransaction `json:"transaction"`
	}{quote, tx})
}

func (s *Server) handleSwapSubmit(w http.ResponseWriter, r *http.Request) {
	if s.opts.Swap == nil {
		writeError(w, errors.Wrap(errUnavailable, "swap"))
		return
	}
	var req struct {
		SignedTransaction string `json:"signedTransaction"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SignedTransaction == "" {
		writeError(w, errors.Wrap(errBadRequest, "signedTransaction is required"))
		return
	}
	sig, err := s.opts.Swap.Submit(r.Context(), req.SignedTransaction)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info("swap_submitted", "signature", sig)
	writeJSON(w, http.StatusOK, map[string]string{"signature": sig})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logout == nil {
		writeError(w, errors.Wrap(errUnavailable, "auth"))
		return
	}
	if err := s.opts.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	// The initial write happens under the lock so it cannot interleave with a
	// broadcast.
	s.mu.Lock()
	err = conn.WriteJSON(watcher.Event{Type: watcher.EventInitial, Data: s.watcher.Status()})
	if err == nil {
		s.clients[conn] = true
	}
	s.mu.Unlock()
	if err != nil {
		return
	}

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) listenToWatcher(ctx context.Context, sub watcher.Subscriber) {
	defer s.watcher.Unsubscribe(sub)

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			s.broadcast(event)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) broadcast(event watcher.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for client := range s.clients {
		if err := client.WriteJSON(event); err != nil {
			_ = client.Close()
			delete(s.clients, client)
		}
	}
}
