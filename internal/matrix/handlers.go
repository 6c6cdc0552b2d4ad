package matrix

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/fmx/matrix-engine/internal/account"
	"github.com/fmx/matrix-engine/internal/catalog"
	"github.com/fmx/matrix-engine/internal/model"
)

// --- Request/Response types ---

// CreatePositionRequest is the JSON body for POST /positions.
type CreatePositionRequest struct {
	UserID string `json:"user_id"`
	Level  int    `json:"level"`
}

// FillRequest is the JSON body for POST /positions/{positionID}/fill.
type FillRequest struct {
	UserID string `json:"user_id"`
}

// FillResponse reports the updated position and whether this fill caused
// the position to cycle.
type FillResponse struct {
	Position model.Position `json:"position"`
	Cycled   bool           `json:"cycled"`
}

// DepositRequest is the JSON body for POST /deposit.
type DepositRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// BalanceResponse is the JSON body for GET /users/{userID}/balance.
type BalanceResponse struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// --- HTTP Handlers ---

// HandleCreatePosition handles POST /api/v1/positions
func (s *Service) HandleCreatePosition(w http.ResponseWriter, r *http.Request) {
	var req CreatePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	pos, err := s.CreatePosition(r.Context(), req.UserID, req.Level)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("position created",
		"user", req.UserID,
		"position", pos.ID,
		"level", pos.Level,
		"amount", pos.Amount.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(pos)
}

// HandleAdvanceFill handles POST /api/v1/positions/{positionID}/fill
func (s *Service) HandleAdvanceFill(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")

	var req FillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	pos, cycled, err := s.AdvanceFill(r.Context(), req.UserID, positionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("position filled",
		"user", req.UserID,
		"position", pos.ID,
		"level", pos.Level,
		"filled", pos.Filled,
		"cycled", cycled,
	)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(FillResponse{Position: pos, Cycled: cycled})
}

// HandleListPositions handles GET /api/v1/users/{userID}/positions
// Query params: status=active|historical (default active), level=N (optional).
func (s *Service) HandleListPositions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	level := 0
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		n, err := strconv.Atoi(lvl)
		if err != nil || !catalog.Valid(n) {
			writeError(w, "invalid level filter", http.StatusBadRequest)
			return
		}
		level = n
	}

	var (
		positions []model.Position
		err       error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "", "active":
		positions, err = s.ListActive(r.Context(), userID, level)
	case "historical":
		positions, err = s.ListHistorical(r.Context(), userID, level)
	default:
		writeError(w, "status must be active or historical", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(positions)
}

// HandleEarnings handles GET /api/v1/users/{userID}/earnings
func (s *Service) HandleEarnings(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	summary, err := s.Earnings(r.Context(), userID)
	if err != nil {
		writeError(w, "failed to compute earnings", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// HandleBalance handles GET /api/v1/users/{userID}/balance
func (s *Service) HandleBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(BalanceResponse{
		UserID:  userID,
		Balance: s.ledger.Balance(userID),
	})
}

// HandleTransactions handles GET /api/v1/users/{userID}/transactions
func (s *Service) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	txs := s.ledger.Transactions(userID)
	if txs == nil {
		txs = []model.Transaction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txs)
}

// HandleDeposit handles POST /api/v1/deposit
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	tx, err := s.ledger.Deposit(req.UserID, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	slog.Info("deposit recorded",
		"user", req.UserID,
		"amount", req.Amount.String(),
		"balance", tx.Balance.String(),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(tx)
}

// HandleListLevels handles GET /api/v1/levels
func HandleListLevels(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(catalog.All())
}

// writeEngineError maps engine error taxonomy to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrInvalidLevel), errors.Is(err, account.ErrInvalidAmount):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, account.ErrInsufficientBalance), errors.Is(err, ErrDuplicateID):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
