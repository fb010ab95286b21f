package play

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/loyalty"
	"github.com/atmx/settlement-engine/internal/model"
	"github.com/atmx/settlement-engine/internal/payout"
	"github.com/atmx/settlement-engine/internal/store"
	"github.com/atmx/settlement-engine/internal/svcerr"
)

// Routes mounts the engine's handlers under /api/v1.
func (e *Engine) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/play", e.HandlePlay)
		r.Post("/verify", e.HandleVerify)
		r.Get("/games/plinko/table", e.HandlePlinkoTable)
		if e.Hub != nil {
			r.Get("/ws", e.Hub.HandleWS)
		}

		r.Route("/users/{userID}", func(r chi.Router) {
			r.Get("/seed", e.HandleGetSeed)
			r.Post("/seed/rotate", e.HandleRotateSeed)
			r.Get("/seeds", e.HandleListSeeds)

			r.Post("/wallets", e.HandleOpenWallet)
			r.Get("/wallets/{currency}", e.HandleGetWallet)

			r.Get("/loyalty", e.HandleLoyalty)
			r.Post("/rakeback/claim", e.HandleClaimRakeback)
			r.Put("/referrer", e.HandleSetReferrer)
			r.Get("/commissions", e.HandleCommissions)

			r.Get("/bets", e.HandleBets)
			r.Get("/transactions", e.HandleTransactions)
		})
	})
}

// --- Play ---

// HandlePlay handles POST /api/v1/play
func (e *Engine) HandlePlay(w http.ResponseWriter, r *http.Request) {
	var req PlayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := e.Play(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleVerify handles POST /api/v1/verify
func (e *Engine) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := e.Verify(req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandlePlinkoTable handles GET /api/v1/games/plinko/table?rows=16&risk=low
// Returns the multipliers served at the configured edge.
func (e *Engine) HandlePlinkoTable(w http.ResponseWriter, r *http.Request) {
	rows, err := strconv.Atoi(r.URL.Query().Get("rows"))
	if err != nil {
		writeError(w, "rows must be an integer", http.StatusBadRequest)
		return
	}
	risk := r.URL.Query().Get("risk")
	edge := e.HouseEdge.For(model.GamePlinko)
	table, err := payout.PlinkoTable(rows, risk, edge)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rows":        rows,
		"risk":        risk,
		"house_edge":  edge,
		"multipliers": table,
	})
}

// --- Seeds ---

// HandleGetSeed handles GET /api/v1/users/{userID}/seed
func (e *Engine) HandleGetSeed(w http.ResponseWriter, r *http.Request) {
	sd, err := e.Seeds.CurrentSeed(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sd.Public())
}

// RotateRequest is the JSON body for POST /seed/rotate. An empty body keeps
// the current client seed.
type RotateRequest struct {
	ClientSeed string `json:"client_seed"`
}

// HandleRotateSeed handles POST /api/v1/users/{userID}/seed/rotate
func (e *Engine) HandleRotateSeed(w http.ResponseWriter, r *http.Request) {
	var req RotateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	userID := chi.URLParam(r, "userID")
	rot, err := e.Seeds.Rotate(r.Context(), userID, req.ClientSeed)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("seed rotated",
		"user", userID,
		"revealed_seed_id", rot.Revealed.ID,
		"final_nonce", rot.Revealed.Nonce,
		"next_hash", rot.Next.ServerSeedHash,
	)
	writeJSON(w, http.StatusOK, rot)
}

// HandleListSeeds handles GET /api/v1/users/{userID}/seeds
func (e *Engine) HandleListSeeds(w http.ResponseWriter, r *http.Request) {
	seeds, err := e.Seeds.History(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if seeds == nil {
		seeds = []model.Seed{}
	}
	writeJSON(w, http.StatusOK, seeds)
}

// --- Wallets ---

// OpenWalletRequest is the JSON body for POST /wallets.
type OpenWalletRequest struct {
	Currency       string          `json:"currency" validate:"omitempty,alphanum,max=16"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// HandleOpenWallet handles POST /api/v1/users/{userID}/wallets
func (e *Engine) HandleOpenWallet(w http.ResponseWriter, r *http.Request) {
	var req OpenWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := e.Validate.Struct(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = e.DefaultCurrency
	}
	wallet, err := e.Coordinator.OpenWallet(r.Context(), chi.URLParam(r, "userID"), req.Currency, req.OpeningBalance)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

// HandleGetWallet handles GET /api/v1/users/{userID}/wallets/{currency}
func (e *Engine) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := e.Store.GetWallet(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "currency"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// --- Loyalty ---

// LoyaltyResponse is the loyalty state with its tier spelled out.
type LoyaltyResponse struct {
	model.Loyalty
	Tier     loyalty.Tier  `json:"tier"`
	NextTier *loyalty.Tier `json:"next_tier,omitempty"`
}

// HandleLoyalty handles GET /api/v1/users/{userID}/loyalty
func (e *Engine) HandleLoyalty(w http.ResponseWriter, r *http.Request) {
	l, err := e.Store.GetLoyalty(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	resp := LoyaltyResponse{Loyalty: *l, Tier: loyalty.TierAt(l.VIPLevel)}
	if l.VIPLevel+1 < len(loyalty.Tiers) {
		next := loyalty.Tiers[l.VIPLevel+1]
		resp.NextTier = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ClaimRequest is the JSON body for POST /rakeback/claim.
type ClaimRequest struct {
	Currency string `json:"currency"`
}

// HandleClaimRakeback handles POST /api/v1/users/{userID}/rakeback/claim
func (e *Engine) HandleClaimRakeback(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Currency == "" {
		req.Currency = e.DefaultCurrency
	}
	userID := chi.URLParam(r, "userID")
	res, err := e.Coordinator.ClaimRakeback(r.Context(), userID, req.Currency)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	slog.Info("rakeback claimed", "user", userID, "amount", res.Amount.String(), "currency", req.Currency)
	writeJSON(w, http.StatusOK, res)
}

// ReferrerRequest is the JSON body for PUT /referrer.
type ReferrerRequest struct {
	ReferrerID string `json:"referrer_id" validate:"required,max=128"`
}

// HandleSetReferrer handles PUT /api/v1/users/{userID}/referrer
func (e *Engine) HandleSetReferrer(w http.ResponseWriter, r *http.Request) {
	var req ReferrerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := e.Validate.Struct(&req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	userID := chi.URLParam(r, "userID")
	if req.ReferrerID == userID {
		writeError(w, "a user cannot refer themselves", http.StatusBadRequest)
		return
	}
	ref := &model.Referral{UserID: userID, ReferrerID: req.ReferrerID, CreatedAt: time.Now().UTC()}
	if err := e.Store.SetReferrer(r.Context(), ref); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

// HandleCommissions handles GET /api/v1/users/{userID}/commissions
func (e *Engine) HandleCommissions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	cs, err := e.Store.ListCommissions(r.Context(), chi.URLParam(r, "userID"), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if cs == nil {
		cs = []model.Commission{}
	}
	writeJSON(w, http.StatusOK, cs)
}

// --- Audit trail ---

// HandleBets handles GET /api/v1/users/{userID}/bets?from=&to=&limit=
// Bets under an active seed are returned without the server seed.
func (e *Engine) HandleBets(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	bets, err := e.Store.ListBets(r.Context(), chi.URLParam(r, "userID"), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	writeJSON(w, http.StatusOK, bets)
}

// HandleTransactions handles GET /api/v1/users/{userID}/transactions?from=&to=&limit=
func (e *Engine) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	txs, err := e.Store.ListTransactions(r.Context(), chi.URLParam(r, "userID"), f)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func parseFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	var f store.Filter
	var err error
	if s := q.Get("from"); s != "" {
		if f.From, err = time.Parse(time.RFC3339, s); err != nil {
			return f, errors.New("from must be RFC3339")
		}
	}
	if s := q.Get("to"); s != "" {
		if f.To, err = time.Parse(time.RFC3339, s); err != nil {
			return f, errors.New("to must be RFC3339")
		}
	}
	if s := q.Get("limit"); s != "" {
		if f.Limit, err = strconv.Atoi(s); err != nil || f.Limit < 0 {
			return f, errors.New("limit must be a non-negative integer")
		}
	}
	return f, nil
}

// --- Responses ---

func decodeGameData(raw []byte, v *GameData) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps the svcerr taxonomy onto HTTP statuses. Unexpected
// errors are logged and reported without detail.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case svcerr.IsValidation(err):
		writeError(w, err.Error(), http.StatusBadRequest)
	case svcerr.IsRateLimited(err):
		writeError(w, "too many bets, slow down", http.StatusTooManyRequests)
	case svcerr.IsNotFound(err):
		writeError(w, notFoundMessage(err), http.StatusNotFound)
	case svcerr.IsConflict(err):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("request failed", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

func notFoundMessage(err error) string {
	switch {
	case errors.Is(err, svcerr.ErrWalletNotFound):
		return svcerr.ErrWalletNotFound.Error()
	case errors.Is(err, svcerr.ErrSeedNotFound):
		return svcerr.ErrSeedNotFound.Error()
	}
	return strings.TrimSpace(err.Error())
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
