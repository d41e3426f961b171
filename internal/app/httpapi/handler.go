// Package httpapi exposes the ledger over REST.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/smarter-poker/diamond-ledger/internal/app"
	domescrow "github.com/smarter-poker/diamond-ledger/internal/app/domain/escrow"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/ledgererr"
	"github.com/smarter-poker/diamond-ledger/internal/app/domain/wallet"
	"github.com/smarter-poker/diamond-ledger/internal/app/metrics"
	burnfeesvc "github.com/smarter-poker/diamond-ledger/internal/app/services/burnfee"
	escrowsvc "github.com/smarter-poker/diamond-ledger/internal/app/services/escrow"
	fairnesssvc "github.com/smarter-poker/diamond-ledger/internal/app/services/fairness"
	ledgersvc "github.com/smarter-poker/diamond-ledger/internal/app/services/ledger"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app   *app.Application
	audit *auditLog
}

// Config tunes the HTTP surface.
type Config struct {
	AuditFile  string  // JSONL sink for the operator audit trail, empty disables
	RateLimit  float64 // requests per second per client, 0 disables
	RateBurst  int
	AuditDepth int // in-memory audit entries retained
}

// NewHandler returns a router exposing the ledger REST API.
func NewHandler(application *app.Application, cfg Config) (http.Handler, error) {
	sink, err := newFileAuditSink(cfg.AuditFile)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	h := &handler{app: application, audit: newAuditLog(cfg.AuditDepth, sink)}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/wallets/{owner}", h.getWallet).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{owner}/journal", h.getJournal).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{owner}/multiplier", h.getMultiplier).Methods(http.MethodGet)
	r.HandleFunc("/wallets/{owner}/mint", h.mint).Methods(http.MethodPost)
	r.HandleFunc("/wallets/{owner}/burn", h.burn).Methods(http.MethodPost)
	r.HandleFunc("/wallets/{owner}/transfer", h.transfer).Methods(http.MethodPost)
	r.HandleFunc("/wallets/{owner}/claim", h.claimDaily).Methods(http.MethodPost)
	r.HandleFunc("/wallets/{owner}/award", h.awardSession).Methods(http.MethodPost)

	r.HandleFunc("/settlements", h.settle).Methods(http.MethodPost)
	r.HandleFunc("/settlements", h.listSettlements).Methods(http.MethodGet)
	r.HandleFunc("/settlements/{id}", h.getSettlement).Methods(http.MethodGet)
	r.HandleFunc("/burn/sink", h.getSink).Methods(http.MethodGet)

	r.HandleFunc("/escrows", h.lockEscrow).Methods(http.MethodPost)
	r.HandleFunc("/escrows", h.listEscrows).Methods(http.MethodGet)
	r.HandleFunc("/escrows/{session}", h.getEscrow).Methods(http.MethodGet)
	r.HandleFunc("/escrows/{session}/release", h.releaseEscrow).Methods(http.MethodPost)
	r.HandleFunc("/escrows/{session}/forfeit", h.forfeitEscrow).Methods(http.MethodPost)
	r.HandleFunc("/escrows/{session}/cancel", h.cancelEscrow).Methods(http.MethodPost)

	r.HandleFunc("/fairness/{session}/commit", h.commitFairness).Methods(http.MethodPost)
	r.HandleFunc("/fairness/{session}/reveal", h.revealFairness).Methods(http.MethodPost)
	r.HandleFunc("/fairness/{session}", h.getFairness).Methods(http.MethodGet)
	r.HandleFunc("/fairness/verify", h.verifyFairness).Methods(http.MethodGet)

	r.HandleFunc("/reconcile/latest", h.latestSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/reconcile/snapshots", h.listSnapshots).Methods(http.MethodGet)
	r.HandleFunc("/reconcile/run", h.runAudit).Methods(http.MethodPost)

	r.HandleFunc("/admin/freeze", h.getFreezeStatus).Methods(http.MethodGet)
	r.HandleFunc("/admin/freeze", h.freeze).Methods(http.MethodPost)
	r.HandleFunc("/admin/unfreeze", h.unfreeze).Methods(http.MethodPost)
	r.HandleFunc("/admin/audit", h.listAudit).Methods(http.MethodGet)

	var out http.Handler = r
	if cfg.RateLimit > 0 {
		out = rateLimit(out, cfg.RateLimit, cfg.RateBurst)
	}
	return metrics.InstrumentHandler(out), nil
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if h.app.Engine.Frozen() {
		status = "frozen"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

// --- wallets ----------------------------------------------------------------

func (h *handler) getWallet(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	wal, err := h.app.Engine.Wallet(r.Context(), owner)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletView(wal))
}

func (h *handler) getJournal(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	limit := queryInt(r, "limit", 50)
	entries, err := h.app.Engine.Journal(r.Context(), owner, limit)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *handler) getMultiplier(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	info, err := h.app.Streaks.MultiplierFor(r.Context(), owner)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner_id":       owner,
		"streak_days":    info.StreakDays,
		"multiplier_bp":  info.MultiplierBP,
		"tier":           info.Label,
		"next_tier_days": info.NextTierDays,
	})
}

func (h *handler) mint(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var payload struct {
		Amount   int64             `json:"amount"`
		Source   string            `json:"source"`
		RefID    string            `json:"ref_id"`
		RefType  string            `json:"ref_type"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Engine.Mint(r.Context(), ledgersvc.MintRequest{
		OwnerID:  owner,
		Amount:   payload.Amount,
		Source:   wallet.Source(payload.Source),
		RefID:    payload.RefID,
		RefType:  payload.RefType,
		Metadata: payload.Metadata,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if wallet.Source(payload.Source) == wallet.SourceAdminGrant {
		h.recordAudit(r, http.StatusCreated)
	}
	writeJSON(w, http.StatusCreated, mutationView(owner, result))
}

func (h *handler) burn(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var payload struct {
		Amount   int64             `json:"amount"`
		Source   string            `json:"source"`
		RefID    string            `json:"ref_id"`
		RefType  string            `json:"ref_type"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Engine.Burn(r.Context(), ledgersvc.BurnRequest{
		OwnerID:  owner,
		Amount:   payload.Amount,
		Source:   wallet.Source(payload.Source),
		RefID:    payload.RefID,
		RefType:  payload.RefType,
		Metadata: payload.Metadata,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	if wallet.Source(payload.Source) == wallet.SourceAdminRevoke {
		h.recordAudit(r, http.StatusCreated)
	}
	writeJSON(w, http.StatusCreated, mutationView(owner, result))
}

func (h *handler) transfer(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var payload struct {
		To       string            `json:"to"`
		Amount   int64             `json:"amount"`
		RefID    string            `json:"ref_id"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Engine.Transfer(r.Context(), ledgersvc.TransferRequest{
		FromOwnerID: owner,
		ToOwnerID:   payload.To,
		Amount:      payload.Amount,
		RefID:       payload.RefID,
		Metadata:    payload.Metadata,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationView(owner, result))
}

func (h *handler) claimDaily(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	result, err := h.app.Streaks.ClaimDaily(r.Context(), owner)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"wallet":        walletView(result.Wallet),
		"entry":         result.Entry,
		"awarded":       result.Awarded,
		"streak_days":   result.StreakDays,
		"multiplier_bp": result.MultiplierBP,
	})
}

func (h *handler) awardSession(w http.ResponseWriter, r *http.Request) {
	owner := mux.Vars(r)["owner"]
	var payload struct {
		Base  int64  `json:"base"`
		RefID string `json:"ref_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Streaks.AwardSession(r.Context(), owner, payload.Base, payload.RefID)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"wallet":        walletView(result.Wallet),
		"entry":         result.Entry,
		"awarded":       result.Awarded,
		"multiplier_bp": result.MultiplierBP,
	})
}

// --- settlements ------------------------------------------------------------

func (h *handler) settle(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		PayerID  string            `json:"payer_id"`
		PayeeID  string            `json:"payee_id"`
		Gross    int64             `json:"gross"`
		Category string            `json:"category"`
		RefID    string            `json:"ref_id"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.BurnFees.Settle(r.Context(), burnfeesvc.SettleRequest{
		PayerID:  payload.PayerID,
		PayeeID:  payload.PayeeID,
		Gross:    payload.Gross,
		Category: payload.Category,
		RefID:    payload.RefID,
		Metadata: payload.Metadata,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result.Settlement)
}

func (h *handler) listSettlements(w http.ResponseWriter, r *http.Request) {
	settlements, err := h.app.BurnFees.Settlements(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": settlements})
}

func (h *handler) getSettlement(w http.ResponseWriter, r *http.Request) {
	st, err := h.app.BurnFees.Settlement(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *handler) getSink(w http.ResponseWriter, r *http.Request) {
	sink, err := h.app.BurnFees.Sink(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sink)
}

// --- escrows ----------------------------------------------------------------

func (h *handler) lockEscrow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SessionID  string            `json:"session_id"`
		OwnerID    string            `json:"owner_id"`
		Stake      int64             `json:"stake"`
		TTLSeconds int64             `json:"ttl_seconds"`
		Metadata   map[string]string `json:"metadata"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := h.app.Escrows.Lock(r.Context(), escrowsvc.LockRequest{
		SessionID: payload.SessionID,
		OwnerID:   payload.OwnerID,
		Stake:     payload.Stake,
		TTL:       secondsToDuration(payload.TTLSeconds),
		Metadata:  payload.Metadata,
	})
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handler) listEscrows(w http.ResponseWriter, r *http.Request) {
	status := domescrow.Status(strings.TrimSpace(r.URL.Query().Get("status")))
	entries, err := h.app.Escrows.List(r.Context(), status)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"escrows": entries})
}

func (h *handler) getEscrow(w http.ResponseWriter, r *http.Request) {
	entry, err := h.app.Escrows.Get(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) releaseEscrow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Payout int64 `json:"payout"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := h.app.Escrows.Release(r.Context(), mux.Vars(r)["session"], payload.Payout)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) forfeitEscrow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := h.app.Escrows.Forfeit(r.Context(), mux.Vars(r)["session"], payload.Resolution)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) cancelEscrow(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	entry, err := h.app.Escrows.Cancel(r.Context(), mux.Vars(r)["session"], payload.Resolution)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// --- fairness ---------------------------------------------------------------

func (h *handler) commitFairness(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ClientSeed string `json:"client_seed"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	commit, err := h.app.Fairness.Commit(r.Context(), mux.Vars(r)["session"], payload.ClientSeed)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	// The secret and roll never leave the server at commit time.
	writeJSON(w, http.StatusCreated, map[string]any{
		"session_id":       commit.SessionID,
		"server_seed_hash": commit.ServerSeedHash,
		"client_seed":      commit.ClientSeed,
		"nonce":            commit.Nonce,
		"created_at":       commit.CreatedAt,
	})
}

func (h *handler) revealFairness(w http.ResponseWriter, r *http.Request) {
	commit, err := h.app.Fairness.Reveal(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

func (h *handler) getFairness(w http.ResponseWriter, r *http.Request) {
	commit, err := h.app.Fairness.Commitment(r.Context(), mux.Vars(r)["session"])
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, commit)
}

func (h *handler) verifyFairness(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nonce, err := strconv.ParseInt(q.Get("nonce"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("nonce must be an integer"))
		return
	}
	result := fairnesssvc.Verify(q.Get("server_secret"), q.Get("server_seed_hash"), q.Get("client_seed"), nonce)
	writeJSON(w, http.StatusOK, result)
}

// --- reconciliation and admin -----------------------------------------------

func (h *handler) latestSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Auditor.LatestSnapshot(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	snaps, err := h.app.Auditor.Snapshots(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
}

func (h *handler) runAudit(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Auditor.Audit(r.Context())
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.recordAudit(r, http.StatusOK)
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) getFreezeStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"frozen": h.app.Engine.Frozen()})
}

func (h *handler) freeze(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(payload.Reason) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("reason is required"))
		return
	}
	freeze, err := h.app.Engine.Freeze(r.Context(), payload.Reason)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.recordAudit(r, http.StatusOK)
	writeJSON(w, http.StatusOK, freeze)
}

func (h *handler) unfreeze(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Note string `json:"note"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	freeze, err := h.app.Engine.Unfreeze(r.Context(), payload.Note)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	h.recordAudit(r, http.StatusOK)
	writeJSON(w, http.StatusOK, freeze)
}

func (h *handler) listAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"entries": h.audit.listLimit(queryInt(r, "limit", 0))})
}

func (h *handler) recordAudit(r *http.Request, status int) {
	h.audit.add(auditEntry{
		Time:       timeNow(),
		Path:       r.URL.Path,
		Method:     r.Method,
		Status:     status,
		RemoteAddr: r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	})
}

// --- views and helpers ------------------------------------------------------

func walletView(w wallet.Wallet) map[string]any {
	view := map[string]any{
		"owner_id":       w.OwnerID,
		"balance":        w.Balance,
		"streak_days":    w.StreakDays,
		"longest_streak": w.LongestStreak,
		"created_at":     w.CreatedAt,
		"updated_at":     w.UpdatedAt,
	}
	if !w.LastClaimAt.IsZero() {
		view["last_claim_at"] = w.LastClaimAt
	}
	return view
}

func mutationView(owner string, result storageResult) map[string]any {
	return map[string]any{
		"wallet":  walletView(result.Wallets[owner]),
		"entries": result.Entries,
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// writeLedgerError maps the business error taxonomy onto HTTP statuses.
func writeLedgerError(w http.ResponseWriter, err error) {
	var le *ledgererr.Error
	if !errors.As(err, &le) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	status := http.StatusBadRequest
	switch le.Kind {
	case ledgererr.KindWalletNotFound, ledgererr.KindNotFound, ledgererr.KindSeedNotFound:
		status = http.StatusNotFound
	case ledgererr.KindInsufficientFunds, ledgererr.KindDuplicateSession, ledgererr.KindAlreadyResolved, ledgererr.KindResourceBusy:
		status = http.StatusConflict
	case ledgererr.KindLedgerFrozen:
		status = http.StatusServiceUnavailable
	}
	body := map[string]any{"error": le.Error(), "kind": string(le.Kind)}
	if le.Kind == ledgererr.KindInsufficientFunds {
		body["balance"] = le.Balance
		body["required"] = le.Required
		body["shortfall"] = le.Shortfall
	}
	if le.Kind == ledgererr.KindResourceBusy {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
