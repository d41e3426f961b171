package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	app "github.com/smarter-poker/diamond-ledger/internal/app"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	// Bootstrap directly; the background services are not needed here.
	if err := application.Engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := NewHandler(application, Config{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return handler
}

func marshal(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	body, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(body)
}

func do(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf *bytes.Buffer
	if body != nil {
		buf = marshal(t, body)
	} else {
		buf = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, buf)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(resp.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
}

func TestWalletLifecycle(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(t, handler, http.MethodPost, "/wallets/alice/mint", map[string]any{
		"amount": 100, "source": "admin_grant",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("mint: expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodGet, "/wallets/alice", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get wallet: expected 200, got %d", resp.Code)
	}
	var wal struct {
		OwnerID string `json:"owner_id"`
		Balance int64  `json:"balance"`
	}
	decode(t, resp, &wal)
	if wal.Balance != 100 {
		t.Fatalf("balance = %d, want 100", wal.Balance)
	}

	resp = do(t, handler, http.MethodGet, "/wallets/alice/multiplier", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("multiplier: expected 200, got %d", resp.Code)
	}
	var mult struct {
		StreakDays   int    `json:"streak_days"`
		MultiplierBP int64  `json:"multiplier_bp"`
		Tier         string `json:"tier"`
		NextTierDays int    `json:"next_tier_days"`
	}
	decode(t, resp, &mult)
	if mult.MultiplierBP != 100 || mult.Tier != "none" || mult.NextTierDays != 1 {
		t.Fatalf("multiplier = %+v, want base tier", mult)
	}

	resp = do(t, handler, http.MethodPost, "/wallets/alice/transfer", map[string]any{
		"to": "bob", "amount": 40,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("transfer: expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodGet, "/wallets/alice/journal", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("journal: expected 200, got %d", resp.Code)
	}
	var journal struct {
		Entries []json.RawMessage `json:"entries"`
	}
	decode(t, resp, &journal)
	if len(journal.Entries) != 2 {
		t.Fatalf("journal entries = %d, want 2", len(journal.Entries))
	}
}

func TestWalletErrors(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(t, handler, http.MethodGet, "/wallets/nobody", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("missing wallet: expected 404, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/wallets/alice/mint", map[string]any{
		"amount": -5, "source": "admin_grant",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("negative mint: expected 400, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/wallets/alice/burn", map[string]any{
		"amount": 10, "source": "store_purchase",
	})
	if resp.Code != http.StatusNotFound {
		t.Fatalf("burn from missing wallet: expected 404, got %d", resp.Code)
	}

	// Unknown payload fields are rejected.
	resp = do(t, handler, http.MethodPost, "/wallets/alice/mint", map[string]any{
		"amount": 10, "source": "admin_grant", "surprise": true,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", resp.Code)
	}
}

func TestInsufficientFundsDetail(t *testing.T) {
	handler := newTestHandler(t)

	do(t, handler, http.MethodPost, "/wallets/carol/mint", map[string]any{
		"amount": 30, "source": "admin_grant",
	})
	resp := do(t, handler, http.MethodPost, "/wallets/carol/burn", map[string]any{
		"amount": 50, "source": "store_purchase",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.Code)
	}
	var body struct {
		Kind      string `json:"kind"`
		Balance   int64  `json:"balance"`
		Required  int64  `json:"required"`
		Shortfall int64  `json:"shortfall"`
	}
	decode(t, resp, &body)
	if body.Kind != "insufficient_funds" || body.Shortfall != 20 {
		t.Fatalf("detail %+v", body)
	}
}

func TestSettlementEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(t, handler, http.MethodPost, "/settlements", map[string]any{
		"payee_id": "dave", "gross": 100, "category": "arcade_win",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("settle: expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}
	var st struct {
		ID     string `json:"id"`
		Net    int64  `json:"net"`
		Burned int64  `json:"burned"`
	}
	decode(t, resp, &st)
	if st.Net != 75 || st.Burned != 25 {
		t.Fatalf("split %d/%d, want 75/25", st.Net, st.Burned)
	}

	resp = do(t, handler, http.MethodGet, "/settlements/"+st.ID, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get settlement: expected 200, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/burn/sink", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("sink: expected 200, got %d", resp.Code)
	}
	var sink struct {
		TotalBurned int64 `json:"total_burned"`
	}
	decode(t, resp, &sink)
	if sink.TotalBurned != 25 {
		t.Fatalf("total burned = %d, want 25", sink.TotalBurned)
	}
}

func TestEscrowEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	do(t, handler, http.MethodPost, "/wallets/erin/mint", map[string]any{
		"amount": 100, "source": "admin_grant",
	})

	resp := do(t, handler, http.MethodPost, "/escrows", map[string]any{
		"session_id": "sess-1", "owner_id": "erin", "stake": 40,
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("lock: expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/escrows", map[string]any{
		"session_id": "sess-1", "owner_id": "erin", "stake": 40,
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate lock: expected 409, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/escrows/sess-1/cancel", map[string]any{})
	if resp.Code != http.StatusOK {
		t.Fatalf("cancel: expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/escrows/sess-1/forfeit", map[string]any{})
	if resp.Code != http.StatusConflict {
		t.Fatalf("resolve after cancel: expected 409, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/escrows/sess-1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get escrow: expected 200, got %d", resp.Code)
	}
	var entry struct {
		Status string `json:"status"`
	}
	decode(t, resp, &entry)
	if entry.Status != "cancelled" {
		t.Fatalf("status = %s, want cancelled", entry.Status)
	}
}

func TestFairnessEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	do(t, handler, http.MethodPost, "/wallets/frank/mint", map[string]any{
		"amount": 100, "source": "admin_grant",
	})

	resp := do(t, handler, http.MethodPost, "/fairness/sess-2/commit", map[string]any{
		"client_seed": "lucky",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("commit: expected 201, got %d (%s)", resp.Code, resp.Body.String())
	}
	var commit struct {
		ServerSeedHash string `json:"server_seed_hash"`
		ServerSecret   string `json:"server_secret"`
		Nonce          int64  `json:"nonce"`
	}
	decode(t, resp, &commit)
	if commit.ServerSeedHash == "" || commit.ServerSecret != "" {
		t.Fatalf("commit view leaked or missing fields: %+v", commit)
	}

	// Reveal is refused while the session is unresolved.
	resp = do(t, handler, http.MethodPost, "/fairness/sess-2/reveal", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("early reveal: expected 404, got %d", resp.Code)
	}

	// Resolve the session through escrow, then reveal.
	do(t, handler, http.MethodPost, "/escrows", map[string]any{
		"session_id": "sess-2", "owner_id": "frank", "stake": 20,
	})
	resp = do(t, handler, http.MethodPost, "/escrows/sess-2/forfeit", map[string]any{})
	if resp.Code != http.StatusOK {
		t.Fatalf("forfeit: expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}

	resp = do(t, handler, http.MethodPost, "/fairness/sess-2/reveal", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("reveal: expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var revealed struct {
		ServerSecret   string `json:"server_secret"`
		ServerSeedHash string `json:"server_seed_hash"`
		ClientSeed     string `json:"client_seed"`
		Nonce          int64  `json:"nonce"`
	}
	decode(t, resp, &revealed)
	if revealed.ServerSecret == "" {
		t.Fatal("reveal missing the server secret")
	}

	verifyURL := fmt.Sprintf("/fairness/verify?server_secret=%s&server_seed_hash=%s&client_seed=%s&nonce=%d",
		revealed.ServerSecret, revealed.ServerSeedHash, revealed.ClientSeed, revealed.Nonce)
	resp = do(t, handler, http.MethodGet, verifyURL, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("verify: expected 200, got %d", resp.Code)
	}
	var verdict struct {
		HashMatches bool `json:"hash_matches"`
	}
	decode(t, resp, &verdict)
	if !verdict.HashMatches {
		t.Fatal("verification failed for a genuine reveal")
	}
}

func TestAdminFreezeFlow(t *testing.T) {
	handler := newTestHandler(t)

	resp := do(t, handler, http.MethodPost, "/admin/freeze", map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("freeze without reason: expected 400, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/admin/freeze", map[string]any{"reason": "manual hold"})
	if resp.Code != http.StatusOK {
		t.Fatalf("freeze: expected 200, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodPost, "/wallets/gina/mint", map[string]any{
		"amount": 10, "source": "admin_grant",
	})
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("mint while frozen: expected 503, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/healthz", nil)
	var health struct {
		Status string `json:"status"`
	}
	decode(t, resp, &health)
	if health.Status != "frozen" {
		t.Fatalf("health status = %s, want frozen", health.Status)
	}

	resp = do(t, handler, http.MethodPost, "/admin/unfreeze", map[string]any{"note": "cleared by test operator"})
	if resp.Code != http.StatusOK {
		t.Fatalf("unfreeze: expected 200, got %d", resp.Code)
	}

	resp = do(t, handler, http.MethodGet, "/admin/audit", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit log: expected 200, got %d", resp.Code)
	}
	var audit struct {
		Entries []json.RawMessage `json:"entries"`
	}
	decode(t, resp, &audit)
	if len(audit.Entries) < 2 {
		t.Fatalf("audit entries = %d, want at least the freeze and unfreeze", len(audit.Entries))
	}
}

func TestReconcileEndpoints(t *testing.T) {
	handler := newTestHandler(t)

	do(t, handler, http.MethodPost, "/wallets/henry/mint", map[string]any{
		"amount": 100, "source": "admin_grant",
	})

	resp := do(t, handler, http.MethodPost, "/reconcile/run", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("run audit: expected 200, got %d (%s)", resp.Code, resp.Body.String())
	}
	var snap struct {
		Health   string `json:"health"`
		Variance int64  `json:"variance"`
	}
	decode(t, resp, &snap)
	if snap.Health != "balanced" || snap.Variance != 0 {
		t.Fatalf("snapshot %+v", snap)
	}

	resp = do(t, handler, http.MethodGet, "/reconcile/latest", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("latest: expected 200, got %d", resp.Code)
	}
	resp = do(t, handler, http.MethodGet, "/reconcile/snapshots", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("snapshots: expected 200, got %d", resp.Code)
	}
}

func TestRateLimit(t *testing.T) {
	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Engine.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	handler, err := NewHandler(application, Config{RateLimit: 1, RateBurst: 2})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	limited := false
	for i := 0; i < 5; i++ {
		resp := do(t, handler, http.MethodGet, "/healthz", nil)
		if resp.Code == http.StatusTooManyRequests {
			if resp.Header().Get("Retry-After") == "" {
				t.Fatal("429 without Retry-After")
			}
			limited = true
		}
	}
	if !limited {
		t.Fatal("burst of requests was never rate limited")
	}
}
