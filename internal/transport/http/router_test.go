package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/app"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/clock"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/lib/logger/sl"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/pix"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/storage/memory"
)

var errBoom = errors.New("boom")

type testAPI struct {
	t       *testing.T
	handler http.Handler
	clock   *clock.Manual
}

// newTestAPI wires the real services over the memory store. Every main spin wins
// two numbers so spin outcomes are deterministic.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := memory.New()
	clk := clock.NewManual(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	alloc := app.NewAllocator(store, app.WithAllocatorRandom(app.NewRandom(3)))
	bonus := app.NewLedger(store, alloc, clk)
	engine := app.NewRewardEngine(store, bonus, clk,
		[]domain.WeightedPrize{{Prize: domain.Prize{Kind: domain.PrizeFixed, Amount: 2}, Weight: 1}},
		[]domain.WeightedPrize{{Prize: domain.Prize{Kind: domain.PrizeNothing}, Weight: 1}},
		app.WithRewardRandom(app.NewRandom(5)),
	)
	ledger := app.NewLedger(store, alloc, clk, app.WithApprovalSpins(engine, 1))

	handler := NewRouter(sl.Discard(), Services{
		Admin:    app.NewAdminService(store, clk),
		Ledger:   ledger,
		Payments: app.NewPaymentService(store),
		Spins:    engine,
		Draws:    app.NewDrawService(store, clk, app.NewRandom(11)),
	}, []string{"http://localhost:5173"})

	return &testAPI{t: t, handler: handler, clock: clk}
}

func (a *testAPI) do(method, path, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	expectStatus(t, rec, status)
	resp := decodeBody[errorResponse](t, rec)
	if resp.Code != code {
		t.Fatalf("expected error code %s, got %s (%s)", code, resp.Code, resp.Error)
	}
	return resp
}

func (a *testAPI) createRaffle(total int) raffleResponse {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/admin/raffles", `{
		"title": "Moto 0km",
		"total_numbers": `+itoa(total)+`,
		"price_cents": 500,
		"pix_key": "11999999999",
		"pix_beneficiary_name": "Joao Silva",
		"status": "active"
	}`)
	expectStatus(a.t, rec, http.StatusCreated)
	return decodeBody[raffleResponse](a.t, rec)
}

func (a *testAPI) buy(raffleID, body string) purchaseResponse {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/raffles/"+raffleID+"/purchases", body)
	expectStatus(a.t, rec, http.StatusCreated)
	return decodeBody[purchaseResponse](a.t, rec)
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestRouter_PurchaseLifecycle(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	raffle := api.createRaffle(50)

	purchase := api.buy(raffle.ID, `{"buyer":{"name":"Ana","email":"ana@example.com"},"numbers":[3,1,2]}`)
	if purchase.Status != string(domain.PaymentPending) || purchase.Quantity != 3 {
		t.Fatalf("unexpected purchase %+v", purchase)
	}
	if purchase.TotalCents != 1500 {
		t.Fatalf("expected total 1500, got %d", purchase.TotalCents)
	}

	t.Run("numbers taken by another buyer", func(t *testing.T) {
		rec := api.do(http.MethodPost, "/raffles/"+raffle.ID+"/purchases",
			`{"buyer":{"name":"Bia","phone":"(11) 98888-7777"},"numbers":[2,9]}`)
		resp := expectError(t, rec, http.StatusConflict, codeNumbersTaken)
		if len(resp.Numbers) != 1 || resp.Numbers[0] != 2 {
			t.Fatalf("expected taken number 2, got %v", resp.Numbers)
		}
	})

	t.Run("pix code", func(t *testing.T) {
		rec := api.do(http.MethodGet, "/purchases/"+purchase.ID+"/pix", "")
		expectStatus(t, rec, http.StatusOK)
		code := decodeBody[pixResponse](t, rec)
		if !pix.Verify(code.Payload) {
			t.Fatalf("payload checksum does not verify: %s", code.Payload)
		}
		if code.AmountCents != 1500 || code.QRCodePNG == "" {
			t.Fatalf("unexpected pix response %+v", code)
		}
	})

	rec := api.do(http.MethodPost, "/admin/purchases/"+purchase.ID+"/approve", `{"approver_id":"op-1"}`)
	expectStatus(t, rec, http.StatusOK)
	if approved := decodeBody[purchaseResponse](t, rec); approved.Status != string(domain.PaymentApproved) {
		t.Fatalf("expected approved, got %s", approved.Status)
	}

	rec = api.do(http.MethodPost, "/admin/purchases/"+purchase.ID+"/reject", "")
	expectError(t, rec, http.StatusConflict, codeInvalidStateTransition)

	rec = api.do(http.MethodGet, "/raffles/"+raffle.ID, "")
	expectStatus(t, rec, http.StatusOK)
	got := decodeBody[raffleResponse](t, rec)
	if got.Stats == nil || got.Stats.Confirmed != 3 || got.Stats.Available != 47 || got.Stats.Reserved != 0 {
		t.Fatalf("unexpected stats %+v", got.Stats)
	}

	rec = api.do(http.MethodGet, "/purchases/"+purchase.ID, "")
	expectStatus(t, rec, http.StatusOK)
	if res := decodeBody[purchaseResponse](t, rec); len(res.Numbers) != 3 {
		t.Fatalf("expected 3 numbers, got %v", res.Numbers)
	}

	rec = api.do(http.MethodGet, "/admin/raffles/"+raffle.ID+"/purchases?status=approved", "")
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[[]purchaseResponse](t, rec); len(list) != 1 {
		t.Fatalf("expected 1 approved purchase, got %d", len(list))
	}

	rec = api.do(http.MethodGet, "/admin/raffles/"+raffle.ID+"/purchases?status=paid", "")
	expectError(t, rec, http.StatusBadRequest, codeValidationFailed)
}

func TestRouter_RandomPurchaseAndRelease(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	raffle := api.createRaffle(20)

	purchase := api.buy(raffle.ID, `{"buyer":{"name":"Caio","email":"caio@example.com"},"quantity":5}`)
	if len(purchase.Numbers) != 5 {
		t.Fatalf("expected 5 numbers, got %v", purchase.Numbers)
	}

	rec := api.do(http.MethodPost, "/purchases/"+purchase.ID+"/release", "")
	expectStatus(t, rec, http.StatusOK)
	if released := decodeBody[purchaseResponse](t, rec); released.Status != string(domain.PaymentExpired) {
		t.Fatalf("expected expired, got %s", released.Status)
	}

	rec = api.do(http.MethodGet, "/raffles/"+raffle.ID, "")
	if got := decodeBody[raffleResponse](t, rec); got.Stats.Available != 20 {
		t.Fatalf("expected all numbers free, got %+v", got.Stats)
	}

	rec = api.do(http.MethodPost, "/raffles/"+raffle.ID+"/purchases",
		`{"buyer":{"name":"Caio","email":"caio@example.com"},"quantity":21}`)
	expectError(t, rec, http.StatusConflict, codeInsufficientAvailability)
}

func TestRouter_ExpirySweep(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	raffle := api.createRaffle(10)
	api.buy(raffle.ID, `{"buyer":{"name":"Duda","email":"duda@example.com"},"numbers":[4,5]}`)

	rec := api.do(http.MethodPost, "/admin/sweep", "")
	expectStatus(t, rec, http.StatusOK)
	if res := decodeBody[sweepResponse](t, rec); res.Expired != 0 {
		t.Fatalf("expected nothing due yet, got %+v", res)
	}

	api.clock.Advance(time.Hour)
	rec = api.do(http.MethodPost, "/admin/sweep", "")
	expectStatus(t, rec, http.StatusOK)
	if res := decodeBody[sweepResponse](t, rec); res.Expired != 1 || res.Released != 2 {
		t.Fatalf("expected one purchase with 2 numbers released, got %+v", res)
	}
}

func TestRouter_SpinsAndDraw(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	raffle := api.createRaffle(30)
	purchase := api.buy(raffle.ID, `{"buyer":{"name":"Eva","email":"eva@example.com"},"quantity":4}`)

	rec := api.do(http.MethodPost, "/admin/purchases/"+purchase.ID+"/approve", `{"approver_id":"op-1"}`)
	expectStatus(t, rec, http.StatusOK)

	rec = api.do(http.MethodGet, "/raffles/"+raffle.ID+"/spins?email=EVA@example.com", "")
	expectStatus(t, rec, http.StatusOK)
	if status := decodeBody[spinStatusResponse](t, rec); status.Balance.Remaining != 1 {
		t.Fatalf("expected 1 spin after approval, got %+v", status.Balance)
	}

	rec = api.do(http.MethodPost, "/raffles/"+raffle.ID+"/spin", `{"name":"Eva","email":"eva@example.com"}`)
	expectStatus(t, rec, http.StatusOK)
	spin := decodeBody[spinResponse](t, rec)
	if spin.Prize.Kind != domain.PrizeFixed || len(spin.GrantedNumbers) != 2 {
		t.Fatalf("unexpected spin result %+v", spin)
	}

	rec = api.do(http.MethodPost, "/raffles/"+raffle.ID+"/spin", `{"name":"Eva","email":"eva@example.com"}`)
	expectError(t, rec, http.StatusConflict, codeSpinQuotaExceeded)

	rec = api.do(http.MethodPost, "/raffles/"+raffle.ID+"/spin", `{"name":"Eva","email":"eva@example.com","type":"retry"}`)
	expectError(t, rec, http.StatusConflict, codeNoRetryCredit)

	rec = api.do(http.MethodPost, "/admin/raffles/"+raffle.ID+"/spins", `{"email":"eva@example.com","spins":2}`)
	expectStatus(t, rec, http.StatusOK)
	if balance := decodeBody[balanceResponse](t, rec); balance.TotalSpins != 3 || balance.Remaining != 2 {
		t.Fatalf("unexpected balance %+v", balance)
	}

	rec = api.do(http.MethodGet, "/raffles/"+raffle.ID+"/spins?email=eva@example.com", "")
	if status := decodeBody[spinStatusResponse](t, rec); len(status.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(status.History))
	}

	rec = api.do(http.MethodPost, "/admin/raffles/"+raffle.ID+"/draw", `{"kind":"top_buyer"}`)
	expectStatus(t, rec, http.StatusOK)
	if w := decodeBody[winnerResponse](t, rec); w.Name != "Eva" || w.Number < 1 || w.Number > 30 {
		t.Fatalf("unexpected top buyer winner %+v", w)
	}

	rec = api.do(http.MethodPost, "/admin/raffles/"+raffle.ID+"/draw", `{"kind":"main"}`)
	expectStatus(t, rec, http.StatusOK)

	rec = api.do(http.MethodPost, "/admin/raffles/"+raffle.ID+"/draw", `{"kind":"main"}`)
	expectError(t, rec, http.StatusConflict, codeInvalidStateTransition)

	rec = api.do(http.MethodGet, "/raffles/"+raffle.ID, "")
	got := decodeBody[raffleResponse](t, rec)
	if got.Status != string(domain.RaffleStatusCompleted) || got.MainWinner == nil || got.TopBuyerWinner == nil {
		t.Fatalf("expected completed raffle with winners, got %+v", got)
	}
}

func TestRouter_Validation(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	raffle := api.createRaffle(10)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"malformed json", http.MethodPost, "/raffles/" + raffle.ID + "/purchases", `{"buyer":`, http.StatusBadRequest, codeInvalidRequestBody},
		{"missing buyer name", http.MethodPost, "/raffles/" + raffle.ID + "/purchases", `{"buyer":{"email":"x@example.com"},"quantity":1}`, http.StatusBadRequest, codeValidationFailed},
		{"missing contact", http.MethodPost, "/raffles/" + raffle.ID + "/purchases", `{"buyer":{"name":"X"},"quantity":1}`, http.StatusBadRequest, codeBuyerRequired},
		{"number out of range", http.MethodPost, "/raffles/" + raffle.ID + "/purchases", `{"buyer":{"name":"X","email":"x@example.com"},"numbers":[11]}`, http.StatusBadRequest, codeInvalidNumber},
		{"unknown raffle", http.MethodPost, "/raffles/missing/purchases", `{"buyer":{"name":"X","email":"x@example.com"},"quantity":1}`, http.StatusNotFound, codeRaffleNotFound},
		{"unknown purchase", http.MethodGet, "/purchases/missing", "", http.StatusNotFound, codePurchaseNotFound},
		{"approve without approver", http.MethodPost, "/admin/purchases/missing/approve", `{}`, http.StatusBadRequest, codeValidationFailed},
		{"bad draw kind", http.MethodPost, "/admin/raffles/" + raffle.ID + "/draw", `{"kind":"third"}`, http.StatusBadRequest, codeValidationFailed},
		{"draw without entries", http.MethodPost, "/admin/raffles/" + raffle.ID + "/draw", `{"kind":"main"}`, http.StatusConflict, codeNoConfirmedNumbers},
		{"bad raffle status", http.MethodPatch, "/admin/raffles/" + raffle.ID + "/status", `{"status":"draft"}`, http.StatusConflict, codeInvalidStateTransition},
		{"invalid raffle", http.MethodPost, "/admin/raffles", `{"title":"X","total_numbers":0,"price_cents":1}`, http.StatusBadRequest, codeValidationFailed},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, codeNotFound},
		{"wrong method", http.MethodDelete, "/admin/raffles", "", http.StatusMethodNotAllowed, codeMethodNotAllowed},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.body)
			expectError(t, rec, tt.status, tt.code)
		})
	}
}

func TestRouter_AdminRaffles(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rec := api.do(http.MethodPost, "/admin/raffles", `{"title":"Draft raffle","total_numbers":100,"price_cents":200}`)
	expectStatus(t, rec, http.StatusCreated)
	draft := decodeBody[raffleResponse](t, rec)
	if draft.Status != string(domain.RaffleStatusDraft) || draft.PixConfigured {
		t.Fatalf("unexpected raffle %+v", draft)
	}

	rec = api.do(http.MethodPost, "/raffles/"+draft.ID+"/purchases", `{"buyer":{"name":"X","email":"x@example.com"},"quantity":1}`)
	expectError(t, rec, http.StatusConflict, codeRaffleNotActive)

	rec = api.do(http.MethodPatch, "/admin/raffles/"+draft.ID+"/status", `{"status":"active"}`)
	expectStatus(t, rec, http.StatusOK)

	purchase := api.buy(draft.ID, `{"buyer":{"name":"X","email":"x@example.com"},"quantity":1}`)
	rec = api.do(http.MethodGet, "/purchases/"+purchase.ID+"/pix", "")
	expectError(t, rec, http.StatusConflict, codePixNotConfigured)

	rec = api.do(http.MethodGet, "/admin/raffles", "")
	expectStatus(t, rec, http.StatusOK)
	if list := decodeBody[[]raffleResponse](t, rec); len(list) != 1 {
		t.Fatalf("expected 1 raffle, got %d", len(list))
	}
}

func TestRouter_HealthAndRequestID(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/health", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}
