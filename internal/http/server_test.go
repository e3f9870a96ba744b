package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"ledger/internal/core"
	"ledger/internal/services"
	"ledger/internal/store/memory"
)

type fakeNotifier struct {
	mu     sync.Mutex
	alerts []core.BudgetAlert
}

func (f *fakeNotifier) NotifyBudgetAlert(_ context.Context, alert core.BudgetAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, alert)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.alerts)
}

type fakeExtractor struct {
	fields   core.ReceiptFields
	err      error
	mimeType string
}

func (f *fakeExtractor) Extract(_ context.Context, _ []byte, mimeType string) (core.ReceiptFields, error) {
	f.mimeType = mimeType
	return f.fields, f.err
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type testServer struct {
	srv      *Server
	store    *memory.Store
	notifier *fakeNotifier
	receipts *fakeExtractor
	resolver *JWTResolver
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.New()
	notifier := &fakeNotifier{}
	receipts := &fakeExtractor{}
	alerter := services.NewBudgetAlerter(store, notifier, nil)
	resolver := NewJWTResolver(testSecret)

	srv := NewServer(":0", Deps{
		Ledger:   services.NewLedgerService(store, alerter, nil),
		Query:    services.NewTransactionQuery(store, nil),
		Accounts: services.NewAccountService(store, store, nil),
		Receipts: receipts,
		Identity: resolver,
		Health:   store,
	}, Options{RateLimitPerMinute: 1000, ReceiptMaxBytes: 1024}, nil)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	return &testServer{srv: srv, store: store, notifier: notifier, receipts: receipts, resolver: resolver}
}

func (ts *testServer) token(t *testing.T, owner string) string {
	t.Helper()
	tok, err := ts.resolver.IssueToken(owner, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, owner, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, owner))
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func (ts *testServer) createAccount(t *testing.T, owner string, balance float64) accountResponse {
	t.Helper()
	rec := ts.do(t, owner, http.MethodPost, "/api/accounts", map[string]any{
		"name": "Main", "type": "CURRENT", "balance": balance,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create account: %d %s", rec.Code, rec.Body.String())
	}
	return decode[accountResponse](t, rec)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := ts.do(t, "", http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rec.Code)
		}
	}

	ts.srv.health = failingPinger{}
	if rec := ts.do(t, "", http.MethodGet, "/readyz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing store status=%d", rec.Code)
	}
}

func TestAPIRequiresAuthentication(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/api/accounts", "/api/transactions", "/api/budget"} {
		rec := ts.do(t, "", http.MethodGet, path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s status=%d, want 401", path, rec.Code)
		}
	}
}

func TestAccountsEndpoints(t *testing.T) {
	ts := newTestServer(t)
	first := ts.createAccount(t, "alice", 100.5)
	if !first.IsDefault || first.Balance != 100.5 {
		t.Fatalf("unexpected first account %+v", first)
	}
	ts.createAccount(t, "alice", 0)

	rec := ts.do(t, "alice", http.MethodGet, "/api/accounts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status=%d", rec.Code)
	}
	if got := decode[[]accountResponse](t, rec); len(got) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(got))
	}

	rec = ts.do(t, "alice", http.MethodGet, "/api/accounts/"+first.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d", rec.Code)
	}

	// Other owners cannot see the account.
	rec = ts.do(t, "bob", http.MethodGet, "/api/accounts/"+first.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign get status=%d, want 404", rec.Code)
	}

	rec = ts.do(t, "alice", http.MethodPost, "/api/accounts", map[string]any{"name": "", "type": "CURRENT"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("invalid account status=%d, want 422", rec.Code)
	}
}

func TestCreateTransactionUpdatesBalance(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.createAccount(t, "alice", 1000)

	rec := ts.do(t, "alice", http.MethodPost, "/api/transactions", map[string]any{
		"accountId":         acc.ID,
		"type":              "EXPENSE",
		"amount":            "50.25",
		"category":          "groceries",
		"date":              "2024-01-31",
		"isRecurring":       true,
		"recurringInterval": "MONTHLY",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rec.Code, rec.Body.String())
	}
	txn := decode[transactionResponse](t, rec)
	if txn.Amount != 50.25 || txn.Status != string(core.StatusCompleted) {
		t.Fatalf("unexpected transaction %+v", txn)
	}
	if txn.NextRecurringDate == nil || *txn.NextRecurringDate != "2024-02-29" {
		t.Fatalf("unexpected next recurring date %v", txn.NextRecurringDate)
	}
	if rec.Header().Get("Location") != "/api/transactions/"+txn.ID {
		t.Errorf("missing Location header")
	}

	rec = ts.do(t, "alice", http.MethodGet, "/api/accounts/"+acc.ID, nil)
	if got := decode[accountResponse](t, rec); got.Balance != 949.75 {
		t.Fatalf("balance = %v, want 949.75", got.Balance)
	}

	rec = ts.do(t, "alice", http.MethodGet, "/api/transactions/"+txn.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status=%d", rec.Code)
	}
}

func TestCreateTransactionErrors(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.createAccount(t, "alice", 0)
	foreign := ts.createAccount(t, "bob", 0)

	valid := func() map[string]any {
		return map[string]any{
			"accountId": acc.ID, "type": "INCOME", "amount": 10,
			"category": "salary", "date": "2024-01-01",
		}
	}

	tests := []struct {
		name   string
		mutate func(m map[string]any)
		raw    string
		want   int
	}{
		{name: "malformed json", raw: `{"amount":`, want: http.StatusBadRequest},
		{name: "zero amount", mutate: func(m map[string]any) { m["amount"] = 0 }, want: http.StatusUnprocessableEntity},
		{name: "negative amount", mutate: func(m map[string]any) { m["amount"] = -5 }, want: http.StatusUnprocessableEntity},
		{name: "bad type", mutate: func(m map[string]any) { m["type"] = "TRANSFER" }, want: http.StatusUnprocessableEntity},
		{name: "missing date", mutate: func(m map[string]any) { delete(m, "date") }, want: http.StatusUnprocessableEntity},
		{name: "recurring without interval", mutate: func(m map[string]any) { m["isRecurring"] = true }, want: http.StatusUnprocessableEntity},
		{name: "unknown account", mutate: func(m map[string]any) { m["accountId"] = "nope" }, want: http.StatusNotFound},
		{name: "foreign account", mutate: func(m map[string]any) { m["accountId"] = foreign.ID }, want: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any = tt.raw
			if tt.raw == "" {
				m := valid()
				tt.mutate(m)
				body = m
			}
			rec := ts.do(t, "alice", http.MethodPost, "/api/transactions", body)
			if rec.Code != tt.want {
				t.Fatalf("status=%d, want %d (body=%s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec := ts.do(t, "alice", http.MethodGet, "/api/accounts/"+acc.ID, nil)
	if got := decode[accountResponse](t, rec); got.Balance != 0 {
		t.Fatalf("failed creates must not move the balance, got %v", got.Balance)
	}
}

func TestUpdateTransaction(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.createAccount(t, "alice", 100)

	rec := ts.do(t, "alice", http.MethodPost, "/api/transactions", map[string]any{
		"accountId": acc.ID, "type": "EXPENSE", "amount": 30, "category": "food", "date": "2024-02-10",
	})
	txn := decode[transactionResponse](t, rec)

	rec = ts.do(t, "alice", http.MethodPut, "/api/transactions/"+txn.ID, map[string]any{
		"type": "INCOME", "amount": 20, "category": "refund", "date": "2024-02-11",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", rec.Code, rec.Body.String())
	}
	updated := decode[transactionResponse](t, rec)
	if updated.AccountID != acc.ID || updated.Type != "INCOME" {
		t.Fatalf("unexpected update %+v", updated)
	}

	// 100 - 30 reversed, + 20
	rec = ts.do(t, "alice", http.MethodGet, "/api/accounts/"+acc.ID, nil)
	if got := decode[accountResponse](t, rec); got.Balance != 120 {
		t.Fatalf("balance = %v, want 120", got.Balance)
	}

	rec = ts.do(t, "bob", http.MethodPut, "/api/transactions/"+txn.ID, map[string]any{
		"type": "INCOME", "amount": 20, "category": "refund", "date": "2024-02-11",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign update status=%d, want 404", rec.Code)
	}
}

func TestListTransactionsOrderingAndFilters(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.createAccount(t, "alice", 0)

	for _, tc := range []struct{ typ, date, category string }{
		{"EXPENSE", "2024-01-01", "a"},
		{"INCOME", "2024-01-03", "b"},
		{"EXPENSE", "2024-01-03", "c"},
		{"EXPENSE", "2024-01-02", "d"},
	} {
		rec := ts.do(t, "alice", http.MethodPost, "/api/transactions", map[string]any{
			"accountId": acc.ID, "type": tc.typ, "amount": 1, "category": tc.category, "date": tc.date,
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("create: %d %s", rec.Code, rec.Body.String())
		}
	}

	rec := ts.do(t, "alice", http.MethodGet, "/api/transactions", nil)
	items := decode[[]transactionResponse](t, rec)
	var order string
	for _, it := range items {
		order += it.Category
		if it.Account == nil || it.Account.ID != acc.ID {
			t.Fatalf("missing joined account on %+v", it)
		}
	}
	if order != "cbda" {
		t.Fatalf("order = %q, want cbda", order)
	}

	rec = ts.do(t, "alice", http.MethodGet, "/api/transactions?type=expense&from=2024-01-02&to=2024-01-03", nil)
	if got := decode[[]transactionResponse](t, rec); len(got) != 2 {
		t.Fatalf("filtered count = %d, want 2", len(got))
	}

	rec = ts.do(t, "alice", http.MethodGet, "/api/transactions?from=2024-02-01&to=2024-01-01", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("inverted range status=%d, want 422", rec.Code)
	}

	rec = ts.do(t, "bob", http.MethodGet, "/api/transactions", nil)
	if got := decode[[]transactionResponse](t, rec); len(got) != 0 {
		t.Fatalf("bob should see nothing, got %d", len(got))
	}
}

func TestBudgetEndpointsAndAlert(t *testing.T) {
	ts := newTestServer(t)
	acc := ts.createAccount(t, "alice", 0)

	if rec := ts.do(t, "alice", http.MethodGet, "/api/budget", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("missing budget status=%d, want 404", rec.Code)
	}

	rec := ts.do(t, "alice", http.MethodPut, "/api/budget", map[string]any{"amount": 100})
	if rec.Code != http.StatusOK {
		t.Fatalf("set budget status=%d body=%s", rec.Code, rec.Body.String())
	}

	today := time.Now().UTC().Format(core.DateLayout)
	rec = ts.do(t, "alice", http.MethodPost, "/api/transactions", map[string]any{
		"accountId": acc.ID, "type": "EXPENSE", "amount": 80, "category": "food", "date": today,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status=%d", rec.Code)
	}
	if ts.notifier.count() != 1 {
		t.Fatalf("expected one alert, got %d", ts.notifier.count())
	}

	rec = ts.do(t, "alice", http.MethodGet, "/api/budget", nil)
	budget := decode[budgetResponse](t, rec)
	if budget.Amount != 100 || budget.CurrentExpenses == nil || *budget.CurrentExpenses != 80 {
		t.Fatalf("unexpected budget %+v", budget)
	}
	if budget.PercentageUsed == nil || *budget.PercentageUsed != 80 {
		t.Fatalf("unexpected percentage %v", budget.PercentageUsed)
	}
	if budget.LastAlertPercentage == nil || *budget.LastAlertPercentage != 75 {
		t.Fatalf("unexpected last alert percentage %v", budget.LastAlertPercentage)
	}

	rec = ts.do(t, "alice", http.MethodPut, "/api/budget", map[string]any{"amount": -1})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("negative budget status=%d, want 422", rec.Code)
	}
}

func multipartReceipt(t *testing.T, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="receipt"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) scan(t *testing.T, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartReceipt(t, contentType, data)
	req := httptest.NewRequest(http.MethodPost, "/api/receipts/scan", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+ts.token(t, "alice"))
	rec := httptest.NewRecorder()
	ts.srv.Handler.ServeHTTP(rec, req)
	return rec
}

func TestScanReceipt(t *testing.T) {
	ts := newTestServer(t)
	ts.receipts.fields = core.ReceiptFields{
		Amount:       core.Money{Cents: 1999},
		Date:         time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC),
		MerchantName: "Corner Shop",
		Category:     "groceries",
	}

	rec := ts.scan(t, "image/png", []byte("\x89PNG\r\n\x1a\nfake"))
	if rec.Code != http.StatusOK {
		t.Fatalf("scan status=%d body=%s", rec.Code, rec.Body.String())
	}
	got := decode[receiptResponse](t, rec)
	if !got.Recognized || got.Amount == nil || *got.Amount != 19.99 || got.Date != "2024-05-02" {
		t.Fatalf("unexpected receipt %+v", got)
	}
	if ts.receipts.mimeType != "image/png" {
		t.Errorf("mime type = %q", ts.receipts.mimeType)
	}
}

func TestScanReceiptErrors(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.scan(t, "text/plain", []byte("hello")); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("non-image status=%d, want 422", rec.Code)
	}
	if rec := ts.scan(t, "image/jpeg", bytes.Repeat([]byte{0xff}, 2048)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized status=%d, want 413", rec.Code)
	}

	ts.receipts.err = errors.New("model down")
	if rec := ts.scan(t, "image/jpeg", []byte{0xff, 0xd8, 0xff}); rec.Code != http.StatusBadGateway {
		t.Errorf("extractor failure status=%d, want 502", rec.Code)
	}

	ts.srv.receipts = nil
	if rec := ts.scan(t, "image/jpeg", []byte{0xff, 0xd8, 0xff}); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("disabled scanning status=%d, want 503", rec.Code)
	}
}

func TestScanReceipt_NotAReceipt(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.scan(t, "image/jpeg", []byte{0xff, 0xd8, 0xff})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	if got := decode[receiptResponse](t, rec); got.Recognized {
		t.Fatalf("empty fields should not be recognized: %+v", got)
	}
}

func TestUnknownRouteIsJSON404(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, "alice", http.MethodGet, "/nope", nil)
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "error") {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}
