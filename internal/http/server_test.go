package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cutpro/internal/core"
	"cutpro/internal/ledger/memory"
	"cutpro/internal/services"
)

const testOwner = "11111111-2222-4333-8444-555555555555"

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	store := memory.New(core.Categories)
	if opts.Categories == nil {
		opts.Categories = store
	}
	srv := NewServer(":0", services.NewProgressionService(store, nil), opts)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.AddCookie(&http.Cookie{Name: defaultIdentityCookie, Value: testOwner})
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func summary(t *testing.T, srv *Server) summaryJSON {
	t.Helper()
	rr := do(t, srv, http.MethodGet, "/api/summary", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("summary status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out summaryJSON
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return out
}

func TestIndexAndHealth(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodGet, "/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("index status=%d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"Nova transação", "Moradia", `hx-get="/ui/overview"`} {
		if !strings.Contains(body, want) {
			t.Errorf("index body missing %q", want)
		}
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" || rr.Header().Get("X-Request-ID") == "" {
		t.Errorf("middleware headers missing: %v", rr.Header())
	}

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/static/style.css"} {
		rr := do(t, srv, http.MethodGet, path, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s status=%d", path, rr.Code)
		}
	}

	if rr := do(t, srv, http.MethodGet, "/nope", nil); rr.Code != http.StatusNotFound {
		t.Errorf("unknown path status=%d, want 404", rr.Code)
	}
}

func TestReadyReportsBackendFailure(t *testing.T) {
	srv := newTestServer(t, Options{Ready: func(context.Context) error { return errors.New("db closed") }})
	rr := do(t, srv, http.MethodGet, "/readyz", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status=%d, want 503", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "db closed") {
		t.Errorf("readyz body = %s", rr.Body.String())
	}
}

func TestRecordTransactionFlow(t *testing.T) {
	srv := newTestServer(t, Options{})

	rr := do(t, srv, http.MethodPost, "/transactions", url.Values{
		"kind": {"income"}, "amount": {"100"}, "category": {"Salário"}, "description": {"Pagamento"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "R$ 100,00") {
		t.Errorf("body = %s", rr.Body.String())
	}
	triggers := decodeTriggers(t, rr)
	for _, name := range []string{"transaction:recorded", "overview:refresh", "form:reset", "show-notification", "achievement:unlocked"} {
		if _, ok := triggers[name]; !ok {
			t.Errorf("missing trigger %q", name)
		}
	}

	got := summary(t, srv)
	if got.TotalIncomeCents != 10000 || got.BalanceCents != 10000 || got.XP != 10 || got.Level != 1 || got.Achievements != 1 {
		t.Fatalf("summary after first income = %+v", got)
	}

	for _, amount := range []string{"50", "30"} {
		rr := do(t, srv, http.MethodPost, "/transactions", url.Values{"kind": {"expense"}, "amount": {amount}, "category": {"Alimentação"}})
		if rr.Code != http.StatusOK {
			t.Fatalf("expense status=%d", rr.Code)
		}
		if _, ok := decodeTriggers(t, rr)["achievement:unlocked"]; ok {
			t.Error("only the first transaction unlocks an achievement")
		}
	}

	got = summary(t, srv)
	if got.TotalExpensesCents != 8000 || got.BalanceCents != 12000 || got.XP != 10 {
		t.Fatalf("summary = %+v", got)
	}
	if len(got.ExpensesByCategory) != 1 || got.ExpensesByCategory[0].AmountCents != 8000 {
		t.Errorf("by category = %+v", got.ExpensesByCategory)
	}

	list := do(t, srv, http.MethodGet, "/ui/transactions", nil).Body.String()
	if strings.Index(list, "Pagamento") < strings.Index(list, "Alimentação") {
		t.Errorf("transactions should list most recent first:\n%s", list)
	}
}

func TestRecordTransactionStampsCurrentTime(t *testing.T) {
	store := memory.New(core.Categories)
	srv := NewServer(":0", services.NewProgressionService(store, nil), Options{Categories: store})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	if body := do(t, srv, http.MethodGet, "/", nil).Body.String(); strings.Contains(body, `name="occurred_at" value=`) {
		t.Error("the date field must not be prefilled")
	}

	before := time.Now().UTC()
	for _, date := range []string{"", before.Format(dateLayout)} {
		rr := do(t, srv, http.MethodPost, "/transactions", url.Values{
			"kind": {"income"}, "amount": {"10"}, "category": {"Salário"}, "occurred_at": {date},
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("date %q: status=%d body=%s", date, rr.Code, rr.Body.String())
		}
	}
	after := time.Now().UTC()

	txs, err := store.ListTransactionsByOwner(context.Background(), testOwner)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 2 {
		t.Fatalf("stored %d transactions, want 2", len(txs))
	}
	for _, tx := range txs {
		if tx.OccurredAt.Before(before) || tx.OccurredAt.After(after) {
			t.Errorf("OccurredAt = %v, want within [%v, %v]", tx.OccurredAt, before, after)
		}
	}
}

func TestRecordTransactionValidation(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name string
		form url.Values
	}{
		{"non numeric amount", url.Values{"kind": {"expense"}, "amount": {"abc"}, "category": {"Lazer"}}},
		{"zero amount", url.Values{"kind": {"expense"}, "amount": {"0"}, "category": {"Lazer"}}},
		{"missing category", url.Values{"kind": {"expense"}, "amount": {"5"}}},
		{"bad kind", url.Values{"kind": {"loan"}, "amount": {"5"}, "category": {"Lazer"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/transactions", tt.form)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status=%d, want 422", rr.Code)
			}
			if !strings.Contains(rr.Header().Get("HX-Trigger"), `"type":"error"`) {
				t.Errorf("missing error notification: %s", rr.Header().Get("HX-Trigger"))
			}
		})
	}

	if got := summary(t, srv); got.Transactions != 0 || got.XP != 0 {
		t.Errorf("rejected input must not persist anything: %+v", got)
	}

	if rr := do(t, srv, http.MethodGet, "/transactions", nil); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /transactions status=%d, want 405", rr.Code)
	}
}

func TestCreateGoalFlow(t *testing.T) {
	srv := newTestServer(t, Options{})

	first := do(t, srv, http.MethodPost, "/goals", url.Values{"name": {"Viagem"}, "target": {"500"}})
	if first.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", first.Code, first.Body.String())
	}
	if _, ok := decodeTriggers(t, first)["achievement:unlocked"]; !ok {
		t.Error("first goal should unlock Planejador")
	}

	second := do(t, srv, http.MethodPost, "/goals", url.Values{"name": {"Carro"}, "target": {"1000"}, "deadline": {"2027-01-31"}})
	if _, ok := decodeTriggers(t, second)["achievement:unlocked"]; ok {
		t.Error("second goal must not unlock anything")
	}

	if got := summary(t, srv); got.XP != 25 || got.Goals != 2 || got.Achievements != 1 {
		t.Fatalf("summary = %+v", got)
	}

	goals := do(t, srv, http.MethodGet, "/ui/goals", nil).Body.String()
	for _, want := range []string{"Viagem", "Carro", "0,0%", "R$ 1.000,00", "31/01/2027"} {
		if !strings.Contains(goals, want) {
			t.Errorf("goals partial missing %q:\n%s", want, goals)
		}
	}

	if rr := do(t, srv, http.MethodPost, "/goals", url.Values{"name": {"Nada"}, "target": {"0"}}); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("zero target status=%d, want 422", rr.Code)
	}
}

func TestPartialsRender(t *testing.T) {
	srv := newTestServer(t, Options{})
	do(t, srv, http.MethodPost, "/transactions", url.Values{"kind": {"expense"}, "amount": {"1234.5"}, "category": {"Moradia"}})

	overview := do(t, srv, http.MethodGet, "/ui/overview", nil).Body.String()
	for _, want := range []string{"Nível 1", "-R$ 1.234,50", "Moradia", "20%"} {
		if !strings.Contains(overview, want) {
			t.Errorf("overview missing %q:\n%s", want, overview)
		}
	}

	achievements := do(t, srv, http.MethodGet, "/ui/achievements", nil).Body.String()
	if !strings.Contains(achievements, "Primeiro Passo") || !strings.Contains(achievements, "unlocked") || !strings.Contains(achievements, "locked") {
		t.Errorf("achievements partial:\n%s", achievements)
	}
}

func TestIdentityResolution(t *testing.T) {
	srv := newTestServer(t, Options{AuthHeader: "X-Auth-User"})

	// No cookie: a pseudo-identity is generated and persisted.
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/summary", nil))
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != defaultIdentityCookie || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}
	if _, ok := core.AnonymousIdentity(cookies[0].Value); !ok {
		t.Errorf("cookie value %q is not a uuid", cookies[0].Value)
	}

	// A forged, non-uuid cookie is replaced.
	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.AddCookie(&http.Cookie{Name: defaultIdentityCookie, Value: "someone-else"})
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if len(rr.Result().Cookies()) != 1 {
		t.Error("invalid cookie should be replaced")
	}

	// The authenticated header wins and sets no cookie.
	req = httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.Header.Set("X-Auth-User", "user-42")
	rr = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	var out summaryJSON
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out.OwnerID != "user-42" || out.Anonymous {
		t.Errorf("summary identity = %q anonymous=%v", out.OwnerID, out.Anonymous)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Error("authenticated requests must not receive an identity cookie")
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	srv := newTestServer(t, Options{})
	do(t, srv, http.MethodPost, "/transactions", url.Values{"kind": {"income"}, "amount": {"10"}, "category": {"Outros"}})

	req := httptest.NewRequest(http.MethodGet, "/api/summary", nil)
	req.AddCookie(&http.Cookie{Name: defaultIdentityCookie, Value: "99999999-2222-4333-8444-555555555555"})
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	var out summaryJSON
	_ = json.Unmarshal(rr.Body.Bytes(), &out)
	if out.Transactions != 0 || out.BalanceCents != 0 {
		t.Errorf("other owner sees data: %+v", out)
	}
}

func TestJSONMutation(t *testing.T) {
	srv := newTestServer(t, Options{})
	req := httptest.NewRequest(http.MethodPost, "/transactions",
		strings.NewReader(`{"kind":"income","amount":"250,75","category":"Freelance"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: defaultIdentityCookie, Value: testOwner})
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var out struct {
		Balance  int64    `json:"balance"`
		Unlocked []string `json:"unlocked"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Balance != 25075 || len(out.Unlocked) != 1 || out.Unlocked[0] != core.FirstStep.Title {
		t.Errorf("response = %+v", out)
	}
}

func TestRateLimitAppliesToPOSTOnly(t *testing.T) {
	srv := newTestServer(t, Options{RateLimitPerMinute: 2})
	form := url.Values{"kind": {"income"}, "amount": {"1"}, "category": {"Outros"}}

	for i := 0; i < 2; i++ {
		if rr := do(t, srv, http.MethodPost, "/transactions", form); rr.Code != http.StatusOK {
			t.Fatalf("request %d status=%d", i, rr.Code)
		}
	}
	rr := do(t, srv, http.MethodPost, "/transactions", form)
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("third POST status=%d retry=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
	for i := 0; i < 5; i++ {
		if rr := do(t, srv, http.MethodGet, "/api/summary", nil); rr.Code != http.StatusOK {
			t.Fatalf("GET limited: status=%d", rr.Code)
		}
	}

	metrics := do(t, srv, http.MethodGet, "/metrics", nil).Body.String()
	for _, want := range []string{"rate_limit_hits_total 1", "transactions_recorded_total 2", "achievements_unlocked_total 1"} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %q:\n%s", want, metrics)
		}
	}
}

func TestSummaryCacheInvalidatedOnMutation(t *testing.T) {
	srv := newTestServer(t, Options{})
	if got := summary(t, srv); got.Transactions != 0 {
		t.Fatalf("fresh owner: %+v", got)
	}
	summary(t, srv)
	if stats := srv.summaries.Stats(); stats.Hits != 1 {
		t.Errorf("second read should hit the cache: %+v", stats)
	}

	do(t, srv, http.MethodPost, "/transactions", url.Values{"kind": {"income"}, "amount": {"5"}, "category": {"Outros"}})
	if got := summary(t, srv); got.Transactions != 1 {
		t.Errorf("stale summary after mutation: %+v", got)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t, Options{})
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

// pausingStore holds the first transaction listing after it has read, so a
// summary load can be overtaken by a mutation.
type pausingStore struct {
	*memory.Store
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (p *pausingStore) ListTransactionsByOwner(ctx context.Context, ownerID string) ([]core.Transaction, error) {
	txs, err := p.Store.ListTransactionsByOwner(ctx, ownerID)
	if p.armed.CompareAndSwap(true, false) {
		close(p.read)
		<-p.release
	}
	return txs, err
}

func TestSummaryLoadedBeforeMutationIsNotCached(t *testing.T) {
	store := &pausingStore{Store: memory.New(core.Categories), read: make(chan struct{}), release: make(chan struct{})}
	srv := NewServer(":0", services.NewProgressionService(store, nil), Options{Categories: store})
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	store.armed.Store(true)
	loaded := make(chan summaryJSON, 1)
	go func() {
		rr := do(t, srv, http.MethodGet, "/api/summary", nil)
		var out summaryJSON
		_ = json.Unmarshal(rr.Body.Bytes(), &out)
		loaded <- out
	}()
	<-store.read

	rr := do(t, srv, http.MethodPost, "/transactions", url.Values{"kind": {"income"}, "amount": {"100"}, "category": {"Salário"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	close(store.release)
	if stale := <-loaded; stale.TotalIncomeCents != 0 {
		t.Fatalf("first load should predate the mutation, got %+v", stale)
	}

	if got := summary(t, srv); got.TotalIncomeCents != 10000 || got.Achievements != 1 {
		t.Fatalf("summary after mutation = %+v", got)
	}
}
