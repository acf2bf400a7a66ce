package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucetdb"
	"github.com/Klingon-tech/klingnet-faucet/internal/metrics"
	"github.com/Klingon-tech/klingnet-faucet/internal/storage"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

const testSecret = "open-sesame"

var testTxID = strings.Repeat("ab", 32)

// fakeFaucet scripts controller answers.
type fakeFaucet struct {
	mu           sync.Mutex
	sendErr      error
	rebalanceErr error
	baseSent     bool // rebalanceErr comes after the base split
	sends        []string
	rebalances   int
}

func (f *fakeFaucet) HandleSend(_ context.Context, dest string) (*faucet.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, dest)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &faucet.SendResult{TxID: testTxID, Spender: types.Address{1}, Index: 0, ChainLength: 1}, nil
}

func (f *fakeFaucet) HandleAdminRebalance(_ context.Context, secret string) (*faucet.RebalanceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if secret != testSecret {
		return nil, faucet.ErrUnauthorized
	}
	f.rebalances++
	if f.rebalanceErr != nil {
		if f.baseSent {
			return &faucet.RebalanceResult{BaseTxID: testTxID}, f.rebalanceErr
		}
		return nil, f.rebalanceErr
	}
	return &faucet.RebalanceResult{BaseTxID: testTxID, TokenTxID: testTxID}, nil
}

func (f *fakeFaucet) IsAdminSecret(s string) bool {
	return s == testSecret
}

func (f *fakeFaucet) Status() faucet.Status {
	return faucet.Status{
		Mode:     "fungible",
		Height:   77,
		Cursor:   2,
		ChainCap: 50,
		Addresses: []faucet.AddressStatus{
			{Index: 0, Address: types.Address{1}, ChainLength: 3},
		},
	}
}

func newTestServer(t *testing.T, f Faucet, cfg Config) *Server {
	t.Helper()
	s := New(cfg, f)
	s.SetMetrics(metrics.New())
	return s
}

func do(t *testing.T, s *Server, method, path, contentType, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
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

func TestRequest_Send(t *testing.T) {
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{})

	rec := do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"tkgx1dest"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	resp := decode[sendResponse](t, rec)
	if resp.TxID != testTxID || resp.Error != "" {
		t.Errorf("response = %+v", resp)
	}
	if len(f.sends) != 1 || f.sends[0] != "tkgx1dest" {
		t.Errorf("sends = %v", f.sends)
	}
}

func TestRequest_FormEncoded(t *testing.T) {
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{})

	rec := do(t, s, http.MethodPost, "/api/v1/request", "application/x-www-form-urlencoded", "address=tkgx1form")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(f.sends) != 1 || f.sends[0] != "tkgx1form" {
		t.Errorf("sends = %v", f.sends)
	}
}

func TestRequest_Errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"invalid destination", fmt.Errorf("%w: bad checksum", faucet.ErrInvalidDestination), http.StatusBadRequest, msgInvalidAddress},
		{"faucet empty", fmt.Errorf("%w: %w", faucet.ErrFaucetEmpty, faucet.ErrNoFundedAddress), http.StatusServiceUnavailable, msgFaucetEmpty},
		{"node answer", &faucet.SubmissionError{Detail: "Server error."}, http.StatusBadGateway, "Server error."},
		{"node rejected", &faucet.SubmissionError{Detail: "txn-mempool-conflict"}, http.StatusBadGateway, "txn-mempool-conflict"},
		{"ledger failure", &faucet.SubmissionError{Detail: "dial tcp", Err: errors.New("dial tcp")}, http.StatusBadGateway, msgServerError},
		{"ledger down", fmt.Errorf("%w: timeout", faucet.ErrLedgerUnavailable), http.StatusBadGateway, msgServerError},
		{"missing baton", faucet.ErrMissingBaton, http.StatusServiceUnavailable, msgNoBaton},
		{"shutting down", faucet.ErrClosed, http.StatusServiceUnavailable, msgClosed},
		{"other", errors.New("baton top-up: insufficient balance"), http.StatusInternalServerError, "baton top-up: insufficient balance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeFaucet{sendErr: tt.err}, Config{})
			rec := do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"x"}`)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if resp := decode[sendResponse](t, rec); resp.Error != tt.msg || resp.TxID != "" {
				t.Errorf("response = %+v, want error %q", resp, tt.msg)
			}
		})
	}
}

func TestRequest_BadBody(t *testing.T) {
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{})

	rec := do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	big := `{"address":"` + strings.Repeat("a", maxBodySize) + `"}`
	rec = do(t, s, http.MethodPost, "/api/v1/request", "application/json", big)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized: status = %d, want 400", rec.Code)
	}
	if len(f.sends) != 0 {
		t.Errorf("bad bodies reached the controller: %v", f.sends)
	}
}

func TestRequest_SecretAsAddressRebalances(t *testing.T) {
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{})

	rec := do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"`+testSecret+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if resp := decode[rebalanceResponse](t, rec); resp.Status != msgRebalanced || resp.BaseTxID != testTxID {
		t.Errorf("response = %+v", resp)
	}
	if f.rebalances != 1 || len(f.sends) != 0 {
		t.Errorf("rebalances = %d, sends = %v", f.rebalances, f.sends)
	}
}

func TestAdminRebalance(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		header []string
		err    error
		status int
	}{
		{"header secret", "", []string{secretHeader, testSecret}, nil, http.StatusOK},
		{"body secret", `{"secret":"` + testSecret + `"}`, nil, nil, http.StatusOK},
		{"wrong secret", `{"secret":"guess"}`, nil, nil, http.StatusUnauthorized},
		{"no secret", "", nil, nil, http.StatusUnauthorized},
		{"base step fails", "", []string{secretHeader, testSecret}, fmt.Errorf("base rebalance: %w", faucet.ErrInsufficientBalance), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFaucet{rebalanceErr: tt.err}
			s := newTestServer(t, f, Config{})
			rec := do(t, s, http.MethodPost, "/api/v1/admin/rebalance", "application/json", tt.body, tt.header...)
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.status, rec.Body)
			}
		})
	}
}

func TestAdminRebalance_TokenStepFails(t *testing.T) {
	f := &fakeFaucet{
		rebalanceErr: fmt.Errorf("token rebalance: %w", faucet.ErrLedgerUnavailable),
		baseSent:     true,
	}
	s := newTestServer(t, f, Config{})

	rec := do(t, s, http.MethodPost, "/api/v1/admin/rebalance", "", "", secretHeader, testSecret)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	resp := decode[rebalanceResponse](t, rec)
	if resp.BaseTxID != testTxID || resp.Error != msgServerError || resp.Status != "" || resp.TokenTxID != "" {
		t.Errorf("response = %+v", resp)
	}
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, &fakeFaucet{}, Config{})
	rec := do(t, s, http.MethodGet, "/api/v1/status", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	st := decode[faucet.Status](t, rec)
	if st.Height != 77 || st.Cursor != 2 || len(st.Addresses) != 1 || st.Addresses[0].ChainLength != 3 {
		t.Errorf("status = %+v", st)
	}
}

func TestHistory(t *testing.T) {
	j, err := faucetdb.OpenJournal(storage.NewMemory())
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	for i := 1; i <= 3; i++ {
		j.Record(faucet.Record{Kind: faucet.KindSend, Amount: uint64(i), TxID: testTxID, Time: time.Unix(int64(i), 0)})
	}

	s := newTestServer(t, &fakeFaucet{}, Config{})
	if rec := do(t, s, http.MethodGet, "/api/v1/history", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("without journal: status = %d, want 404", rec.Code)
	}
	s.SetHistory(j)

	rec := do(t, s, http.MethodGet, "/api/v1/history?limit=2", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decode[historyResponse](t, rec)
	if len(resp.Entries) != 2 || resp.Entries[0].Amount != 3 || resp.Entries[1].Amount != 2 {
		t.Errorf("entries = %+v", resp.Entries)
	}

	if rec := do(t, s, http.MethodGet, "/api/v1/history?limit=-1", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit: status = %d, want 400", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakeFaucet{}, Config{})
	if rec := do(t, s, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"x"}`)
	rec := do(t, s, http.MethodGet, "/metrics", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{`faucet_requests_total{outcome="ok",route="request"} 1`, "faucet_chain_height 77"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	bare := New(Config{}, &fakeFaucet{})
	if rec := do(t, bare, http.MethodGet, "/metrics", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without registry = %d, want 404", rec.Code)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, &fakeFaucet{}, Config{CORSOrigins: []string{"https://faucet.example"}})

	rec := do(t, s, http.MethodOptions, "/api/v1/request", "", "", "Origin", "https://faucet.example")
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://faucet.example" {
		t.Errorf("allow origin = %q", got)
	}

	rec = do(t, s, http.MethodGet, "/healthz", "", "", "Origin", "https://evil.example")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestRequest_RateLimited(t *testing.T) {
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{RatePerMinute: 1, Burst: 2})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"x"}`)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	if len(f.sends) != 2 {
		t.Errorf("sends = %d, want 2", len(f.sends))
	}

	// Status is not limited.
	if rec := do(t, s, http.MethodGet, "/api/v1/status", "", ""); rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	l := NewRateLimiter(60, 1)
	now := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || l.Allow("a") {
		t.Fatal("burst of 1 not enforced")
	}
	if !l.Allow("b") {
		t.Error("clients share a budget")
	}
	now = now.Add(time.Second)
	if !l.Allow("a") {
		t.Error("budget not refilled after a second")
	}

	now = now.Add(2 * visitorTTL)
	l.Allow("c")
	l.mu.Lock()
	n := len(l.visitors)
	l.mu.Unlock()
	if n != 1 {
		t.Errorf("visitors after sweep = %d, want 1", n)
	}

	disabled := NewRateLimiter(0, 0)
	if disabled != nil || !disabled.Allow("a") {
		t.Error("zero rate should disable limiting")
	}
}

func TestRequest_SpoofedForwardingHeaders(t *testing.T) {
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{RatePerMinute: 1, Burst: 1})

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		rec := do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"x"}`,
			"X-Real-IP", fmt.Sprintf("10.0.0.%d", i),
			"X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		codes = append(codes, rec.Code)
	}
	for i, c := range codes {
		want := http.StatusTooManyRequests
		if i == 0 {
			want = http.StatusOK
		}
		if c != want {
			t.Fatalf("codes = %v, want one 200 then 429s", codes)
		}
	}
	if len(f.sends) != 1 {
		t.Errorf("sends = %d, want 1", len(f.sends))
	}
}

func TestRequest_TrustedProxyClients(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"192.0.2.0/24"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	f := &fakeFaucet{}
	s := newTestServer(t, f, Config{RatePerMinute: 1, Burst: 1, TrustedProxies: proxies})

	// httptest requests come from 192.0.2.1.
	send := func(client string) int {
		return do(t, s, http.MethodPost, "/api/v1/request", "application/json", `{"address":"x"}`,
			"X-Forwarded-For", client).Code
	}
	if got := send("198.51.100.1"); got != http.StatusOK {
		t.Errorf("first client = %d, want 200", got)
	}
	if got := send("198.51.100.1"); got != http.StatusTooManyRequests {
		t.Errorf("same client again = %d, want 429", got)
	}
	if got := send("198.51.100.2"); got != http.StatusOK {
		t.Errorf("second client = %d, want 200", got)
	}
}

func TestClientID(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.1", "10.1.0.0/16"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	tests := []struct {
		name   string
		header map[string]string
		remote string
		want   string
	}{
		{"remote addr", nil, "10.0.0.1:5555", "10.0.0.1"},
		{"untrusted real ip", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5:5555", "203.0.113.5"},
		{"untrusted forwarded", map[string]string{"X-Forwarded-For": "1.2.3.4"}, "203.0.113.5:5555", "203.0.113.5"},
		{"trusted real ip", map[string]string{"X-Real-IP": "1.2.3.4"}, "10.0.0.1:5555", "1.2.3.4"},
		{"trusted forwarded", map[string]string{"X-Forwarded-For": "5.6.7.8"}, "10.0.0.1:5555", "5.6.7.8"},
		{"skips trusted hops", map[string]string{"X-Forwarded-For": "9.9.9.9, 5.6.7.8, 10.1.2.3"}, "10.0.0.1:5555", "5.6.7.8"},
		{"forwarded with port", map[string]string{"X-Forwarded-For": " 5.6.7.8:443 "}, "10.0.0.1:5555", "5.6.7.8"},
		{"garbage forwarded", map[string]string{"X-Forwarded-For": "nope"}, "10.0.0.1:5555", "10.0.0.1"},
		{"long chain", map[string]string{"X-Forwarded-For": strings.Repeat("5.6.7.8,", maxForwardedFor) + "5.6.7.8"}, "10.0.0.1:5555", "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			if got := clientID(r, proxies); got != tt.want {
				t.Errorf("clientID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies(t *testing.T) {
	got, err := ParseTrustedProxies([]string{" 10.0.0.1 ", "", "10.1.2.3/16", "::1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	want := []string{"10.0.0.1/32", "10.1.0.0/16", "::1/128"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("entry %d = %s, want %s", i, got[i], want[i])
		}
	}
	for _, bad := range []string{"10.0.0", "10.0.0.0/33", "proxy.example"} {
		if _, err := ParseTrustedProxies([]string{bad}); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

// stuckFaucet blocks sends until the request context ends.
type stuckFaucet struct {
	fakeFaucet
	entered chan struct{}
	done    chan error
}

func (f *stuckFaucet) HandleSend(ctx context.Context, _ string) (*faucet.SendResult, error) {
	close(f.entered)
	<-ctx.Done()
	f.done <- ctx.Err()
	return nil, fmt.Errorf("%w: %w", faucet.ErrLedgerUnavailable, ctx.Err())
}

func TestServer_StopCancelsRequestsInFlight(t *testing.T) {
	old := shutdownGrace
	shutdownGrace = 50 * time.Millisecond
	defer func() { shutdownGrace = old }()

	f := &stuckFaucet{entered: make(chan struct{}), done: make(chan error, 1)}
	s := New(Config{Addr: "127.0.0.1:0"}, f)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	go func() {
		resp, err := http.Post("http://"+s.Addr()+"/api/v1/request", "application/json", strings.NewReader(`{"address":"x"}`))
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-f.entered

	if err := s.Stop(); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Stop err = %v, want deadline exceeded", err)
	}
	select {
	case err := <-f.done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("request context err = %v, want canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("request context not cancelled after Stop")
	}
}
