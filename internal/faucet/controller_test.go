package faucet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

const testSecret = "hunter2"

type memRecorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *memRecorder) Record(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

type memState struct {
	height  uint64
	lengths map[types.Address]int
	saves   int
}

func (s *memState) LoadChainLengths() (uint64, map[types.Address]int, error) {
	return s.height, s.lengths, nil
}

func (s *memState) SaveChainLengths(height uint64, lengths map[types.Address]int) error {
	s.height, s.lengths = height, lengths
	s.saves++
	return nil
}

func fungibleConfig() Config {
	return Config{
		Token:           testToken,
		Quantity:        10,
		AdminSecret:     testSecret,
		RebalanceTokens: true,
	}
}

func newTestController(t *testing.T, cfg Config, pool Pool, l Ledger, opts ...Option) *Controller {
	t.Helper()
	c, err := New(cfg, pool, l, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func destination(t *testing.T) (types.Address, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.Address(), key.Address().String()
}

func TestNew_RejectsLargePool(t *testing.T) {
	pool := make(Pool, MaxPoolSize+1)
	_, err := New(fungibleConfig(), pool, newFakeLedger())
	if !errors.Is(err, ErrTooManyAddresses) {
		t.Errorf("err = %v, want ErrTooManyAddresses", err)
	}

	_, err = NewPool(make([]ManagedAddress, MaxPoolSize+1))
	if !errors.Is(err, ErrTooManyAddresses) {
		t.Errorf("NewPool err = %v, want ErrTooManyAddresses", err)
	}
}

func TestHandleSend_InvalidDestination(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	c := newTestController(t, fungibleConfig(), pool, l)

	addr, _ := destination(t)
	testnet := ""
	func() {
		types.SetAddressHRP(types.TestnetHRP)
		defer types.SetAddressHRP(types.MainnetHRP)
		testnet = addr.String()
	}()

	for _, dest := range []string{"", "hello", addr.Hex(), testnet, testSecret} {
		_, err := c.HandleSend(context.Background(), dest)
		if !errors.Is(err, ErrInvalidDestination) {
			t.Errorf("HandleSend(%q) err = %v, want ErrInvalidDestination", dest, err)
		}
	}
	if len(l.sends) != 0 || len(l.lookups) != 0 {
		t.Error("invalid destination should not reach the ledger")
	}
	if c.tracker.ChainLength(pool[0].Address) != 0 {
		t.Error("invalid destination should not mutate state")
	}
}

func TestHandleSend_Fungible(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	rec := &memRecorder{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestController(t, fungibleConfig(), pool, l, WithRecorder(rec), WithClock(func() time.Time { return now }))

	destAddr, dest := destination(t)
	res, err := c.HandleSend(context.Background(), "  "+dest+"\n")
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if res.TxID != testTxID || res.Index != 0 || res.ChainLength != 1 {
		t.Errorf("result = %+v", res)
	}

	if len(l.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(l.sends))
	}
	plan := l.sends[0]
	if plan.Token == nil || *plan.Token != testToken {
		t.Error("plan should send the configured token")
	}
	if len(plan.Outputs) != 1 || plan.Outputs[0] != (Payment{To: destAddr, Amount: 10}) {
		t.Errorf("outputs = %+v", plan.Outputs)
	}
	if plan.Change != pool[0].Address {
		t.Error("change should return to the spender")
	}
	if len(plan.Inputs) != 2 {
		t.Errorf("inputs = %d, want base + token unit", len(plan.Inputs))
	}

	if len(rec.records) != 1 {
		t.Fatalf("records = %d, want 1", len(rec.records))
	}
	r := rec.records[0]
	if r.Kind != KindSend || r.TxID != testTxID || !r.OK() || r.Destination != dest || !r.Time.Equal(now) {
		t.Errorf("record = %+v", r)
	}
}

func TestHandleSend_ServerErrorString(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	l.results = []string{"Server error."}
	rec := &memRecorder{}
	c := newTestController(t, fungibleConfig(), pool, l, WithRecorder(rec))

	_, dest := destination(t)
	res, err := c.HandleSend(context.Background(), dest)
	if res != nil {
		t.Error("failed send should not return a result")
	}
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	var se *SubmissionError
	if !errors.As(err, &se) || se.Detail != "Server error." {
		t.Errorf("detail = %+v", se)
	}
	if got := c.tracker.ChainLength(pool[0].Address); got != 1 {
		t.Errorf("chain length = %d, want 1 (counted despite failure)", got)
	}
	if len(rec.records) != 1 || rec.records[0].OK() {
		t.Error("failure should be recorded")
	}
}

func TestHandleSend_SubmitError(t *testing.T) {
	pool := testPool(t, 1)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	rootErr := errors.New("rpc error -32000: input already spent")
	l.submitErr = rootErr
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrSubmissionFailed) || !errors.Is(err, rootErr) {
		t.Fatalf("err = %v", err)
	}
}

func TestHandleSend_FaucetEmpty(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrFaucetEmpty) {
		t.Fatalf("err = %v, want ErrFaucetEmpty", err)
	}
	if len(l.sends) != 0 {
		t.Error("empty faucet should not submit")
	}
}

func TestHandleSend_LedgerDown(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.heightErr = errors.New("dial tcp: connection refused")
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrLedgerUnavailable) {
		t.Fatalf("err = %v, want ErrLedgerUnavailable", err)
	}
}

func TestHandleSend_ChainCapRotation(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	l.set(funded(pool[1].Address))
	cfg := fungibleConfig()
	cfg.ChainCap = 2
	c := newTestController(t, cfg, pool, l)

	_, dest := destination(t)
	var spenders []int
	for i := 0; i < 4; i++ {
		res, err := c.HandleSend(context.Background(), dest)
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		spenders = append(spenders, res.Index)
	}
	if want := []int{0, 0, 1, 1}; !equalInts(spenders, want) {
		t.Errorf("spenders = %v, want %v", spenders, want)
	}

	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrFaucetEmpty) {
		t.Fatalf("all capped: err = %v, want ErrFaucetEmpty", err)
	}

	// A new block lifts the cap.
	l.setHeight(101)
	res, err := c.HandleSend(context.Background(), dest)
	if err != nil {
		t.Fatalf("after new block: %v", err)
	}
	if res.Index != 0 || res.ChainLength != 1 {
		t.Errorf("after new block: %+v", res)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHandleAdminRebalance_Unauthorized(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()

	c := newTestController(t, fungibleConfig(), pool, l)
	if _, err := c.HandleAdminRebalance(context.Background(), "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}

	cfg := fungibleConfig()
	cfg.AdminSecret = ""
	c = newTestController(t, cfg, pool, l)
	if _, err := c.HandleAdminRebalance(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("empty secret: err = %v, want ErrUnauthorized", err)
	}
	if len(l.sends) != 0 {
		t.Error("unauthorized rebalance should not submit")
	}
}

func TestHandleAdminRebalance_ResetsCursor(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{100}, testToken, []uint64{90}))
	l.set(funded(pool[1].Address))
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	if _, err := c.HandleSend(context.Background(), dest); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if c.Status().Cursor != 1 {
		t.Fatalf("cursor = %d, want 1", c.Status().Cursor)
	}

	res, err := c.HandleAdminRebalance(context.Background(), testSecret)
	if err != nil {
		t.Fatalf("HandleAdminRebalance: %v", err)
	}
	if res.BaseTxID != testTxID || res.TokenTxID != testTxID {
		t.Errorf("result = %+v", res)
	}
	if c.Status().Cursor != 0 {
		t.Errorf("cursor = %d, want 0", c.Status().Cursor)
	}
	// send + base + token
	if len(l.sends) != 3 {
		t.Fatalf("sends = %d, want 3", len(l.sends))
	}
	if l.sends[1].Token != nil || l.sends[2].Token == nil {
		t.Error("rebalance should run base first, then token")
	}
	if got := c.tracker.ChainLength(pool[0].Address); got != 2 {
		t.Errorf("address 0 chain length = %d, want 2", got)
	}
}

func TestHandleAdminRebalance_TokenStepFails(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{100}, testToken, []uint64{90}))
	l.set(funded(pool[1].Address))
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	c.HandleSend(context.Background(), dest)

	l.results = []string{testTxID, "Server error."}
	res, err := c.HandleAdminRebalance(context.Background(), testSecret)
	if !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v, want ErrSubmissionFailed", err)
	}
	if res == nil || res.BaseTxID != testTxID {
		t.Errorf("base txid should be reported, got %+v", res)
	}
	if c.Status().Cursor != 0 {
		t.Errorf("cursor = %d, want 0 after base step", c.Status().Cursor)
	}
}

func TestHandleAdminRebalance_BaseFailsKeepsCursor(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{100}, testToken, []uint64{90}))
	l.set(funded(pool[1].Address))
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	c.HandleSend(context.Background(), dest)

	l.results = []string{"Server error."}
	if _, err := c.HandleAdminRebalance(context.Background(), testSecret); !errors.Is(err, ErrSubmissionFailed) {
		t.Fatalf("err = %v", err)
	}
	if c.Status().Cursor != 1 {
		t.Errorf("cursor = %d, want 1", c.Status().Cursor)
	}
}

func TestHandleAdminRebalance_TokensDisabled(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	cfg := fungibleConfig()
	cfg.RebalanceTokens = false
	c := newTestController(t, cfg, pool, l)

	res, err := c.HandleAdminRebalance(context.Background(), testSecret)
	if err != nil {
		t.Fatalf("HandleAdminRebalance: %v", err)
	}
	if res.TokenTxID != "" || len(l.sends) != 1 {
		t.Errorf("token step should be skipped: %+v, %d sends", res, len(l.sends))
	}
}

func nftConfig() Config {
	return Config{
		Token:       testToken,
		NFT:         true,
		AdminSecret: testSecret,
		NFTName:     "Klingnet Faucet NFT",
		NFTTicker:   "KFNFT",
	}
}

func TestHandleSend_NFT(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{50_000}, testToken, []uint64{10}))
	l.set(balanceOf(pool[1].Address, []uint64{50_000}, testToken, []uint64{1}))
	l.set(balanceOf(pool[2].Address, []uint64{50_000}, testToken, nil))
	c := newTestController(t, nftConfig(), pool, l)

	destAddr, dest := destination(t)
	res, err := c.HandleSend(context.Background(), dest)
	if err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if res.Index != 1 {
		t.Errorf("spender index = %d, want 1", res.Index)
	}

	if len(l.sends) != 1 || len(l.sends[0].Outputs) != 1 || l.sends[0].Outputs[0].To != pool[2].Address {
		t.Fatalf("expected a baton top-up to address 2, got %+v", l.sends)
	}
	if len(l.geneses) != 1 {
		t.Fatalf("geneses = %d, want 1", len(l.geneses))
	}
	g := l.geneses[0]
	if g.GroupID != testToken || g.Destination != destAddr || g.Change != pool[1].Address {
		t.Errorf("genesis plan = %+v", g)
	}
	if g.Name != "Klingnet Faucet NFT" || g.Ticker != "KFNFT" {
		t.Errorf("metadata = %q %q", g.Name, g.Ticker)
	}
	if !g.Inputs[0].Token.IsBaton(testToken) {
		t.Error("first input should be the baton")
	}
	if c.tracker.ChainLength(pool[0].Address) != 1 || c.tracker.ChainLength(pool[1].Address) != 1 {
		t.Error("top-up and genesis should each count against their spender")
	}
}

func TestHandleSend_NFTNeverSpendsHolder(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{50_000}, testToken, []uint64{10}))
	l.set(balanceOf(pool[1].Address, nil, testToken, []uint64{1}))
	c := newTestController(t, nftConfig(), pool, l)

	_, dest := destination(t)
	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrFaucetEmpty) {
		t.Fatalf("err = %v, want ErrFaucetEmpty", err)
	}
	if len(l.geneses) != 0 {
		t.Error("address 0 must not mint")
	}
}

func TestHandleSend_NFTMissingBaton(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{50_000}, testToken, []uint64{10}))
	l.set(balanceOf(pool[1].Address, []uint64{50_000}, testToken, []uint64{2}))
	c := newTestController(t, nftConfig(), pool, l)

	_, dest := destination(t)
	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrMissingBaton) {
		t.Fatalf("err = %v, want ErrMissingBaton", err)
	}
	if len(l.geneses) != 0 {
		t.Error("no mint without a baton")
	}
}

func TestHandleSend_NFTTopUpFailureAborts(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{50_000}, types.TokenID{0x01}, []uint64{10}))
	l.set(balanceOf(pool[1].Address, []uint64{50_000}, testToken, []uint64{1}))
	c := newTestController(t, nftConfig(), pool, l)

	_, dest := destination(t)
	_, err := c.HandleSend(context.Background(), dest)
	if !errors.Is(err, ErrNoGroupTokens) {
		t.Fatalf("err = %v, want ErrNoGroupTokens", err)
	}
	if len(l.geneses) != 0 || len(l.sends) != 0 {
		t.Error("failed top-up should abort the request")
	}
}

func TestHandleAdminRebalance_NFTSkipsTokens(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(balanceOf(pool[0].Address, []uint64{50_000}, testToken, []uint64{10}))
	c := newTestController(t, nftConfig(), pool, l)

	res, err := c.HandleAdminRebalance(context.Background(), testSecret)
	if err != nil {
		t.Fatalf("HandleAdminRebalance: %v", err)
	}
	if res.TokenTxID != "" || len(l.sends) != 1 {
		t.Errorf("nft mode should only rebalance base currency: %+v", res)
	}
}

func TestController_StatePersistence(t *testing.T) {
	pool := testPool(t, 2)
	l := newFakeLedger()
	l.set(funded(pool[0].Address))
	state := &memState{height: 100, lengths: map[types.Address]int{pool[0].Address: 49}}

	c := newTestController(t, fungibleConfig(), pool, l, WithStateStore(state))
	if got := c.Status().Addresses[0].ChainLength; got != 49 {
		t.Fatalf("restored chain length = %d, want 49", got)
	}

	_, dest := destination(t)
	if _, err := c.HandleSend(context.Background(), dest); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}
	if state.lengths[pool[0].Address] != 50 {
		t.Errorf("persisted chain length = %d, want 50", state.lengths[pool[0].Address])
	}

	// Restarted at the same height, the capped address stays skipped.
	c2 := newTestController(t, fungibleConfig(), pool, l, WithStateStore(state))
	if _, err := c2.HandleSend(context.Background(), dest); !errors.Is(err, ErrFaucetEmpty) {
		t.Errorf("err = %v, want ErrFaucetEmpty", err)
	}
}

func TestController_Status(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	l.set(funded(pool[2].Address))
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	if _, err := c.HandleSend(context.Background(), dest); err != nil {
		t.Fatalf("HandleSend: %v", err)
	}

	st := c.Status()
	if st.Mode != "fungible" || st.Height != 100 || st.ChainCap != DefaultChainCap {
		t.Errorf("status = %+v", st)
	}
	if len(st.Addresses) != 3 || st.Addresses[2].ChainLength != 1 || st.Addresses[0].ChainLength != 0 {
		t.Errorf("addresses = %+v", st.Addresses)
	}
}

func TestController_ConcurrentSends(t *testing.T) {
	pool := testPool(t, 3)
	l := newFakeLedger()
	for _, a := range pool {
		l.set(funded(a.Address))
	}
	c := newTestController(t, fungibleConfig(), pool, l)

	_, dest := destination(t)
	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.HandleSend(context.Background(), dest)
		}()
	}
	wg.Wait()

	total := 0
	for _, a := range c.Status().Addresses {
		total += a.ChainLength
	}
	if total != n || len(l.sends) != n {
		t.Errorf("chain lengths sum to %d, %d sends; want %d", total, len(l.sends), n)
	}
}

// blockingLedger holds SubmitSend until released.
type blockingLedger struct {
	*fakeLedger
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLedger) SubmitSend(ctx context.Context, plan *SendPlan, signers map[types.Address]crypto.Signer) (string, error) {
	close(b.entered)
	<-b.release
	return b.fakeLedger.SubmitSend(ctx, plan, signers)
}

func TestController_CloseWaitsForSend(t *testing.T) {
	pool := testPool(t, 2)
	l := &blockingLedger{fakeLedger: newFakeLedger(), entered: make(chan struct{}), release: make(chan struct{})}
	l.set(funded(pool[0].Address))
	state := &memState{}
	c := newTestController(t, fungibleConfig(), pool, l, WithStateStore(state))

	_, dest := destination(t)
	sendErr := make(chan error, 1)
	go func() {
		_, err := c.HandleSend(context.Background(), dest)
		sendErr <- err
	}()
	<-l.entered

	closed := make(chan struct{})
	go func() {
		c.Close()
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatal("Close returned while a send was signing")
	case <-time.After(50 * time.Millisecond):
	}

	close(l.release)
	if err := <-sendErr; err != nil {
		t.Fatalf("in-flight send: %v", err)
	}
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the send finished")
	}

	if state.lengths[pool[0].Address] != 1 {
		t.Errorf("persisted chain length = %d, want 1", state.lengths[pool[0].Address])
	}
	if _, err := c.HandleSend(context.Background(), dest); !errors.Is(err, ErrClosed) {
		t.Errorf("send after Close: err = %v, want ErrClosed", err)
	}
	if _, err := c.HandleAdminRebalance(context.Background(), testSecret); !errors.Is(err, ErrClosed) {
		t.Errorf("rebalance after Close: err = %v, want ErrClosed", err)
	}
	c.Close()
	if len(c.Status().Addresses) != 2 {
		t.Error("Status should keep working after Close")
	}
}
