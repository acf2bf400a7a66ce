package faucet

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	klog "github.com/Klingon-tech/klingnet-faucet/internal/log"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// Config holds the controller policy.
type Config struct {
	Token    types.TokenID // fungible token, or NFT group in NFT mode
	Quantity uint64
	NFT      bool

	ChainCap        int
	Dust            uint64
	FeeRate         uint64
	AdminSecret     string
	RebalanceTokens bool
	AddressHRP      string

	NFTName         string
	NFTTicker       string
	NFTDocumentURI  string
	NFTDocumentHash string
}

// SendResult is the outcome of a successful send request.
type SendResult struct {
	TxID        string        `json:"txid"`
	Spender     types.Address `json:"spender"`
	Index       int           `json:"index"`
	ChainLength int           `json:"chain_length"`
}

// RebalanceResult is the outcome of an admin rebalance.
type RebalanceResult struct {
	BaseTxID  string `json:"base_txid"`
	TokenTxID string `json:"token_txid,omitempty"`
}

// AddressStatus is the controller's view of one pool address.
type AddressStatus struct {
	Index       int           `json:"index"`
	Address     types.Address `json:"address"`
	ChainLength int           `json:"chain_length"`
}

// Status is a snapshot of controller state.
type Status struct {
	Mode      string          `json:"mode"`
	Token     types.TokenID   `json:"token"`
	Height    uint64          `json:"height"`
	Cursor    int             `json:"cursor"`
	ChainCap  int             `json:"chain_cap"`
	Addresses []AddressStatus `json:"addresses"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithRecorder adds an observer of submissions.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorders = append(c.recorders, r) }
}

// WithStateStore persists the chain-length table through s.
func WithStateStore(s StateStore) Option {
	return func(c *Controller) { c.state = s }
}

// WithClock overrides the time source used for records.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller serves send and rebalance requests against the pool. All
// public methods are serialized.
type Controller struct {
	mu sync.Mutex

	cfg       Config
	pool      Pool
	ledger    Ledger
	tracker   *ChainLengthTracker
	estimator CostEstimator
	selector  *Selector
	planner   *Planner
	mode      mode

	recorders []Recorder
	state     StateStore
	closed    bool
	now       func() time.Time
	logger    zerolog.Logger
}

// New creates a controller. Zero policy values take their defaults.
func New(cfg Config, pool Pool, ledger Ledger, opts ...Option) (*Controller, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("empty address pool")
	}
	if len(pool) > MaxPoolSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyAddresses, len(pool), MaxPoolSize)
	}
	if cfg.NFT && len(pool) < 2 {
		return nil, fmt.Errorf("nft mode needs at least 2 addresses, got %d", len(pool))
	}
	if !cfg.NFT && cfg.Quantity == 0 {
		return nil, fmt.Errorf("send quantity must be positive")
	}
	if cfg.ChainCap <= 0 {
		cfg.ChainCap = DefaultChainCap
	}
	if cfg.Dust == 0 {
		cfg.Dust = DefaultDust
	}
	if cfg.FeeRate == 0 {
		cfg.FeeRate = DefaultFeeRate
	}
	if cfg.AddressHRP == "" {
		cfg.AddressHRP = types.GetAddressHRP()
	}

	c := &Controller{
		cfg:       cfg,
		pool:      pool,
		ledger:    ledger,
		tracker:   NewChainLengthTracker(),
		estimator: CostEstimator{Dust: cfg.Dust},
		now:       time.Now,
		logger:    klog.Faucet,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.selector = NewSelector(pool, ledger, c.tracker, c.estimator, cfg.FeeRate, cfg.ChainCap, c.logger)
	c.planner = NewPlanner(pool, ledger, c.estimator, cfg.FeeRate)
	if cfg.NFT {
		c.mode = &nftMode{c: c}
	} else {
		c.mode = &fungibleMode{c: c}
	}

	if c.state != nil {
		height, lengths, err := c.state.LoadChainLengths()
		if err != nil {
			return nil, fmt.Errorf("load chain lengths: %w", err)
		}
		c.tracker.Restore(height, lengths)
	}

	return c, nil
}

// Pool returns the managed addresses.
func (c *Controller) Pool() Pool {
	return c.pool
}

// HandleSend disburses to destination. It returns the transaction hash of
// the send, or a typed error: ErrInvalidDestination, ErrFaucetEmpty,
// ErrLedgerUnavailable, ErrMissingBaton, or a *SubmissionError.
func (c *Controller) HandleSend(ctx context.Context, destination string) (*SendResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	dest, err := types.ParseAddressForHRP(destination, c.cfg.AddressHRP)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}

	if err := c.refreshHeight(ctx); err != nil {
		return nil, err
	}
	if err := c.mode.prepare(ctx); err != nil {
		return nil, err
	}

	sel, err := c.selector.Select(ctx, c.cfg.Token, c.mode.scanStart())
	if errors.Is(err, ErrNoFundedAddress) {
		c.logger.Warn().Int("cursor", c.selector.Cursor()).Msg("No pool address can fund a send")
		return nil, fmt.Errorf("%w: %w", ErrFaucetEmpty, err)
	}
	if err != nil {
		return nil, err
	}

	return c.mode.send(ctx, sel, dest)
}

// HandleAdminRebalance splits base currency, then the token, evenly across
// the pool. The cursor resets once the base rebalance is submitted, even if
// the token step fails.
func (c *Controller) HandleAdminRebalance(ctx context.Context, secret string) (*RebalanceResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if !c.authorized(secret) {
		return nil, ErrUnauthorized
	}

	if err := c.refreshHeight(ctx); err != nil {
		return nil, err
	}

	plan, err := c.planner.PlanBaseRebalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("base rebalance: %w", err)
	}
	baseTx, err := c.submitSend(ctx, KindBaseRebalance, plan, "")
	if err != nil {
		return nil, fmt.Errorf("base rebalance: %w", err)
	}
	c.selector.Reset()
	c.logger.Info().Str("txid", baseTx).Msg("Base currency rebalanced, cursor reset")

	res := &RebalanceResult{BaseTxID: baseTx}
	if !c.cfg.RebalanceTokens {
		return res, nil
	}
	tokenTx, err := c.mode.rebalanceTokens(ctx)
	if err != nil {
		return res, fmt.Errorf("token rebalance: %w", err)
	}
	res.TokenTxID = tokenTx
	return res, nil
}

// Close waits for the request in progress, if any, and refuses further
// sends and rebalances with ErrClosed. After Close returns the pool keys
// and the recorders' storage are no longer touched.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.saveState()
}

// IsAdminSecret reports whether s is the configured admin secret.
func (c *Controller) IsAdminSecret(s string) bool {
	return c.authorized(s)
}

func (c *Controller) authorized(secret string) bool {
	if c.cfg.AdminSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(c.cfg.AdminSecret)) == 1
}

// Status returns a snapshot of the cursor and chain-length table.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Mode:      c.mode.name(),
		Token:     c.cfg.Token,
		Height:    c.tracker.Height(),
		Cursor:    c.selector.Cursor(),
		ChainCap:  c.cfg.ChainCap,
		Addresses: make([]AddressStatus, len(c.pool)),
	}
	for i, a := range c.pool {
		st.Addresses[i] = AddressStatus{
			Index:       i,
			Address:     a.Address,
			ChainLength: c.tracker.ChainLength(a.Address),
		}
	}
	return st
}

// refreshHeight records the current ledger height in the tracker.
func (c *Controller) refreshHeight(ctx context.Context) error {
	h, err := c.ledger.ChainHeight(ctx)
	if err != nil {
		return unavailable("chain height", err)
	}
	if c.tracker.RecordHeight(h) {
		c.logger.Debug().Uint64("height", h).Msg("New block, chain lengths reset")
		c.saveState()
	}
	return nil
}

// submitSend submits a send plan spent by the address owning its first
// base input, or address 0 for rebalances.
func (c *Controller) submitSend(ctx context.Context, kind Kind, plan *SendPlan, dest string) (string, error) {
	spender := c.pool[0]
	if kind == KindSend {
		spender = c.ownerOf(plan.Change)
	}
	var amount uint64
	for _, o := range plan.Outputs {
		amount += o.Amount
	}
	return c.submit(ctx, kind, spender, dest, amount, func() (string, error) {
		return c.ledger.SubmitSend(ctx, plan, c.pool.Signers())
	})
}

func (c *Controller) submitGenesis(ctx context.Context, spender ManagedAddress, plan *GenesisPlan) (string, error) {
	return c.submit(ctx, KindChildGenesis, spender, plan.Destination.String(), 1, func() (string, error) {
		return c.ledger.SubmitChildGenesis(ctx, plan, c.pool.Signers())
	})
}

// submit applies the height epoch, counts the send against spender, and
// submits. The count stands even when submission fails.
func (c *Controller) submit(ctx context.Context, kind Kind, spender ManagedAddress, dest string,
	amount uint64, fn func() (string, error)) (string, error) {
	if err := c.refreshHeight(ctx); err != nil {
		return "", err
	}
	length := c.tracker.Increment(spender.Address)
	c.saveState()

	raw, err := fn()
	switch {
	case err != nil:
		err = &SubmissionError{Detail: err.Error(), Err: err}
	case !types.IsTxHash(raw):
		err = &SubmissionError{Detail: raw}
	}

	rec := Record{
		Kind:        kind,
		Spender:     spender.Address,
		Index:       spender.Index,
		Destination: dest,
		Amount:      amount,
		Height:      c.tracker.Height(),
		ChainLength: length,
		Cursor:      c.selector.Cursor(),
		Time:        c.now(),
	}
	logger := c.logger.With().
		Str("kind", string(kind)).
		Str("address", spender.Address.String()).
		Int("index", spender.Index).
		Int("chain_length", length).
		Logger()
	if err != nil {
		rec.Error = err.Error()
		logger.Error().Err(err).Msg("Submission failed")
	} else {
		rec.TxID = raw
		logger.Info().Str("txid", raw).Str("destination", dest).Msg("Transaction submitted")
	}
	for _, r := range c.recorders {
		r.Record(rec)
	}

	if err != nil {
		return "", err
	}
	return raw, nil
}

func (c *Controller) ownerOf(addr types.Address) ManagedAddress {
	for _, a := range c.pool {
		if a.Address == addr {
			return a
		}
	}
	return c.pool[0]
}

func (c *Controller) saveState() {
	if c.state == nil {
		return
	}
	height, lengths := c.tracker.Snapshot()
	if err := c.state.SaveChainLengths(height, lengths); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist chain lengths")
	}
}
