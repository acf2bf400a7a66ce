// Package service assembles a running faucet (keystore, storage, ledger
// client, controller, HTTP API) so it can be embedded in any binary.
package service

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/klingnet-faucet/config"
	"github.com/Klingon-tech/klingnet-faucet/internal/api"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucet"
	"github.com/Klingon-tech/klingnet-faucet/internal/faucetdb"
	"github.com/Klingon-tech/klingnet-faucet/internal/ledger"
	klog "github.com/Klingon-tech/klingnet-faucet/internal/log"
	"github.com/Klingon-tech/klingnet-faucet/internal/metrics"
	"github.com/Klingon-tech/klingnet-faucet/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-faucet/internal/storage"
	"github.com/Klingon-tech/klingnet-faucet/internal/wallet"
	"github.com/Klingon-tech/klingnet-faucet/pkg/crypto"
	"github.com/Klingon-tech/klingnet-faucet/pkg/types"
)

// watchInterval is how often the ledger is polled and gauges refreshed.
const watchInterval = 30 * time.Second

// Service is a fully-initialized faucet.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	db         storage.DB
	pool       faucet.Pool
	ledger     *ledger.Client
	journal    *faucetdb.Journal
	metrics    *metrics.Metrics
	controller *faucet.Controller
	apiServer  *api.Server

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Service. It unlocks the pool wallet with
// password and opens storage, but does not listen or start background
// goroutines. Call Start() for that.
func New(cfg *config.Config, password []byte) (*Service, error) {
	// ── 1. Set address HRP ──────────────────────────────────────────
	types.SetAddressHRP(cfg.AddressHRP())

	// ── 2. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		logFile = filepath.Join(cfg.LogsDir(), "faucet.log")
	}
	klog.Init(cfg.Log.Level, cfg.Log.JSON, klog.FileOptions{
		Path:       logFile,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	logger := klog.WithComponent("service")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("ledger", cfg.Ledger.URL).
		Bool("nft", cfg.Faucet.NFT).
		Msg("Starting Klingnet Faucet")

	// ── 3. Unlock pool ──────────────────────────────────────────────
	pool, err := unlockPool(cfg, password)
	if err != nil {
		return nil, err
	}
	for _, a := range pool {
		logger.Info().Int("index", a.Index).Str("address", a.Address.String()).Msg("Pool address")
	}

	// ── 4. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		zeroPool(pool)
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	// State is kept per wallet so switching pools starts from a clean table.
	walletDB := storage.NewPrefixDB(db, []byte(cfg.Wallet.Name+"/"))
	journal, err := faucetdb.OpenJournal(walletDB)
	if err != nil {
		db.Close()
		zeroPool(pool)
		return nil, fmt.Errorf("open journal: %w", err)
	}
	logger.Info().Str("path", cfg.DBDir()).Uint64("journal", journal.Len()).Msg("Database opened")

	// ── 5. Ledger client ────────────────────────────────────────────
	led := ledger.New(rpcclient.NewWithTimeout(cfg.Ledger.URL, cfg.Ledger.Timeout), ledger.Config{
		FeeRate:     cfg.Faucet.FeeRate,
		Dust:        cfg.Faucet.Dust,
		Parallelism: cfg.Ledger.Parallelism,
	})

	// ── 6. Controller ───────────────────────────────────────────────
	m := metrics.New()
	ccfg, err := cfg.ControllerConfig()
	if err != nil {
		db.Close()
		zeroPool(pool)
		return nil, err
	}
	controller, err := faucet.New(ccfg, pool, led,
		faucet.WithRecorder(journal),
		faucet.WithRecorder(m),
		faucet.WithStateStore(faucetdb.NewStateStore(walletDB)),
	)
	if err != nil {
		db.Close()
		zeroPool(pool)
		return nil, fmt.Errorf("create controller: %w", err)
	}

	// ── 7. HTTP API ─────────────────────────────────────────────────
	proxies, err := api.ParseTrustedProxies(cfg.API.TrustedProxies)
	if err != nil {
		db.Close()
		zeroPool(pool)
		return nil, fmt.Errorf("api.trusted_proxies: %w", err)
	}
	apiServer := api.New(api.Config{
		Addr:           net.JoinHostPort(cfg.API.Addr, strconv.Itoa(cfg.API.Port)),
		RatePerMinute:  cfg.API.RatePerMinute,
		Burst:          cfg.API.Burst,
		CORSOrigins:    cfg.API.CORSOrigins,
		TrustedProxies: proxies,
	}, controller)
	apiServer.SetHistory(journal)
	apiServer.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		logger:     logger,
		db:         db,
		pool:       pool,
		ledger:     led,
		journal:    journal,
		metrics:    m,
		controller: controller,
		apiServer:  apiServer,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// unlockPool decrypts the wallet seed and derives the pool keys.
func unlockPool(cfg *config.Config, password []byte) (faucet.Pool, error) {
	ks, err := wallet.NewKeystore(cfg.KeystoreDir())
	if err != nil {
		return nil, fmt.Errorf("open keystore: %w", err)
	}
	info, err := ks.Info(cfg.Wallet.Name)
	if err != nil {
		return nil, fmt.Errorf("wallet %q: %w", cfg.Wallet.Name, err)
	}
	seed, err := ks.Load(cfg.Wallet.Name, password)
	if err != nil {
		return nil, fmt.Errorf("unlock wallet %q: %w", cfg.Wallet.Name, err)
	}
	defer clear(seed)

	pool, err := wallet.DerivePool(seed, cfg.Faucet.PoolSize)
	if err != nil {
		return nil, err
	}
	// The recorded addresses let an operator fund the pool before the
	// first start; a mismatch means the file was tampered with.
	for i, hexAddr := range info.Addresses {
		if i < len(pool) && pool[i].Address.Hex() != hexAddr {
			zeroPool(pool)
			return nil, fmt.Errorf("wallet %q: address %d does not match its seed", cfg.Wallet.Name, i)
		}
	}
	return pool, nil
}

func zeroPool(pool faucet.Pool) {
	for _, a := range pool {
		if k, ok := a.Signer.(*crypto.PrivateKey); ok {
			k.Zero()
		}
	}
}

// Start begins serving HTTP and the background ledger watch.
func (s *Service) Start() error {
	if err := s.apiServer.Start(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.runWatch()
	return nil
}

// Stop shuts the service down and wipes the pool keys. A send still
// running when the API gives up waiting is cancelled, and the keys and
// database stay open until it has returned.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()

	if err := s.apiServer.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("API shutdown incomplete, cancelled requests in flight")
	}
	s.controller.Close()

	if err := s.db.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Close database")
	}
	zeroPool(s.pool)

	s.logger.Info().Msg("Goodbye!")
}

// APIAddr returns the address the HTTP server is listening on.
func (s *Service) APIAddr() string {
	return s.apiServer.Addr()
}

// Controller returns the disbursement controller.
func (s *Service) Controller() *faucet.Controller {
	return s.controller
}

// runWatch polls the node and refreshes the metrics gauges, so an
// unreachable node shows up in the log before the first request fails.
func (s *Service) runWatch() {
	defer s.wg.Done()
	s.poll()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Service) poll() {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.Ledger.Timeout)
	defer cancel()

	height, err := s.ledger.ChainHeight(ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.logger.Warn().Err(err).Str("ledger", s.cfg.Ledger.URL).Msg("Node unreachable")
		}
		return
	}
	s.logger.Debug().Uint64("height", height).Msg("Node reachable")
	s.metrics.ObserveStatus(s.controller.Status())
}
