package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"keygate/internal/chain"
	"keygate/internal/config"
	"keygate/internal/db"
	"keygate/internal/logger"
	"keygate/internal/models"
	"keygate/internal/notify"
	"keygate/internal/payments"
	"keygate/internal/retry"
	"keygate/internal/services"
	"keygate/internal/store"
	"keygate/internal/worker"
)

func main() {
	log, err := logger.New()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN, db.PoolLimits{MaxConns: cfg.DB.MaxConns, MinConns: cfg.DB.MinConns})
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	issuance, rpc, err := buildIssuance(cfg, st, log)
	if err != nil {
		log.Fatal("pipeline wiring failed", zap.Error(err))
	}

	w := &worker.Worker{
		Store:     st,
		Issuance:  issuance,
		RPC:       rpc,
		Interval:  time.Duration(cfg.Worker.IntervalSeconds) * time.Second,
		BatchSize: cfg.Worker.BatchSize,
		Logger:    log,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	log.Info("sweeper started",
		zap.Int("intervalSeconds", cfg.Worker.IntervalSeconds),
		zap.Int("batchSize", cfg.Worker.BatchSize))
	w.Run(ctx)
}

func buildIssuance(cfg *config.Config, st *store.Store, log *zap.Logger) (*services.IssuanceService, chain.RPC, error) {
	var rpc chain.RPC
	var multi *chain.MultiEthClient
	if len(cfg.Chain.RPCEndpoints) > 0 {
		m, err := chain.NewMultiEthClient(cfg.Chain.RPCEndpoints, cfg.Chain.RPCFailoverThreshold)
		if err != nil {
			return nil, nil, err
		}
		multi = m
		rpc = m
	}

	signer := chain.NewSigner(cfg.Chain.SignerEndpoint, cfg.Chain.SignerAPIKey, cfg.Chain.SignerAddress)

	wsEndpoint := cfg.Chain.WSEndpoint
	if wsEndpoint == "" && len(cfg.Chain.RPCEndpoints) > 0 {
		wsEndpoint = chain.DefaultWSEndpoint(cfg.Chain.RPCEndpoints[0])
	}

	policy := retry.Policy{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialDelay:      time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
		MaxDelay:          time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
	}

	newExecutor := func(order *models.Order, observe func(event string, meta map[string]any)) services.GrantExecutor {
		registry := order.RegistryAddress
		if registry == "" {
			registry = cfg.Chain.RegistryAddress
		}
		chainID := order.ChainID
		if chainID == 0 {
			chainID = cfg.Chain.ChainID
		}
		return &chain.Executor{
			RPC:            rpc,
			Signer:         signer,
			ChainID:        chainID,
			Registry:       registry,
			KeyDuration:    time.Duration(cfg.Issuance.KeyDurationHours) * time.Hour,
			ReferralTag:    cfg.Issuance.ReferralTag,
			Retry:          policy,
			ConfirmTimeout: time.Duration(cfg.Chain.ConfirmTimeoutSecs) * time.Second,
			ConfirmPoll:    time.Duration(cfg.Chain.ConfirmPollMillis) * time.Millisecond,
			WSEndpoint:     wsEndpoint,
			Logger:         log,
			Observe:        observe,
		}
	}

	verifiers := payments.Verifiers{}
	if cfg.Gateway.StripeAPIKey != "" {
		sv, err := payments.NewStripeVerifier(cfg.Gateway.StripeAPIKey)
		if err != nil {
			return nil, nil, err
		}
		verifiers[models.ProviderGateway] = sv
	}
	if multi != nil && cfg.Chain.TreasuryAddress != "" {
		verifiers[models.ProviderOnChain] = &payments.OnChainVerifier{
			RPC:      multi,
			Treasury: cfg.Chain.TreasuryAddress,
			Currency: cfg.Gateway.NativeCurrency,
		}
	}

	var webhook *notify.Webhook
	if cfg.Notify.WebhookURL != "" {
		webhook = notify.NewWebhook(cfg.Notify.WebhookURL)
	}

	issuance := &services.IssuanceService{
		Store:         st,
		Verifiers:     verifiers,
		NewExecutor:   newExecutor,
		SignerAddress: cfg.Chain.SignerAddress,
		LockTTL:       time.Duration(cfg.Issuance.LockTTLMinutes) * time.Minute,
		Notifier:      webhook,
		Logger:        log,
	}

	return issuance, rpc, nil
}
