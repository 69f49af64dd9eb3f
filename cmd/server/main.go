package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/apmoney/backend/cmd/routes"
	"github.com/apmoney/backend/internal/commission"
	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/internal/recon"
	"github.com/apmoney/backend/internal/transaction"
	"github.com/apmoney/backend/internal/user"
	"github.com/apmoney/backend/internal/wallet"
	"github.com/apmoney/backend/internal/webhook"
	"github.com/apmoney/backend/pkg/config"
	"github.com/apmoney/backend/pkg/database"
	"github.com/apmoney/backend/pkg/events"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/metrics"
)

func main() {
	cfg := config.LoadConfig()

	database.Connect(cfg.DBUrl)
	database.Migrate(
		&user.User{},
		&wallet.Wallet{},
		&wallet.LedgerEntry{},
		&transaction.Transaction{},
		&provider.Account{},
		&provider.OperatorMapping{},
		&commission.Pack{},
		&commission.OperatorRate{},
		&webhook.Log{},
		&recon.SettlementFile{},
		&recon.Report{},
	)

	redisClient := events.NewRedisClient(cfg)
	m := metrics.New(prometheus.DefaultRegisterer)

	userRepo := user.NewRepository(database.DB)
	walletRepo := wallet.NewRepository(database.DB)
	walletEngine := wallet.NewEngine(wallet.NewStore(database.DB))
	txnRepo := transaction.NewRepository(database.DB)
	accountRepo := provider.NewAccountRepository(database.DB)
	reconRepo := recon.NewRepository(database.DB)
	webhookLogs := webhook.NewLogRepository(database.DB)

	registry := provider.NewRegistry(accountRepo, cfg.IsProduction())
	registry.Register(provider.SandboxKey, provider.NewSandbox(config.ProviderSecret(provider.SandboxKey), cfg.IsProduction()))

	router := provider.NewRouter(accountRepo, registry)

	commissionSvc := commission.NewService(commission.NewRepository(database.DB), userRepo, walletEngine)
	reconEngine := recon.NewEngine(reconRepo, txnRepo, registry, m)
	machine := transaction.NewMachine(txnRepo, walletEngine, commissionSvc, reconEngine, redisClient, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := transaction.NewWorker(cfg, redisClient, machine, router, txnRepo, m)
	go worker.Start(ctx)

	healthChecker := provider.NewHealthChecker(accountRepo, registry, cfg.ProviderHealthInterval)
	healthChecker.Start(ctx)

	r := mux.NewRouter()
	handler := routes.RegisterRoutes(r, routes.Deps{
		Config:       cfg,
		Redis:        redisClient,
		Users:        userRepo,
		Wallets:      walletRepo,
		WalletEngine: walletEngine,
		Txns:         txnRepo,
		Machine:      machine,
		Registry:     registry,
		ReconEngine:  reconEngine,
		ReconRepo:    reconRepo,
		WebhookLogs:  webhookLogs,
		Metrics:      m,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("Server starting", logger.Fields{"port": cfg.Port, "env": cfg.Env})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Could not listen", logger.Fields{"port": cfg.Port, "error": err.Error()})
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
	logger.Info("Server gracefully shut down")
}
