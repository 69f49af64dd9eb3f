package routes

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/time/rate"

	"github.com/apmoney/backend/internal/auth"
	"github.com/apmoney/backend/internal/middleware"
	"github.com/apmoney/backend/internal/provider"
	"github.com/apmoney/backend/internal/recharge"
	"github.com/apmoney/backend/internal/recon"
	"github.com/apmoney/backend/internal/transaction"
	"github.com/apmoney/backend/internal/user"
	"github.com/apmoney/backend/internal/wallet"
	"github.com/apmoney/backend/internal/webhook"
	"github.com/apmoney/backend/pkg/config"
	"github.com/apmoney/backend/pkg/events"
	"github.com/apmoney/backend/pkg/logger"
	"github.com/apmoney/backend/pkg/metrics"
)

// Deps carries the long-lived components main wires at startup.
type Deps struct {
	Config       config.Config
	Redis        *events.RedisClient
	Users        user.Repository
	Wallets      wallet.Repository
	WalletEngine *wallet.Engine
	Txns         transaction.Repository
	Machine      *transaction.Machine
	Registry     *provider.Registry
	ReconEngine  *recon.Engine
	ReconRepo    recon.Repository
	WebhookLogs  webhook.LogRepository
	Metrics      *metrics.Metrics
}

func RegisterRoutes(r *mux.Router, d Deps) http.Handler {
	cfg := d.Config

	walletHandler := wallet.NewHandler(cfg, d.Wallets, d.WalletEngine)
	rechargeHandler := recharge.NewHandler(cfg, d.Txns, d.Wallets, d.WalletEngine, d.Redis)
	txnHandler := transaction.NewHandler(d.Machine, d.Txns)
	reconHandler := recon.NewHandler(d.ReconEngine, d.ReconRepo)

	pipeline := webhook.NewPipeline(d.Registry, d.Txns, d.Machine, d.WebhookLogs, d.Metrics, cfg.WebhookTimeTolerance)
	webhookHandler := webhook.NewHandler(pipeline)

	r.Use(middleware.LoggingMiddleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Providers call this unauthenticated; signatures are the gate.
	r.HandleFunc("/api/webhooks/{provider}", webhookHandler.Receive).Methods("POST")

	limiter := middleware.NewRateLimiter(rate.Limit(20), 40)

	walletR := r.PathPrefix("/api/wallet").Subrouter()
	walletR.Use(auth.JWTMiddleware(cfg, d.Users), limiter.Limit)
	walletR.HandleFunc("", walletHandler.CreateWallet).Methods("POST")
	walletR.HandleFunc("", walletHandler.GetWallet).Methods("GET")
	walletR.HandleFunc("/ledger", walletHandler.GetLedger).Methods("GET")

	rechargeR := r.PathPrefix("/api/recharge").Subrouter()
	rechargeR.Use(auth.JWTMiddleware(cfg, d.Users), limiter.Limit)
	rechargeR.HandleFunc("", rechargeHandler.Initiate).Methods("POST")
	rechargeR.HandleFunc("/transactions", rechargeHandler.List).Methods("GET")
	rechargeR.HandleFunc("/{txn_ref}", rechargeHandler.GetStatus).Methods("GET")

	adminR := r.PathPrefix("/api/admin").Subrouter()
	adminR.Use(auth.JWTMiddleware(cfg, d.Users), auth.RequireAdmin)
	adminR.HandleFunc("/wallets/credit", walletHandler.AdminCredit).Methods("POST")
	adminR.HandleFunc("/wallets/debit", walletHandler.AdminDebit).Methods("POST")
	adminR.HandleFunc("/transactions/{txn_ref}", txnHandler.GetByRef).Methods("GET")
	adminR.HandleFunc("/transactions/{txn_ref}/reverse", txnHandler.Reverse).Methods("POST")
	adminR.HandleFunc("/settlements/{provider}", reconHandler.UploadSettlement).Methods("POST")
	adminR.HandleFunc("/reconciliation/reports", reconHandler.ListReports).Methods("GET")
	adminR.HandleFunc("/reconciliation/reports/{id}/resolve", reconHandler.ResolveReport).Methods("POST")

	if !cfg.IsProduction() {
		r.HandleFunc("/swagger.yaml", func(w http.ResponseWriter, r *http.Request) {
			content, err := os.ReadFile("docs/swagger.yaml")
			if err != nil {
				logger.Error("Failed to read swagger.yaml", logger.Fields{"error": err.Error()})
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			modifiedContent := strings.Replace(string(content), "{{BASE_URL}}", "/", -1)
			modifiedContent = strings.Replace(modifiedContent, "{{MIN_RECHARGE_AMOUNT}}", fmt.Sprintf("%d", cfg.MinRechargeAmount), -1)

			w.Header().Set("Content-Type", "application/yaml")
			w.Write([]byte(modifiedContent))
		})

		r.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
			httpSwagger.URL("/swagger.yaml"),
		))
		logger.Info("Swagger documentation enabled at /swagger/index.html")
	}

	corsObj := handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return corsObj(r)
}
