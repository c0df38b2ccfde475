package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/meridianbank/corebank/internal/database"
	"github.com/meridianbank/corebank/internal/handlers"
	"github.com/meridianbank/corebank/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("pricefeed.base_url", "PRICEFEED_BASE_URL")
	viper.BindEnv("transfer.fee_account", "TRANSFER_FEE_ACCOUNT")
	viper.BindEnv("settlement.bic", "SETTLEMENT_BIC")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	viper.SetDefault("pricefeed.base_url", "http://localhost:9100")
	viper.SetDefault("pricefeed.cache_ttl", 30*time.Second)
	viper.SetDefault("settlement.bic", "MERIDIAN")

	// Initialize storage
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Collaborators
	var prices services.PriceFeed = services.NewHTTPPriceFeed(viper.GetString("pricefeed.base_url"))
	if redisClient != nil {
		prices = services.NewCachedPriceFeed(prices, redisClient, viper.GetDuration("pricefeed.cache_ttl"))
	}

	var notifier services.NotificationSink = services.LogNotificationSink{}
	if redisClient != nil {
		notifier = services.NewRedisNotificationSink(redisClient)
	}

	// Core services
	ledger := services.NewLedgerService(db)
	records := services.NewTransactionStore(db, ledger)
	transfers := services.NewTransferService(db, ledger, records, notifier, services.LoadTransferConfig())
	deposits := services.NewCheckDepositService(db, ledger, records, nil, notifier)
	bitcoin := services.NewBitcoinService(db, ledger, records, prices, notifier)
	investments := services.NewInvestmentService(db, ledger, records, prices, notifier)
	gateway := services.NewISO20022Gateway(viper.GetString("settlement.bic"))
	wires := services.NewWireService(db, transfers, services.ABARoutingLookup{}, gateway)
	scheduler := services.NewSettlementScheduler(transfers, deposits)

	transferHandler := handlers.NewTransferHandler(transfers, wires)
	depositHandler := handlers.NewDepositHandler(deposits)
	walletHandler := handlers.NewWalletHandler(ledger, records, bitcoin, investments)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/transfers", transferHandler.CreateTransfer)
		r.Post("/transfers/external", transferHandler.CreateExternalTransfer)
		r.Get("/transfers/{reference}", transferHandler.GetTransfer)
		r.Post("/transfers/{reference}/cancel", transferHandler.CancelTransfer)
		r.Post("/transfers/{reference}/approve", transferHandler.ApproveTransfer)
		r.Post("/transfers/{reference}/reject", transferHandler.RejectTransfer)
		r.Get("/accounts/{accountID}/beneficiaries", transferHandler.ListBeneficiaries)

		r.Post("/deposits", depositHandler.CreateDeposit)
		r.Get("/deposits/{reference}", depositHandler.GetDeposit)
		r.Post("/deposits/{reference}/approve", depositHandler.ApproveDeposit)
		r.Post("/deposits/{reference}/reject", depositHandler.RejectDeposit)
		r.Post("/deposits/{reference}/complete", depositHandler.CompleteDeposit)

		r.Get("/accounts/{accountID}/balances", walletHandler.GetBalances)
		r.Get("/transactions/{reference}", walletHandler.GetTransaction)
		r.Post("/transactions/{reference}/reverse", walletHandler.ReverseTransaction)

		r.Post("/bitcoin/send", walletHandler.SendBitcoin)

		r.Post("/investments", walletHandler.PurchaseInvestment)
		r.Get("/investments/{investmentID}", walletHandler.GetInvestment)
		r.Post("/investments/{investmentID}/sell", walletHandler.SellInvestment)

		// manual sweep for operators; the background loop covers normal operation
		r.Post("/settlement/sweep", func(w http.ResponseWriter, r *http.Request) {
			result := scheduler.RunSweep()
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]int{
				"transfers_settled":  result.TransfersSettled,
				"deposits_completed": result.DepositsCompleted,
				"failed":             result.Failed,
			})
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Settlement sweeps run until shutdown
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	go scheduler.Run(schedCtx)

	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
