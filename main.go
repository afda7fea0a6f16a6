package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/hoepeyemi/solick-sub001/internal/config"
	"github.com/hoepeyemi/solick-sub001/internal/db"
	"github.com/hoepeyemi/solick-sub001/internal/events"
	"github.com/hoepeyemi/solick-sub001/internal/handler"
	"github.com/hoepeyemi/solick-sub001/internal/listener"
	"github.com/hoepeyemi/solick-sub001/internal/middleware"
	"github.com/hoepeyemi/solick-sub001/internal/services"
	"github.com/hoepeyemi/solick-sub001/internal/verifier"
	"github.com/hoepeyemi/solick-sub001/utils"
)

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		utils.DefaultLogger.Error("load config: %v", err)
		os.Exit(1)
	}
	log := utils.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config: %v", err)
		os.Exit(1)
	}

	conn, err := db.Open(cfg)
	if err != nil {
		log.Error("database connection failed: %v", err)
		os.Exit(1)
	}
	if cfg.Database.Driver == "postgres" && cfg.Database.Migrations != "" {
		err = db.RunMigrations(conn, cfg.Database.Migrations)
	} else {
		err = db.AutoMigrate(conn)
	}
	if err != nil {
		log.Error("migration failed: %v", err)
		os.Exit(1)
	}
	log.Info("database ready (%s)", cfg.Database.Driver)

	sol, err := services.InitSolana(cfg)
	if err != nil {
		log.Error("solana init failed: %v", err)
		os.Exit(1)
	}
	payer := sol.PayerAddress()
	if payer == "" {
		log.Warn("no fee payer configured, sponsorship disabled")
	} else {
		log.Info("fee payer %s", payer)
	}

	publisher := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	price, err := cfg.Price()
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	quotes := services.NewQuoteGenerator(services.QuoteConfig{
		Recipient:    cfg.Solana.Recipient,
		TokenMint:    cfg.Solana.TokenMint,
		TokenProgram: cfg.Solana.TokenProgram,
		Price:        price,
		Decimals:     cfg.Solana.Decimals,
		Network:      cfg.Solana.Network,
	})
	if _, err := quotes.Quote(); err != nil {
		log.Error("invalid quote settings: %v", err)
		os.Exit(1)
	}

	v := verifier.New(sol.Reader(log),
		verifier.WithRetryPolicy(verifier.RetryPolicy{
			InitialDelay: cfg.Verifier.InitialDelay,
			MaxRetries:   cfg.Verifier.MaxRetries,
			Interval:     cfg.Verifier.RetryInterval,
		}),
		verifier.WithPermissiveFallback(cfg.Verifier.AllowPermissive),
		verifier.WithNetwork(cfg.Solana.Network),
		verifier.WithLogger(log),
	)

	ledger := services.NewCreditLedger(conn, publisher, log)
	wallets := services.NewWalletResolver(conn)
	payments := services.NewPaymentService(quotes, v, ledger, wallets, log)

	policy, err := services.ParseRefundPolicy(cfg.Sponsorship.RefundPolicy)
	if err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
	accountant := services.NewSponsorshipAccountant(conn, ledger,
		sol.Submitter(cfg.Sponsorship.MaxRetries, log), quotes, policy,
		cfg.Solana.Network, publisher, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := listener.New(conn, payments, ledger, listener.Options{
		Workers:    cfg.App.Workers,
		PendingTTL: cfg.Verifier.PendingTTL,
	}, log)
	if err := reconciler.Start(ctx, cfg.App.ReconcileSpec); err != nil {
		log.Error("start reconciler: %v", err)
		os.Exit(1)
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	handler.RegisterRoutes(r, &handler.Handler{
		DB:           conn,
		Quotes:       quotes,
		Payments:     payments,
		Ledger:       ledger,
		Sponsorship:  accountant,
		Wallets:      wallets,
		PayerAddress: payer,
		Network:      cfg.Solana.Network,
		ReadyAfter:   2 * time.Second,
	})

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.App.Port), Handler: r}
	go func() {
		log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown: %v", err)
	}
	log.Info("stopped")
}
