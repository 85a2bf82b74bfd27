package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/gestix-erp/gestix/internal/agenda"
	"github.com/gestix-erp/gestix/internal/app"
	"github.com/gestix-erp/gestix/internal/interventions"
	"github.com/gestix-erp/gestix/internal/inventory"
	"github.com/gestix-erp/gestix/internal/invoices"
	"github.com/gestix-erp/gestix/internal/observability"
	"github.com/gestix-erp/gestix/internal/platform/cache"
	"github.com/gestix-erp/gestix/internal/platform/db"
	"github.com/gestix-erp/gestix/internal/quotes"
	"github.com/gestix-erp/gestix/internal/rbac"
	"github.com/gestix-erp/gestix/internal/shared"
	"github.com/gestix-erp/gestix/internal/timesheets"
	"github.com/gestix-erp/gestix/jobs"
)

// quoteMailer queues the outbound email when a quote goes out.
type quoteMailer struct {
	client *jobs.Client
	logger *slog.Logger
}

func (m quoteMailer) QuoteSent(ctx context.Context, q *quotes.Quote) {
	// The relay resolves the recipient from the client record.
	_, err := m.client.EnqueueSendEmail(ctx, jobs.SendEmailPayload{
		Subject: fmt.Sprintf("Votre devis %s", q.Number),
		Body:    fmt.Sprintf("Le devis %s (%s) vous a été transmis.", q.Number, q.Title),
	})
	if err != nil {
		m.logger.Warn("enqueue quote email", slog.String("number", q.Number), slog.Any("error", err))
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	rbacService := rbac.NewService(pool, redisClient, cfg.RBACCacheTTL)
	rbacMiddleware := rbac.Middleware{Service: rbacService, Logger: logger}
	permissionsHandler := rbac.NewPermissionsHandler(rbacService, logger)

	idempotencyStore := shared.NewIdempotencyStore(pool)
	eventLog := interventions.NewEventLog(pool, logger)

	interventionRepo := interventions.NewRepository(pool)
	interventionService := interventions.NewService(interventionRepo, eventLog)
	interventionHandler := interventions.NewHandler(logger, interventionService, eventLog, rbacMiddleware)

	inventoryRepo := inventory.NewRepository(pool)
	inventoryService := inventory.NewService(inventoryRepo, idempotencyStore, logger)
	inventoryService.SetReservationCounter(metrics.ReservationsTotal)
	inventoryHandler := inventory.NewHandler(logger, inventoryService, inventoryRepo, rbacMiddleware)

	quoteRepo := quotes.NewRepository(pool)
	quoteService := quotes.NewService(quoteRepo, inventoryService, interventionService,
		quotes.PropagationPolicy{ApplyLineDiscounts: cfg.PropagateLineDiscounts}, logger)
	quoteHandler := quotes.NewHandler(logger, quoteService, rbacMiddleware)

	invoiceRepo := invoices.NewRepository(pool)
	invoiceService := invoices.NewService(invoiceRepo, interventionService, logger)
	invoiceService.SetGeneratedCounter(metrics.InvoicesGenerated)
	invoiceHandler := invoices.NewHandler(logger, invoiceService, rbacMiddleware)

	timesheetRepo := timesheets.NewRepository(pool)
	timesheetService := timesheets.NewService(timesheetRepo, eventLog, logger)
	timesheetHandler := timesheets.NewHandler(logger, timesheetService, rbacMiddleware)

	agendaRepo := agenda.NewRepository(pool)
	agendaService := agenda.NewService(agendaRepo, logger)
	agendaHandler := agenda.NewHandler(logger, agendaService, rbacMiddleware)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, jobsClient, logger)

	quoteService.SetNotifier(quoteMailer{client: jobsClient, logger: logger})

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		QuotesHandler:        quoteHandler,
		InterventionsHandler: interventionHandler,
		InvoicesHandler:      invoiceHandler,
		InventoryHandler:     inventoryHandler,
		TimesheetsHandler:    timesheetHandler,
		AgendaHandler:        agendaHandler,
		PermissionsHandler:   permissionsHandler,
		JobsHandler:          jobsHandler,
		Pool:                 pool,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
