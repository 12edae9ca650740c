// Command settlementd runs the auction settlement service: the gateway
// callback server, the payment session API and, when configured, the
// realtime feed of auction and payment events for one user.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-auction-settlement/internal/apiclient"
	"github.com/tbourn/go-auction-settlement/internal/config"
	"github.com/tbourn/go-auction-settlement/internal/domain"
	"github.com/tbourn/go-auction-settlement/internal/gateway"
	httpapi "github.com/tbourn/go-auction-settlement/internal/http"
	"github.com/tbourn/go-auction-settlement/internal/http/handlers"
	"github.com/tbourn/go-auction-settlement/internal/message"
	"github.com/tbourn/go-auction-settlement/internal/notify"
	"github.com/tbourn/go-auction-settlement/internal/observability"
	"github.com/tbourn/go-auction-settlement/internal/realtime"
	"github.com/tbourn/go-auction-settlement/internal/repo"
	"github.com/tbourn/go-auction-settlement/internal/session"
	"github.com/tbourn/go-auction-settlement/internal/sysutil"
	"github.com/tbourn/go-auction-settlement/internal/winner"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if !sysutil.IsTruthy(os.Getenv("SKIP_DOTENV")) {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	sysutil.ConfigureLogger(os.Stderr, cfg.LogPretty)
	sysutil.SetLogLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("settlementd exited")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	lg := log.With().Str("component", "settlementd").Logger()
	ver := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			lg.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	receipts := repo.NewReceipts(db, cfg.ReceiptTTL)

	sessions := session.NewManager(session.NewMemoryStorage(), session.Config{
		Timeout:           cfg.Session.Timeout,
		SweepInterval:     cfg.Session.SweepInterval,
		MaxActiveSessions: cfg.Session.MaxActiveSessions,
		MaxActivePerUser:  cfg.Session.MaxActivePerUser,
	})
	if err := sessions.Start(); err != nil {
		return err
	}
	defer sessions.Stop()

	gw := gateway.NewHelper(gateway.Config{
		AppID:       cfg.Gateway.AppID,
		Key1:        cfg.Gateway.Key1,
		Key2:        cfg.Gateway.Key2,
		CallbackURL: cfg.Gateway.CallbackURL,
		RedirectURL: cfg.Gateway.RedirectURL,
		Production:  cfg.Gateway.Production,
	})

	processor := winner.NewProcessor()
	deps := handlers.Deps{
		Sessions:       sessions,
		Gateway:        gw,
		Receipts:       receipts,
		IdempotencyTTL: cfg.IdempotencyTTL,
		OnPaid:         paymentSettled(processor),
	}
	if cfg.API.BaseURL != "" {
		httpc := &http.Client{Timeout: cfg.API.Timeout}
		var tokens apiclient.TokenSource
		if cfg.API.Token != "" {
			tokens = apiclient.StaticToken(cfg.API.Token)
		}
		deps.Winners = winner.NewManager(winner.Deps{
			API:       apiclient.New(cfg.API.BaseURL, tokens, httpc),
			Sessions:  sessions,
			Gateway:   gw,
			Orders:    gateway.NewClient(gw, httpc),
			Processor: processor,
		})
	} else {
		lg.Info().Msg("API_BASE_URL not set; checkout disabled")
	}

	jobs := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(&lg))))
	if _, err := jobs.AddFunc("@every 1h", func() {
		n, err := receipts.Purge(context.Background())
		if err != nil {
			lg.Error().Err(err).Msg("receipt purge failed")
			return
		}
		lg.Debug().Int64("removed", n).Msg("receipts purged")
	}); err != nil {
		return fmt.Errorf("schedule receipt purge: %w", err)
	}
	if _, err := jobs.AddFunc("@every 1m", func() {
		if n := processor.RemoveExpired(); n > 0 {
			lg.Debug().Int("removed", n).Msg("expired notifications dropped")
		}
	}); err != nil {
		return fmt.Errorf("schedule notification expiry: %w", err)
	}
	jobs.Start()
	defer func() { <-jobs.Stop().Done() }()

	if cfg.Realtime.URL != "" {
		stopFeed := startRealtime(ctx, cfg, processor, lg)
		defer stopFeed()
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, db, deps, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errc := make(chan error, 1)
	go func() {
		lg.Info().Str("addr", srv.Addr).Str("version", ver).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	lg.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	lg.Info().Msg("http server stopped")
	return nil
}

// paymentSettled reports a session paid through the gateway to processor as
// a completed payment.
func paymentSettled(processor *winner.Processor) func(domain.PaymentSession, gateway.CallbackPayload) {
	return func(s domain.PaymentSession, p gateway.CallbackPayload) {
		processor.Process(message.PaymentStatus{
			PaymentID:     s.ID,
			UserID:        s.UserID,
			Status:        message.PaymentCompleted,
			TransactionID: strconv.FormatInt(p.ZPTransID, 10),
		})
	}
}

// feed validates realtime frames and routes them to the notification
// handler and the processor.
type feed struct {
	disc    *message.Discriminator
	handler *notify.Handler
	router  *notify.Router
	log     zerolog.Logger
}

func newFeed(cfg config.Config, processor *winner.Processor, cb notify.Callbacks, lg zerolog.Logger) *feed {
	handler := notify.NewHandler(notify.HandlerConfig{
		DedupWindow:   cfg.Messaging.DedupWindow,
		SweepInterval: cfg.Messaging.SweepInterval,
		MaxHistory:    cfg.Messaging.MaxHistory,
	}, cb)
	router := notify.NewRouter(cfg.Realtime.UserID, handler, nil)
	router.AddRoute(notify.Route{
		Name: "winner_processor",
		Types: []message.Type{
			message.TypeAuctionResult,
			message.TypeSecondChanceOffer,
			message.TypePaymentStatus,
			message.TypeBookingConfirmed,
		},
		Priority: 10,
		Handle: func(_ context.Context, m message.Message) error {
			processor.Process(m)
			return nil
		},
	})
	return &feed{disc: message.NewDiscriminator(), handler: handler, router: router, log: lg}
}

// deliver handles one decoded frame. Invalid frames are logged and dropped.
func (f *feed) deliver(ctx context.Context, raw message.Raw) {
	res := f.disc.DiscriminateValue(raw)
	if !res.Valid {
		f.log.Warn().Str("message_type", string(res.Type)).Strs("errors", res.Errors).Msg("realtime frame rejected")
		return
	}
	if err := f.router.Route(ctx, res.Message); err != nil {
		f.log.Warn().Err(err).Str("message_type", string(res.Type)).Msg("realtime frame routing failed")
	}
}

func (f *feed) close() { f.router.Close() }

// startRealtime connects the websocket feed for the configured user and
// pipes frames through the feed into the processor. The returned func tears
// everything down.
func startRealtime(ctx context.Context, cfg config.Config, processor *winner.Processor, lg zerolog.Logger) func() {
	f := newFeed(cfg, processor, notify.Callbacks{
		OnNotification: func(n domain.PaymentNotification) {
			lg.Info().Str("notification_id", n.ID).Str("type", string(n.Type)).Msg(n.Title)
		},
		OnStatusUpdate: func(u notify.StatusUpdate) {
			lg.Info().Str("entity", u.Kind).Str("id", u.ID).Str("status", u.Status).Msg("status update")
		},
	}, lg)

	conn := realtime.New(realtime.Config{
		URL:                  cfg.Realtime.URL,
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		BaseDelay:            cfg.Realtime.BaseDelay,
		MaxDelay:             cfg.Realtime.MaxDelay,
	})
	err := conn.Connect(ctx, cfg.Realtime.UserID, func(raw message.Raw) { f.deliver(ctx, raw) })
	if err != nil {
		// Connect keeps retrying in the background.
		lg.Warn().Err(err).Msg("realtime connect failed")
	}

	return func() {
		conn.Disconnect()
		f.close()
	}
}
