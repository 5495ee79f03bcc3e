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

	"project_chatflow/internal/config"
	"project_chatflow/internal/entities"
	"project_chatflow/internal/infrastructure"
	"project_chatflow/internal/interfaces"
	apphttp "project_chatflow/internal/interfaces/http"
	"project_chatflow/internal/logging"
	"project_chatflow/internal/repository"
	"project_chatflow/internal/usecases"
	"project_chatflow/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.mau.fi/whatsmeow/types/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and channel listeners",
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env")
		cfg, err := config.Load(envFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type workflowStore interface {
	interfaces.DefinitionStore
	apphttp.WorkflowStore
}

type sessionStore interface {
	interfaces.SessionStore
	apphttp.SessionHistory
}

type stores struct {
	workflows workflowStore
	sessions  sessionStore
	config    apphttp.ConfigStore
	tenants   *repository.TenantManager
	health    func(ctx context.Context) error
	close     func()
}

// openStores uses Postgres when DATABASE_URL is set and in-memory stores otherwise
func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory stores")
		return &stores{
			workflows: repository.NewMemoryWorkflowStore(),
			sessions:  repository.NewMemorySessionStore(),
			config:    repository.NewMemoryConfigStore(),
			close:     func() {},
		}, nil
	}

	pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	tenants := repository.NewTenantManager(pg.Pool)
	if _, err := tenants.EnsureSchema(ctx, cfg.DefaultTenant); err != nil {
		pg.Close()
		return nil, err
	}
	return &stores{
		workflows: repository.NewWorkflowRepository(pg.Pool),
		sessions:  repository.NewSessionRepository(pg.Pool, tenants),
		config:    repository.NewConfigRepository(pg.Pool),
		tenants:   tenants,
		health:    pg.Ping,
		close:     pg.Close,
	}, nil
}

func seedDefinitions(ctx context.Context, cfg *config.Config, st *stores, log zerolog.Logger) error {
	if cfg.DefinitionsDir == "" {
		return nil
	}
	defs, err := repository.LoadDefinitions([]string{cfg.DefinitionsDir}, cfg.DefaultTenant)
	if err != nil {
		return fmt.Errorf("load definitions: %w", err)
	}
	for _, def := range defs {
		if _, err := workflow.Compile(def); err != nil {
			return err
		}
		if st.tenants != nil {
			if _, err := st.tenants.EnsureSchema(ctx, def.TenantID); err != nil {
				return err
			}
		}
	}
	if err := repository.SeedDefinitions(ctx, st.workflows, defs); err != nil {
		return err
	}
	log.Info().Int("count", len(defs)).Str("dir", cfg.DefinitionsDir).Msg("seeded workflow definitions")
	return nil
}

func newConversationLocks(ctx context.Context, cfg *config.Config, log zerolog.Logger) (interfaces.ConversationLocker, error) {
	locks := workflow.NewConversationLocks()
	if cfg.RedisAddr == "" {
		return locks, nil
	}
	client, err := infrastructure.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	log.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.RedisLockTTL).Msg("using redis conversation locks")
	remote := infrastructure.NewRedisLocker(client, "chatflow:").WithLogger(log)
	return infrastructure.NewDistributedLocks(locks, remote, cfg.RedisLockTTL, log), nil
}

// whatsAppHandler routes direct WhatsApp Web messages of a tenant into the pipeline
func whatsAppHandler(ctx context.Context, process func(context.Context, entities.Message)) func(schema string) func(interface{}) {
	return func(schema string) func(interface{}) {
		return func(evt interface{}) {
			v, ok := evt.(*events.Message)
			if !ok || v.Info.IsGroup || v.Info.IsFromMe {
				return
			}
			sender, content, replyID := infrastructure.ParseMessage(v)
			if content == "" && replyID == "" {
				return
			}
			msg := entities.Message{
				ID:         string(v.Info.ID),
				From:       sender,
				Content:    content,
				Platform:   entities.PlatformWhatsApp,
				SchemaName: schema,
				ReplyID:    replyID,
				IsCallback: replyID != "",
			}
			if replyID != "" {
				msg.ReplyTitle = content
			}
			go process(ctx, msg)
		}
	}
}

// connectTelegramBots starts the env-configured bot and every bot token stored per tenant
func connectTelegramBots(ctx context.Context, cfg *config.Config, st *stores, tg *infrastructure.TelegramBotManager, log zerolog.Logger) {
	if cfg.TelegramToken != "" {
		if _, err := tg.ConnectBot(ctx, cfg.TelegramTenant, cfg.TelegramToken); err != nil {
			log.Warn().Err(err).Str("tenant", cfg.TelegramTenant).Msg("telegram disabled")
		}
	}
	if st.tenants == nil {
		return
	}
	schemas, err := st.tenants.ListSchemas(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cannot list tenants for telegram restore")
		return
	}
	for _, schema := range schemas {
		token, err := st.config.GetConfig(ctx, schema, apphttp.TelegramTokenKey)
		if err != nil || token == "" {
			continue
		}
		if _, err := tg.ConnectBot(ctx, schema, token); err != nil {
			log.Warn().Err(err).Str("tenant", schema).Msg("cannot restore telegram bot")
		}
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set, dashboard API tokens cannot be verified")
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.close()

	if err := seedDefinitions(ctx, cfg, st, log); err != nil {
		return err
	}

	locks, err := newConversationLocks(ctx, cfg, log)
	if err != nil {
		return err
	}

	// Outbound channels
	router := infrastructure.NewChannelRouter()
	outbox := infrastructure.NewWebOutbox(100)
	router.Register(entities.PlatformWeb, outbox)
	if cfg.CloudToken != "" {
		router.Register(entities.PlatformWACloud, infrastructure.NewWhatsAppBusinessClient(cfg.CloudToken, cfg.CloudPhoneID, cfg.CloudBaseURL))
	}
	waManager := infrastructure.NewWhatsAppManager(cfg.WhatsAppDevicesDir, log)
	router.Register(entities.PlatformWhatsApp, waManager)
	tgManager := infrastructure.NewTelegramBotManager(log)
	router.Register(entities.PlatformTelegram, tgManager)

	sender := infrastructure.NewThrottledSender(router, cfg.SendRate, cfg.SendBurst)
	go sender.Run(ctx, time.Minute)

	// Session events feed the Prometheus counters
	bus := infrastructure.NewEventBus(log)
	defer bus.Close()
	metrics := infrastructure.NewMetrics()
	if err := bus.Subscribe(ctx, metrics.Observe); err != nil {
		return err
	}

	engine := workflow.NewEngine(st.workflows, st.sessions, sender,
		workflow.WithOptions(workflow.Options{
			PacingDelay:  cfg.PacingDelay,
			GalleryPause: cfg.GalleryPause,
			MaxHops:      cfg.MaxHops,
		}),
		workflow.WithLocker(locks),
		workflow.WithEvents(bus),
		workflow.WithLogger(log),
	)

	sweeper := infrastructure.NewSessionSweeper(engine, cfg.SessionIdleTTL, log)
	if err := sweeper.Start(cfg.SweepSchedule); err != nil {
		return err
	}
	defer sweeper.Stop()

	service := usecases.NewMessageService(engine, sender, st.config, log)
	process := func(ctx context.Context, msg entities.Message) {
		if err := service.ProcessMessage(ctx, msg); err != nil {
			log.Warn().Err(err).
				Str("tenant", msg.Tenant()).
				Str("conversation", msg.ConversationID()).
				Msg("failed to process message")
		}
	}

	// Inbound channels
	waManager.HandlerFactory = whatsAppHandler(ctx, process)
	go waManager.RestoreSessions(ctx)
	defer waManager.DisconnectAll()

	tgManager.OnMessage = process
	connectTelegramBots(ctx, cfg, st, tgManager, log)
	defer tgManager.DisconnectAll()

	handler := apphttp.NewHandler(apphttp.Deps{
		Messages:      service,
		Workflows:     st.workflows,
		Sessions:      st.sessions,
		Graphs:        engine,
		Config:        st.config,
		Outbox:        outbox,
		WhatsApp:      waManager,
		Telegram:      tgManager,
		Metrics:       metrics.Handler(),
		Health:        st.health,
		Cloud:         apphttp.CloudSettings{VerifyToken: cfg.CloudVerifyToken, Tenant: cfg.CloudTenant},
		DefaultTenant: cfg.DefaultTenant,
		Log:           log,
		BaseContext:   ctx,
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	apphttp.SetupRoutes(r, handler, apphttp.NewMiddleware(cfg.JWTSecret))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Strs("channels", router.Platforms()).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
