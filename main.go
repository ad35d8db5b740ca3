package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"linkit/pkg/config"
	"linkit/pkg/db"
	"linkit/pkg/mail"
	"linkit/services/integrations"
	"linkit/services/monitor"
	"linkit/services/registry"
	"linkit/services/workflow"
)

type cli struct {
	v   *viper.Viper
	cfg config.Config
}

func setupFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := cmd.PersistentFlags()
	flags.String("config-file", "", "Path to config file.")
	flags.String("http-addr", ":8080", "address the HTTP server listens on")
	flags.String("allowed-origins", "http://localhost:3003", "comma separated list of CORS origins")
	flags.String("log-level", "debug", "log level: debug, info, warn or error")
	flags.String("public-url", "http://localhost:8080", "externally reachable base URL for provider webhooks")
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.Int("db-max-conns", 10, "maximum open database connections")
	flags.Duration("db-conn-lifetime", time.Hour, "maximum lifetime of a database connection")
	flags.Duration("db-connect-timeout", 30*time.Second, "how long to retry the first database connection")
	flags.Duration("scan-interval", monitor.DefaultScanInterval, "how often enabled workflows are rescanned")
	flags.Duration("poll-interval", monitor.DefaultPollInterval, "how often each trigger is checked")
	flags.Int("cascade-concurrency", monitor.DefaultConcurrency, "maximum sibling reactions run at once")
	flags.String("smtp-host", "", "SMTP server host")
	flags.Int("smtp-port", 587, "SMTP server port")
	flags.String("smtp-user", "", "SMTP user name")
	flags.String("smtp-password", "", "SMTP password")
	flags.String("smtp-from", "", "sender address of outgoing mail")
	flags.String("weather-url", "", "Open-Meteo API base URL")
	flags.String("discord-bot-token", "", "Discord bot token")
	for _, provider := range []string{"discord", "google", "microsoft", "spotify", "twitch"} {
		flags.String(provider+"-client-id", "", provider+" OAuth client ID")
		flags.String(provider+"-client-secret", "", provider+" OAuth client secret")
		flags.String(provider+"-redirect-url", "", provider+" OAuth redirect URL")
	}
	flags.String("twitch-webhook-secret", "", "secret used to sign Twitch EventSub deliveries")

	v.SetEnvPrefix("linkit")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("database-url", "DATABASE_URL", "LINKIT_DATABASE_URL"); err != nil {
		return err
	}
	return v.BindPFlags(flags)
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	if configFile != "" {
		c.v.SetConfigFile(configFile)
		if err := c.v.ReadInConfig(); err != nil {
			// it's ok if config file doesn't exist
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return err
			}
		}
	}

	c.cfg, err = config.Load(c.v)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(c.cfg.LogLevel),
	})))
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func (c *cli) connect(ctx context.Context) (*pgxpool.Pool, error) {
	pool, err := db.Connect(ctx, c.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := workflow.InitDB(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	return pool, nil
}

func (c *cli) seed(cmd *cobra.Command, args []string) error {
	file, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	pool, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := workflow.NewRepository(pool).Seed(ctx, data); err != nil {
		return err
	}
	slog.Info("Seed loaded", "file", file)
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := integrations.NewStore(pool)
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	var mailer mail.Sender
	if c.cfg.SMTP.Host != "" {
		mailer = mail.NewSMTPSender(c.cfg.SMTP)
	}
	oauth := integrations.NewOAuth(store, integrations.OAuthConfigs(c.cfg))
	reg := registry.New()
	err = integrations.Register(reg, integrations.Deps{
		Clients:         oauth,
		Webhooks:        store,
		Mailer:          mailer,
		BaseURLs:        integrations.BaseURLs{Weather: c.cfg.WeatherURL},
		PublicURL:       c.cfg.PublicURL,
		DiscordBotToken: c.cfg.Discord.BotToken,
		TwitchClientID:  c.cfg.Twitch.ClientID,
		TwitchSecret:    c.cfg.Twitch.WebhookSecret,
	})
	if err != nil {
		return err
	}
	services := reg.GetAllServices()

	scheduler, err := monitor.NewCronScheduler()
	if err != nil {
		return err
	}
	defer scheduler.Shutdown()

	repo := workflow.NewRepository(pool)
	metrics := prometheus.NewRegistry()
	metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mon := monitor.New(repo, scheduler,
		monitor.WithHistory(repo),
		monitor.WithMetrics(monitor.NewMetrics(metrics)),
		monitor.WithScanInterval(c.cfg.Monitor.ScanInterval),
		monitor.WithPollInterval(c.cfg.Monitor.PollInterval),
		monitor.WithConcurrency(c.cfg.Monitor.Concurrency),
	)
	monitorDone := make(chan error, 1)
	go func() {
		monitorDone <- mon.Run(ctx, services)
	}()

	// setup router
	mainRouter := mux.NewRouter()
	mainRouter.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{})).Methods("GET")

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()
	runner := mon.Runner(services)
	registry.NewHandler(reg, store).LoadRoutes(apiRouter)
	workflow.NewService(repo, runner).LoadRoutes(apiRouter)
	integrations.NewWebhookHandler(store, runner, c.cfg.Twitch.WebhookSecret).LoadRoutes(apiRouter)
	oauth.LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(c.cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    c.cfg.HTTPAddr,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", c.cfg.HTTPAddr)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		slog.Error("Server error", "error", err)
		stop()
		<-monitorDone
		return err

	case <-ctx.Done():
		slog.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
		return <-monitorDone
	}
}

func main() {
	cli := &cli{v: viper.New()}

	cmd := &cobra.Command{
		Use:               "linkit",
		Short:             "Workflow monitoring and execution server",
		PersistentPreRunE: cli.setupConfig,
		RunE:              cli.run,
		SilenceUsage:      true,
	}
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load workflows from a YAML file",
		RunE:  cli.seed,
	}
	seedCmd.Flags().String("file", "seed.yaml", "YAML file describing the workflows")
	cmd.AddCommand(seedCmd)

	if err := setupFlags(cmd, cli.v); err != nil {
		slog.Error("Failed to set up flags", "error", err)
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
