package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/goliatone/go-connect"
	"github.com/goliatone/go-connect/connector"
	"github.com/goliatone/go-connect/connector/providers/searchconsole"
	"github.com/goliatone/go-connect/connector/providers/wix"
	"github.com/goliatone/go-connect/connector/providers/wordpress"
	"github.com/goliatone/go-connect/metrics"
	"github.com/goliatone/go-connect/middleware/jwtware"
	"github.com/goliatone/go-connect/repository"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type App struct {
	config  *connect.Config
	logger  *glog.BaseLogger
	repo    *repository.Manager
	service *connector.Service
	srv     router.Server[*fiber.App]
	closers []func() error
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("connectd"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	ctx := context.Background()
	cfg, err := connect.LoadConfig(ctx, *configPath, connect.WithConfigLogger(lgr.GetLogger("config")))
	if err != nil {
		panic(err)
	}

	app := &App{config: cfg, logger: lgr}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithConnector(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	go func() {
		if err := app.srv.Serve(cfg.ListenAddr); err != nil {
			app.GetLogger("http").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.srv.Shutdown(shutdownCtx); err != nil {
		app.GetLogger("http").Error("shutdown failed", "error", err)
	}
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.GetLogger("app").Warn("close failed", "error", err)
		}
	}
}

func WithPersistence(ctx context.Context, app *App) error {
	repo, err := repository.Open(ctx, app.config.Database)
	if err != nil {
		return err
	}
	repo.MustValidate()
	app.repo = repo
	app.onClose(repo.Close)
	return nil
}

func WithConnector(ctx context.Context, app *App) error {
	cfg := app.config
	logger := app.GetLogger("connector")

	adapters := platformAdapters(*cfg)
	enabled := cfg.EnabledOverrides()
	for _, d := range connect.DefaultPlatforms() {
		if _, ok := adapters[d.ID]; !ok {
			enabled[d.ID] = false
		}
	}
	registry, err := connect.NewRegistry(connect.WithOverrides(connect.DefaultPlatforms(), enabled)...)
	if err != nil {
		return err
	}

	list := make([]connector.PlatformAdapter, 0, len(adapters))
	for _, a := range adapters {
		list = append(list, a)
	}
	set, err := connector.NewAdapterSet(registry, list...)
	if err != nil {
		return err
	}

	states, err := connector.NewEncryptedStateManager(
		[]byte(cfg.State.EncryptionKey),
		[]byte(cfg.State.HMACKey),
		cfg.AttemptTTL,
	)
	if err != nil {
		return err
	}

	opts := []connector.Option{
		connector.WithLogger(logger),
		connector.WithStateTTL(cfg.AttemptTTL),
		connector.WithExchangeObserver(metrics.ObserveExchange),
	}

	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return connect.WrapError(connect.ErrInvalidConfig, err, map[string]any{"field": "redis_url"})
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(ctx).Err(); err != nil {
			return connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"backend": "redis"})
		}
		app.onClose(client.Close)
		opts = append(opts, connector.WithLedger(connector.NewRedisStateLedger(client, "")))
	}

	if cfg.AMQPURL != "" {
		sink, closeSink, err := connector.DialAMQPActivitySink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return connect.WrapError(connect.ErrBackendUnavailable, err, map[string]any{"backend": "amqp"})
		}
		app.onClose(closeSink)
		opts = append(opts, connector.WithActivitySink(sink))
	}

	service, err := connector.NewService(registry, set, app.repo.Connections(), states, opts...)
	if err != nil {
		return err
	}
	app.service = service

	logger.Info("connector ready", "platforms", set.IDs(), "redis", cfg.RedisURL != "", "amqp", cfg.AMQPURL != "")
	return nil
}

func platformAdapters(cfg connect.Config) map[string]connector.PlatformAdapter {
	out := map[string]connector.PlatformAdapter{}

	if p, ok := cfg.Platforms[connect.PlatformSearchAnalytics]; ok && p.ClientID != "" {
		out[connect.PlatformSearchAnalytics] = searchconsole.New(searchconsole.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			CallbackURL:  cfg.RedirectTarget(connect.PlatformSearchAnalytics),
			Scopes:       p.Scopes,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			SitesURL:     p.APIBaseURL,
		})
	}

	if p, ok := cfg.Platforms[connect.PlatformCMS]; ok && p.ClientID != "" {
		out[connect.PlatformCMS] = wordpress.New(wordpress.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			CallbackURL:  cfg.RedirectTarget(connect.PlatformCMS),
			Scopes:       p.Scopes,
			AuthURL:      p.AuthURL,
			TokenURL:     p.TokenURL,
			SitesURL:     p.APIBaseURL,
		})
	}

	if p, ok := cfg.Platforms[connect.PlatformSiteBuilder]; ok && p.ClientID != "" {
		out[connect.PlatformSiteBuilder] = wix.New(wix.Config{
			AppID:       p.ClientID,
			AppSecret:   p.ClientSecret,
			CallbackURL: cfg.RedirectTarget(connect.PlatformSiteBuilder),
			AuthURL:     p.AuthURL,
			TokenURL:    p.TokenURL,
			InstanceURL: p.APIBaseURL,
		})
	}

	return out
}

func WithHTTPServer(_ context.Context, app *App) error {
	if app.config.SessionSecret == "" {
		return connect.WrapError(connect.ErrInvalidConfig, nil, map[string]any{"field": "session_secret"})
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: false,
			StrictRouting:     false,
		}))
	})

	srv.WrappedRouter().Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := srv.Router().Group("/api")
	api.Use(jwtware.New(jwtware.Config{
		SigningKey: []byte(app.config.SessionSecret),
		ContextKey: app.config.SessionKey,
		Logger:     app.GetLogger("session"),
	}))

	controller := connector.NewHTTPController(app.service, connector.HTTPConfig{
		SessionContextKey: app.config.SessionKey,
		Logger:            app.GetLogger("http"),
	})
	controller.RegisterRoutes(api)

	app.srv = srv
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
