// Command climber-mcp serves the Climber Engine catalogue over HTTP or stdio.
//
// Configuration is read from the environment; see internal/config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/climber-engine/mcp-server-go/auth"
	"github.com/climber-engine/mcp-server-go/backend"
	"github.com/climber-engine/mcp-server-go/backend/fake"
	"github.com/climber-engine/mcp-server-go/backend/openaicompat"
	"github.com/climber-engine/mcp-server-go/directory"
	"github.com/climber-engine/mcp-server-go/directory/sqlitedir"
	"github.com/climber-engine/mcp-server-go/health"
	"github.com/climber-engine/mcp-server-go/httpapi"
	"github.com/climber-engine/mcp-server-go/internal/climber"
	"github.com/climber-engine/mcp-server-go/internal/config"
	"github.com/climber-engine/mcp-server-go/internal/engine"
	"github.com/climber-engine/mcp-server-go/internal/logctx"
	"github.com/climber-engine/mcp-server-go/internal/sessioncore"
	"github.com/climber-engine/mcp-server-go/sessions"
	"github.com/climber-engine/mcp-server-go/sessions/memorystore"
	"github.com/climber-engine/mcp-server-go/sessions/redisstore"
	"github.com/climber-engine/mcp-server-go/stdio"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "climber-mcp: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	cat := config.DefaultCatalogue()
	if cfg.ProvidersFile != "" {
		if cat, err = config.LoadProviders(cfg.ProvidersFile); err != nil {
			return err
		}
	}
	if cfg.DefaultProvider != "" {
		cat.Default = cfg.DefaultProvider
	}

	log, err := newLogger(cfg, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("climber.close.fail", slog.String("err", err.Error()))
			}
		}
	}()

	dir, probes, err := openDirectory(cfg)
	if err != nil {
		return err
	}
	if c, ok := dir.(io.Closer); ok {
		closers = append(closers, c.Close)
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	if rs, ok := store.(*redisstore.Store); ok {
		closers = append(closers, rs.Disconnect)
	}

	be, err := newBackend(cat, log)
	if err != nil {
		return err
	}

	srv, err := climber.NewServer(climber.Deps{Backend: be, Directory: dir, Sessions: store, Logger: log})
	if err != nil {
		return err
	}
	mgr := sessioncore.NewManager(store, dir, sessioncore.ManagerConfig{
		Server:        srv.Capabilities(),
		TouchDebounce: cfg.TouchDebounce,
		Logger:        log,
	})
	eng := engine.NewEngine(mgr, srv,
		engine.WithLogger(log),
		engine.WithBackend(be),
		engine.WithProbeTimeout(cfg.HealthProbeTimeout),
		engine.WithHealthProbes(probes...),
	)

	log.Info("climber.start",
		slog.String("transport", cfg.Transport),
		slog.String("session_store", cfg.SessionStore),
		slog.Int("providers", len(cat.Providers)),
	)

	if cfg.Transport == config.TransportStdio {
		return stdio.NewHandler(eng, stdio.WithLogger(log)).Serve(ctx)
	}
	return serveHTTP(ctx, cfg, eng, log)
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if cfg.LogFormat == "text" {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.New(h)), nil
}

func openDirectory(cfg *config.Config) (directory.Directory, []health.Probe, error) {
	if cfg.DirectoryDSN != "" {
		d, err := sqlitedir.Open(cfg.DirectoryDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening directory: %w", err)
		}
		return d, []health.Probe{{Name: "directory", Check: d.Ping}}, nil
	}

	now := time.Now().UTC()
	var owners []directory.Owner
	for _, name := range cfg.Owners() {
		owners = append(owners, directory.Owner{ID: name, Username: name, Active: true, CreatedAt: now})
	}
	return directory.NewStatic(owners...), nil, nil
}

func openStore(cfg *config.Config) (sessions.Store, error) {
	if cfg.SessionStore == config.StoreRedis {
		s, err := redisstore.New(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connecting session store: %w", err)
		}
		return s, nil
	}
	return memorystore.New(), nil
}

func newBackend(cat *config.Catalogue, log *slog.Logger) (backend.Backend, error) {
	if len(cat.Providers) == 0 {
		log.Warn("climber.backend.fake", slog.String("reason", "no provider has an api key"))
		return fake.New(`{"note":"no model provider is configured"}`), nil
	}
	c, err := openaicompat.New(cat.OpenAICompat(),
		openaicompat.WithLogger(log),
		openaicompat.WithDefaultProvider(cat.Default),
	)
	if err != nil {
		return nil, fmt.Errorf("building backend: %w", err)
	}
	return c, nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, eng *engine.Engine, log *slog.Logger) error {
	opts := []httpapi.Option{httpapi.WithLogger(log), httpapi.WithRealm(cfg.Auth.Realm)}
	if cfg.Auth.Enabled() {
		authn, err := auth.New(ctx, auth.Config{
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
			JWKSURI:        cfg.Auth.JWKSURI,
			RequiredScopes: cfg.Auth.RequiredScopes(),
		})
		if err != nil {
			return fmt.Errorf("configuring authentication: %w", err)
		}
		opts = append(opts, httpapi.WithAuthenticator(authn))
	}
	h, err := httpapi.New(eng, opts...)
	if err != nil {
		return err
	}

	hs := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("climber.http.listen", slog.String("addr", cfg.HTTPAddr))
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("climber.http.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return hs.Shutdown(shutdownCtx)
}
