// privchat 是私聊中继服务的入口：HTTP 接口与 WebSocket 接入共用一个端口。
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/privchat-go/application"
	"github.com/lk2023060901/privchat-go/internal/httpapi"
	"github.com/lk2023060901/privchat-go/internal/network/acceptor"
	"github.com/lk2023060901/privchat-go/internal/network/session"
	"github.com/lk2023060901/privchat-go/internal/relay"
	"github.com/lk2023060901/privchat-go/internal/store"
	"github.com/lk2023060901/privchat-go/pkg/log"
	"github.com/lk2023060901/privchat-go/pkg/metrics"
	"github.com/lk2023060901/privchat-go/pkg/util/retry"
)

func main() {
	if err := run(); err != nil {
		log.Error("privchat exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run() error {
	app := application.New()
	if err := app.Run(); err != nil {
		return err
	}
	cfg := app.Config()

	if _, err := maxprocs.Set(maxprocs.Logger(log.S().Infof)); err != nil {
		log.Warn("set GOMAXPROCS failed", zap.Error(err))
	}
	metrics.Register(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("close store failed", zap.Error(err))
		}
	}()

	sessions := session.NewBaseSessionManager()
	svc, err := relay.NewService(cfg.Relay, st, sessions)
	if err != nil {
		return err
	}
	defer svc.Close()
	svc.SetLogger(app.Logger("relay").With(log.FieldModule("relay")))

	acc, err := acceptor.NewWSAcceptor(cfg.Acceptor.Build(cfg.HTTP.AllowedOrigins), sessions, svc)
	if err != nil {
		return err
	}

	api := httpapi.NewServer(cfg.HTTP, httpapi.Deps{
		Store:  st,
		WS:     acc,
		WSPath: acc.Path(),
		Stats:  svc,
	})
	api.SetLogger(app.Logger("http").With(log.FieldModule("http")))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("privchat listening",
			zap.String("addr", srv.Addr),
			zap.String("ws_path", acc.Path()),
			zap.String("store", cfg.Store.Driver),
			zap.String("presence_policy", cfg.Relay.PresencePolicy))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("privchat shutting down")

		// WebSocket 连接已被 http.Server 劫持，Shutdown 不会等待它们，需先由 acceptor 关闭。
		if err := acc.Close(); err != nil {
			log.Warn("close acceptor failed", zap.Error(err))
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg application.StoreConfig) (store.Store, error) {
	var st store.Store
	err := retry.Do(ctx, func() error {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := store.Open(openCtx, cfg.Config)
		if err != nil {
			return err
		}
		st = s
		return nil
	},
		retry.Attempts(cfg.OpenAttempts),
		retry.Sleep(500*time.Millisecond),
		retry.MaxSleepTime(5*time.Second),
		retry.RetryErr(func(err error) bool {
			return !errors.Is(err, store.ErrUnknownDriver)
		}),
	)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	return st, nil
}
