package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AbsurdMirror/PDF-Translator/internal/jobs"
)

// Serve は HTTP サーバーと（キュー構成では）キューの取り出しを ctx が終わるまで動かします。
// 終了時は両ステージに停止を通知し、猶予時間の範囲でワーカーの終了を待ちます。
func (a *App) Serve(ctx context.Context) error {
	if a.queue == nil {
		n, err := jobs.RecoverInterrupted(ctx, a.Store, a.Logger)
		if err != nil {
			return err
		}
		if n > 0 {
			a.Logger.InfoContext(ctx, "reset interrupted tasks", slog.Int("count", n))
		}
	}

	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("starting API server", slog.String("addr", srv.Addr), slog.String("mode", a.Config.GinMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.queue != nil {
		g.Go(func() error {
			return a.queue.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down")
		a.Parse.ShutdownAll()
		a.Translate.ShutdownAll()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.ShutdownGraceDelay)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if werr := a.Wait(shutdownCtx); werr != nil {
			a.Logger.Warn("workers did not stop in time", slog.Any("error", werr))
		}
		return err
	})
	return g.Wait()
}
