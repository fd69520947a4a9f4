package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nekruzvatanshoev/carprice/pkg/carprice/config"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/metrics"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/model"
	"github.com/nekruzvatanshoev/carprice/pkg/carprice/server"
)

var (
	ServeCmd = &cobra.Command{
		Use:   ServeCmdName,
		Short: ServeCmdShort,
		Long:  ServeCmdLong,
		RunE:  serveCmdFunc(),
	}
)

func init() {
	ServeCmd.Flags().String("addr", "", "listen address (default :8080)")
}

func serveCmdFunc() func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings(cmd)
		if err != nil {
			return err
		}

		log, err := newLogger(settings.Log)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		log.Info("Started serve cmd", zap.String("model_path", settings.Model.Path))

		m, err := newMetrics(settings.Metrics)
		if err != nil {
			return err
		}

		invoker, err := loadInvoker(settings, m)
		if err != nil {
			log.Error("model artifact could not be loaded", zap.String("path", settings.Model.Path), zap.Error(err))
			return fmt.Errorf("cannot start without a model: %w", err)
		}
		log.Info("model loaded", zap.String("model", invoker.Name()))

		serve := server.NewHTTPServer(settings, invoker, log, m)

		signalCh := make(chan os.Signal, 1)
		signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signalCh)

		errCh := make(chan error, 1)
		go func() {
			log.Info("Server listening", zap.String("address", settings.Server.Address))
			if err := serve.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		case sig := <-signalCh:
			log.Info("Shutdown the server...", zap.String("signal", sig.String()))
		}

		ctx, cancel := context.WithTimeout(context.Background(), settings.Server.ShutdownTimeout)
		defer cancel()
		if err := serve.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return nil
	}
}

// newMetrics returns nil when metrics are disabled.
func newMetrics(settings config.MetricsSettings) (*metrics.Metrics, error) {
	if !settings.Enabled {
		return nil, nil
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return metrics.New(registry)
}

// loadInvoker loads the model artifact and wraps it for prediction. m may be nil.
func loadInvoker(settings *config.Settings, m *metrics.Metrics) (*model.Invoker, error) {
	loaded, err := model.Load(settings.Model.Path)
	if err != nil {
		return nil, err
	}

	opts := []model.Option{}
	if settings.Cache.Enabled {
		opts = append(opts, model.WithCache(settings.Cache.TTL))
	}
	if m != nil {
		opts = append(opts, model.WithRecorder(m))
		m.SetModelLoaded(loaded.Name(), loaded.Version())
	}
	return model.NewInvoker(loaded, opts...), nil
}
