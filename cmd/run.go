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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"comfybatch/internal/api"
	"comfybatch/internal/comfyui"
	"comfybatch/internal/config"
	"comfybatch/internal/dispatcher"
	"comfybatch/internal/interfaces"
	"comfybatch/internal/progress"
	"comfybatch/internal/transport"
)

const shutdownTimeout = 5 * time.Second

func newRunCmd(opts *options) *cobra.Command {
	var summaryFile string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every workflow file of the workflow directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd, cfg, summaryFile)
		},
	}

	flags := cmd.Flags()
	flags.String("server", "", "generation server URL, e.g. http://127.0.0.1:8188")
	flags.String("images", "", "directory of input images for image-to-image workflows")
	flags.String("status-addr", "", "listen address of the status API, disabled when empty")
	flags.StringVar(&summaryFile, "summary-file", "", "write the run summary as YAML to this file")

	bindFlags(opts.v, cmd, map[string]string{
		"server.url":      "server",
		"batch.image_dir": "images",
		"status.addr":     "status-addr",
	})
	return cmd
}

func run(cmd *cobra.Command, cfg *config.Config, summaryFile string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := newProgressStore(ctx, cfg.Redis)
	defer closeStore()

	if cfg.Status.Addr != "" {
		srv := api.NewServer(cfg.Status.Addr, store)
		go func() {
			logrus.Infof("Status API starting on %s", cfg.Status.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logrus.WithError(err).Error("Status API failed")
			}
		}()
		defer func() {
			ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctxShutdown); err != nil {
				logrus.WithError(err).Error("Status API forced to shutdown")
			}
		}()
	}

	tr := transport.New(cfg.Retry, cfg.Server.RequestTimeout)
	client := comfyui.NewClient(cfg.Server.URL, tr)
	poller := dispatcher.NewPoller(client, cfg.Poll)
	batch := dispatcher.NewDispatcher(client, poller, store, cfg.Batch)

	logrus.WithFields(logrus.Fields{
		"server":       cfg.Server.URL,
		"workflow_dir": cfg.Batch.WorkflowDir,
		"image_dir":    cfg.Batch.ImageDir,
	}).Info("Starting batch")

	summary, err := batch.Run(ctx)
	if err != nil {
		return err
	}

	report := dispatcher.NewReport(summary, cfg.Batch)
	fmt.Fprintln(cmd.OutOrStdout(), report.Render())

	if summaryFile != "" {
		if err := report.WriteYAML(summaryFile); err != nil {
			return err
		}
		logrus.WithField("path", summaryFile).Info("Run summary written")
	}
	return nil
}

// newProgressStore returns the Redis store when Redis is configured and
// reachable, the in-memory store otherwise
func newProgressStore(ctx context.Context, cfg config.RedisConfig) (interfaces.ProgressStore, func()) {
	if !cfg.Enabled() {
		return progress.NewMemoryStore(), func() {}
	}

	rs := progress.NewRedisStore(cfg)
	if err := rs.HealthCheck(ctx); err != nil {
		logrus.WithError(err).WithField("addr", cfg.Addr()).Warn("Redis unavailable, keeping progress in memory")
		rs.Close()
		return progress.NewMemoryStore(), func() {}
	}

	logrus.WithField("addr", cfg.Addr()).Info("Mirroring progress to Redis")
	return rs, func() {
		if err := rs.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close Redis connection")
		}
	}
}
