package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/SmitUplenchwar2687/bottlegate/internal/admission"
	"github.com/SmitUplenchwar2687/bottlegate/internal/clock"
	"github.com/SmitUplenchwar2687/bottlegate/internal/config"
	"github.com/SmitUplenchwar2687/bottlegate/internal/metrics"
	"github.com/SmitUplenchwar2687/bottlegate/internal/recorder"
	"github.com/SmitUplenchwar2687/bottlegate/internal/server"
)

const (
	shutdownTimeout = 5 * time.Second
	// recordLimit bounds the in-memory capture of --record.
	recordLimit = 200000
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr        string
		recordFile  string
		auditLog    string
		acceptedLog string
		storage     storageOptions
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the bottlegate HTTP server",
		Long: `Starts an HTTP server that admits or rejects public submissions.

Endpoints:
  POST /submit                        Submit the collection form
  GET  /health                        Health check
  GET  /metrics                       Prometheus metrics
  GET  /dashboard                     Live visual dashboard
  WS   /ws                            WebSocket stream of admission events
  GET  /admin/denylist/{kind}/{value} Denylist lookup (x-admin-key)`,
		Example: `  bottlegate serve
  bottlegate serve --config bottlegate.yaml --addr :9090
  bottlegate serve --storage redis --redis-host redis:6379
  bottlegate serve --record submissions.json --accepted-log accepted.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("record") {
				cfg.Recorder.RecordFile = recordFile
			}
			if cmd.Flags().Changed("audit-log") {
				cfg.Recorder.AuditLog = auditLog
			}
			if cmd.Flags().Changed("accepted-log") {
				cfg.Recorder.AcceptedLog = acceptedLog
			}
			if err := storage.resolve(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().StringVar(&recordFile, "record", "", "record submissions to a JSON file (exported on shutdown)")
	cmd.Flags().StringVar(&auditLog, "audit-log", "", "append every admission event to this NDJSON file")
	cmd.Flags().StringVar(&acceptedLog, "accepted-log", "", "append accepted submissions to this JSONL file")
	storage.addFlags(cmd)

	return cmd
}

func runServe(ctx context.Context, cfg config.Config, logger hclog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.New(metrics.Options{})
	hub := server.NewHub(logger.Named("ws"))
	observers := []admission.Observer{collector, hub}

	if cfg.Recorder.AuditLog != "" {
		audit, err := recorder.OpenAuditLog(cfg.Recorder.AuditLog, logger.Named("audit"))
		if err != nil {
			return err
		}
		defer audit.Close()
		observers = append(observers, audit)
	}

	st, err := buildStack(ctx, cfg, clock.NewRealClock(), logger, observers...)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []server.Option{
		server.WithDenylist(st.denylist),
		server.WithMetrics(collector.Handler()),
		server.WithHub(hub),
		server.WithLogger(logger.Named("server")),
	}
	if cfg.Recorder.AcceptedLog != "" {
		sink, err := recorder.OpenSink(cfg.Recorder.AcceptedLog)
		if err != nil {
			return err
		}
		defer sink.Close()
		opts = append(opts, server.WithPersister(sink))
	}
	var rec *recorder.Recorder
	if cfg.Recorder.RecordFile != "" {
		rec = recorder.New(recorder.Options{
			Redact: []string{cfg.Captcha.TokenField, "phone", "address"},
			Limit:  recordLimit,
		})
		opts = append(opts, server.WithRecorder(rec))
	}

	srv := server.New(server.Config{
		Addr:            cfg.Server.Addr,
		AdminKey:        cfg.Server.AdminKey,
		MaxFormBytes:    cfg.Server.MaxFormBytes,
		ForwardedHeader: cfg.Identity.ForwardedHeader,
	}, st.pipeline, opts...)

	logger.Info("starting",
		"backend", cfg.Storage.Backend,
		"limiters", len(cfg.Limiters),
		"captcha_required", cfg.Captcha.Required,
		"store_failure_mode", cfg.FailureMode.Store,
		"secrets", cfg.RedactedSecrets(),
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	err = group.Wait()

	if rec != nil {
		logger.Info("exporting recorded submissions", "count", rec.Len(), "dropped", rec.Dropped(), "file", cfg.Recorder.RecordFile)
		if exportErr := rec.ExportFile(cfg.Recorder.RecordFile); exportErr != nil {
			logger.Error("error exporting records", "error", exportErr)
		}
	}
	return err
}
