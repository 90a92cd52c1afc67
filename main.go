package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"echoapp/api"
	"echoapp/config"
	"echoapp/kafka"
	"echoapp/logger"
	"echoapp/models"
	oidcutil "echoapp/oidc"
	"echoapp/store"
	"echoapp/transcript"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("echoapp stopped with error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		envFile  string
		addr     string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "echoapp",
		Short:         "Websocket echo service",
		Long:          "Accepts websocket connections and answers every text message with \"You said: <message>\".",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ApiAddr = addr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file read before the environment")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides API_ADDR)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	return cmd
}

func run(parent context.Context, cfg config.Config) error {
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting application", logger.FieldKV("addr", cfg.ApiAddr))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := api.Deps{Checks: map[string]api.ReadinessCheck{}}
	var repo transcript.Repository
	var producer transcript.Producer

	if cfg.MongoEnabled() {
		initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		st, err := store.Open(initCtx, cfg.MongoURI, cfg.MongoDatabase)
		cancel()
		if err != nil {
			return fmt.Errorf("mongo init failed: %w", err)
		}
		defer func() {
			if err := st.Close(context.Background()); err != nil {
				logger.Error("mongo disconnect failed", err)
			}
		}()
		repo = st
		deps.Exchanges = st
		deps.Checks["mongo"] = st.Ping
	}

	kcfg := kafka.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, DLQTopic: cfg.KafkaDLQTopic, GroupID: cfg.KafkaGroupID}
	var kprod *kafka.Producer
	if cfg.KafkaEnabled() {
		kprod = kafka.NewProducer(kcfg)
		defer func() {
			if err := kprod.Close(); err != nil {
				logger.Error("failed to close kafka writers", err)
			}
		}()
		producer = kprod
		deps.Checks["kafka"] = func(ctx context.Context) error { return kafka.Ping(ctx, cfg.KafkaBrokers, cfg.KafkaTopic) }
	}

	if cfg.AuthEnabled() {
		v, err := oidcutil.Init(ctx, oidcutil.Options{
			Issuer:      cfg.OIDCIssuerURL,
			ClientID:    cfg.OIDCClientID,
			Audience:    cfg.OIDCAudience,
			MaxAttempts: cfg.OIDCMaxAttempts,
		})
		if err != nil {
			return err
		}
		deps.Verifier = v
	}

	pipeline := transcript.New(producer, repo, cfg.TranscriptBuffer)
	if pipeline.Enabled() {
		deps.Recorder = pipeline
	}
	go pipeline.Run(context.Background())

	// Kafka -> Mongo persistence, only when both ends exist.
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	var consumerWG sync.WaitGroup
	if kprod != nil && repo != nil {
		c := kafka.NewConsumer(kcfg, kprod)
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			err := c.Run(consumerCtx, func(ctx context.Context, ex models.Exchange) error {
				return repo.InsertExchange(ctx, ex)
			})
			if err != nil {
				logger.Error("kafka consumer stopped", err)
			}
		}()
	}

	srv, err := api.NewServer(api.Options{
		MaxMessageBytes: cfg.MaxMessageBytes,
		WriteTimeout:    cfg.WriteTimeout,
		PongWait:        cfg.PongWait,
		PingInterval:    cfg.PingInterval,
		AllowedOrigins:  cfg.AllowedOrigins,
	}, deps)
	if err != nil {
		stopConsumer()
		return err
	}

	httpSrv := &http.Server{Addr: cfg.ApiAddr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", logger.FieldKV("addr", cfg.ApiAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		runErr = fmt.Errorf("http server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("websocket sessions did not close in time", err)
	}
	if err := pipeline.Close(shutdownCtx); err != nil {
		logger.Error("transcript flush incomplete", err)
	}
	stopConsumer()
	consumerWG.Wait()
	logger.Info("program stopped cleanly")
	return runErr
}
