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

	"github.com/GrainArc/GeoVersion/config"
	"github.com/GrainArc/GeoVersion/events"
	"github.com/GrainArc/GeoVersion/models"
	"github.com/GrainArc/GeoVersion/routers"
	"github.com/GrainArc/GeoVersion/services"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "geoversion",
	Short:         "Branch and merge workflow for versioned GIS datasets",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE:  runMigrate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clock() time.Time {
	return time.Now().UTC()
}

func bootstrap() (config.Config, *zap.Logger, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	db, err := config.OpenDatabase(cfg.Database, clock)
	if err != nil {
		return cfg, logger, nil, err
	}
	if err := models.Migrate(db); err != nil {
		return cfg, logger, nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return cfg, logger, db, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	_, logger, _, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("schema migrated")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, db, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var emitter events.Emitter = events.NopEmitter{}
	if cfg.Kafka.Enabled {
		emitter = events.NewKafkaEmitter(events.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		}, logger)
		logger.Info("publishing merge request events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer emitter.Close()

	svc := services.New(services.Options{
		DB:      db,
		Logger:  logger,
		Clock:   clock,
		Emitter: emitter,
	})

	gin.SetMode(cfg.Server.GinMode)
	r := gin.New()
	r.Use(gin.Recovery())
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	routers.VersionRouters(r, routers.Options{Services: svc, Logger: logger, MetricsPath: metricsPath})

	srv := &http.Server{Addr: cfg.Server.Listen, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Server.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
