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

	"github.com/mossline/fieldnotes/internal/attachments"
	"github.com/mossline/fieldnotes/internal/auth"
	"github.com/mossline/fieldnotes/internal/config"
	"github.com/mossline/fieldnotes/internal/database"
	"github.com/mossline/fieldnotes/internal/logging"
	"github.com/mossline/fieldnotes/internal/mirror"
	"github.com/mossline/fieldnotes/internal/notes"
	"github.com/mossline/fieldnotes/internal/reminders"
	"github.com/mossline/fieldnotes/internal/server"
	"github.com/mossline/fieldnotes/internal/settings"
	"github.com/mossline/fieldnotes/internal/tasks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fieldnotes-api",
		Short: "Fieldnotes note-taking backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("attachments-dir", defaults.GetString("attachments.dir"), "Attachment storage directory")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("mirror-backend", defaults.GetString("mirror.backend"), "Mirror backend (s3, webdav, memory)")
	cmd.PersistentFlags().Duration("sweep-interval", defaults.GetDuration("tasks.sweep_interval"), "Background sweep interval")
	cmd.PersistentFlags().String("device-key", "", "Shared device key (overrides env)")
	cmd.PersistentFlags().String("signing-secret", "", "Token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "attachments.dir", "attachments-dir")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "mirror.backend", "mirror-backend")
	bindFlag(cmd, "tasks.sweep_interval", "sweep-interval")
	bindFlag(cmd, "auth.device_key", "device-key")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	noteStore, err := notes.NewStore(notes.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := noteStore.Initialize(ctx); err != nil {
		return err
	}

	settingsStore, err := settings.NewStore(settings.StoreConfig{
		Database: db,
		Clock:    time.Now,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	attachmentStore, err := attachments.NewStore(appConfig.AttachmentsDir, logger)
	if err != nil {
		return err
	}

	mirrorStore, err := newMirrorStore(ctx, appConfig, logger)
	if err != nil {
		return err
	}

	reconciler, err := notes.NewReconciler(mirrorStore, logger)
	if err != nil {
		return err
	}

	scheduler, err := reminders.NewScheduler(reminders.SchedulerConfig{
		Notifier: reminders.NewLogNotifier(logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	dispatcher := server.NewEventDispatcher()

	notesService, err := notes.NewService(notes.ServiceConfig{
		Store:       noteStore,
		Reconciler:  reconciler,
		Scheduler:   scheduler,
		Attachments: attachmentStore,
		Settings:    settingsStore,
		Events:      dispatcher,
		Logger:      logger,
		Clock:       time.Now,
	})
	if err != nil {
		return err
	}

	tokenManager, err := auth.NewTokenManager(auth.TokenManagerConfig{
		DeviceKey:     appConfig.DeviceKey,
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "fieldnotes-auth",
		Audience:      "fieldnotes-api",
	})
	if err != nil {
		return err
	}

	sweeps, err := tasks.NewManager(tasks.ManagerConfig{
		Store:       noteStore,
		Reconciler:  reconciler,
		Mirror:      mirrorStore,
		Attachments: attachmentStore,
		Interval:    appConfig.SweepInterval,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := sweeps.Start(); err != nil {
		return err
	}
	defer sweeps.Stop()

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager: tokenManager,
		NotesService: notesService,
		Events:       dispatcher,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.String("mirrorBackend", appConfig.MirrorBackend))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func newMirrorStore(ctx context.Context, appConfig config.AppConfig, logger *zap.Logger) (mirror.Store, error) {
	switch appConfig.MirrorBackend {
	case config.MirrorBackendS3:
		return mirror.NewS3(ctx, mirror.S3Options{
			Region:          appConfig.MirrorS3.Region,
			Bucket:          appConfig.MirrorS3.Bucket,
			AccessKeyID:     appConfig.MirrorS3.AccessKeyID,
			AccessKeySecret: appConfig.MirrorS3.AccessKeySecret,
			Prefix:          appConfig.MirrorS3.Prefix,
			Endpoint:        appConfig.MirrorS3.Endpoint,
			Logger:          logger,
		})
	case config.MirrorBackendWebDAV:
		return mirror.NewWebDAV(mirror.WebDAVOptions{
			Endpoint: appConfig.MirrorWebDAV.Endpoint,
			User:     appConfig.MirrorWebDAV.User,
			Password: appConfig.MirrorWebDAV.Password,
			Root:     appConfig.MirrorWebDAV.Root,
			Logger:   logger,
		})
	case config.MirrorBackendMemory:
		return mirror.NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnsupportedMirror, appConfig.MirrorBackend)
	}
}
