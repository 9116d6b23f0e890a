package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rahat-ems/api"
	"rahat-ems/config"
	"rahat-ems/core/auth"
	"rahat-ems/core/escalation"
	"rahat-ems/core/geo"
	"rahat-ems/core/incidents"
	"rahat-ems/core/notify"
	"rahat-ems/core/rbac"
	"rahat-ems/core/store"
	"rahat-ems/core/utils"
	"rahat-ems/core/workflow"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := utils.NewLogger()
	if *debug {
		logger.SetLevel(utils.LevelDebug)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Errorf("open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, logger); err != nil {
		logger.Errorf("migrate: %v", err)
		os.Exit(1)
	}

	users := store.NewUsersStore(db)
	sessions := store.NewSessionsStore(db)
	incidentsStore := store.NewIncidentsStore(db)
	notifications := store.NewNotificationsStore(db)
	audits := store.NewAuditStore(db)

	if err := seedAdmin(ctx, users, cfg, logger); err != nil {
		logger.Errorf("bootstrap admin: %v", err)
		os.Exit(1)
	}

	policy := rbac.NewPolicy(rbac.DefaultRoles())
	sessionManager := auth.NewSessionManager(sessions, cfg, logger)
	geocoder := geo.NewNominatimClient(cfg.Geocoder, logger)

	sinks := []notify.Notifier{notify.NewStoreNotifier(notifications)}
	kafkaPub := notify.NewKafkaPublisher(cfg.Events)
	if kafkaPub != nil {
		defer kafkaPub.Close()
		sinks = append(sinks, kafkaPub)
		logger.Infof("kafka events enabled, topic=%s", cfg.Events.Topic)
	}
	notifier := notify.NewMulti(logger, sinks...)

	planner := &workflow.Planner{Departments: cfg.Dispatch.Departments}
	incidentsSvc := incidents.NewService(incidentsStore, users, planner, geocoder, notifier, logger)

	worker := escalation.NewWorker(incidentsStore, users, sessionManager, notifier, cfg.Escalation, logger)
	if err := worker.StartWithContext(ctx); err != nil {
		logger.Errorf("escalation worker: %v", err)
		os.Exit(1)
	}
	defer worker.Stop()

	server := api.NewServer(cfg, users, notifications, audits, sessionManager, policy, incidentsSvc, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Infof("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("serve: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// seedAdmin provisions the bootstrap superadmin on an empty users table.
// Existing installs are never touched.
func seedAdmin(ctx context.Context, users store.UsersStore, cfg *config.AppConfig, logger *utils.Logger) error {
	n, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	password := cfg.Bootstrap.AdminPassword
	if password == "" {
		generated, err := utils.RandString(16)
		if err != nil {
			return err
		}
		password = generated
		logger.Warnf("bootstrap: generated admin password: %s (change it immediately)", password)
	}
	ph, err := auth.HashPassword(password, cfg.Pepper)
	if err != nil {
		return err
	}
	_, err = users.Create(ctx, &store.User{
		Username:     cfg.Bootstrap.AdminUsername,
		Name:         "Administrator",
		PasswordHash: ph.Hash,
		Salt:         ph.Salt,
		Role:         store.RoleSuperadmin,
		Active:       true,
	})
	if err != nil {
		return err
	}
	logger.Infof("bootstrap: created superadmin %q", cfg.Bootstrap.AdminUsername)
	return nil
}
