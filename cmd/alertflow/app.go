package main

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/akmatori/alertflow/internal/config"
	"github.com/akmatori/alertflow/internal/database"
	"github.com/akmatori/alertflow/internal/events"
	"github.com/akmatori/alertflow/internal/handlers"
	"github.com/akmatori/alertflow/internal/metrics"
	"github.com/akmatori/alertflow/internal/notify"
	"github.com/akmatori/alertflow/internal/services"
)

// app holds the wired engine shared by every subcommand
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	metrics *metrics.Metrics
	hub     *events.Hub
	router  *notify.Router
	svc     handlers.Services
}

// newApp connects to the database, migrates it and wires the services.
// hub may be nil when no event stream is served.
func newApp(cfg *config.Config, hub *events.Hub) (*app, error) {
	if err := database.Connect(cfg.DatabaseURL, logger.Warn); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db := database.GetDB()

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	if err := database.InitializeDefaults(db); err != nil {
		return nil, fmt.Errorf("failed to initialize database defaults: %w", err)
	}
	if cfg.GroupWindowFromEnv {
		if err := applyGroupWindow(db, cfg.GroupWindowMinutes); err != nil {
			return nil, err
		}
	}

	m := metrics.New()
	opts := []services.Option{services.WithMetrics(m)}
	if hub != nil {
		opts = append(opts, services.WithPublisher(hub))
	}

	router := newNotifyRouter(cfg)
	lifecycle := services.NewLifecycleService(db, opts...)
	sla := services.NewSLATracker(db, opts...)
	policies := services.NewPolicyService(db, services.DefaultCacheTTL)
	oncall := services.NewOnCallService(db, services.DefaultCacheTTL, opts...)
	contacts := services.NewContactService(db)
	grouping := services.NewGroupingService(db, lifecycle, opts...)
	escalation := services.NewEscalationService(db, policies, oncall, contacts, router, cfg.BaseURL, opts...)

	// Observers run in registration order inside the transition's transaction
	lifecycle.AddObserver(sla)
	lifecycle.AddObserver(escalation)
	lifecycle.AddObserver(grouping)

	return &app{
		cfg:     cfg,
		db:      db,
		metrics: m,
		hub:     hub,
		router:  router,
		svc: handlers.Services{
			Lifecycle:  lifecycle,
			SLA:        sla,
			Grouping:   grouping,
			Escalation: escalation,
			Policies:   policies,
			OnCall:     oncall,
			Contacts:   contacts,
			Sources:    services.NewAlertSourceService(db),
		},
	}, nil
}

func (a *app) Close() {
	if err := database.Close(); err != nil {
		log.WithError(err).Warn("Failed to close database")
	}
}

func applyGroupWindow(db *gorm.DB, minutes int) error {
	settings, err := database.GetOrCreateEngineSettings(db)
	if err != nil {
		return err
	}
	if settings.GroupWindowMinutes == minutes {
		return nil
	}
	settings.GroupWindowMinutes = minutes
	if err := database.UpdateEngineSettings(db, settings); err != nil {
		return fmt.Errorf("failed to apply GROUP_WINDOW_MINUTES: %w", err)
	}
	log.WithField("minutes", minutes).Info("Group window set from environment")
	return nil
}

// newNotifyRouter registers a transport for every configured channel kind
func newNotifyRouter(cfg *config.Config) *notify.Router {
	router := notify.NewRouter(cfg.NotifyRatePerSecond)
	if cfg.SMTPURL != "" {
		router.Register(notify.KindEmail, notify.NewEmailTransport(cfg.SMTPURL))
	}
	if cfg.SMSURL != "" {
		router.Register(notify.KindSMS, notify.NewSMSTransport(cfg.SMSURL))
	}
	if len(cfg.WebhookURLs) > 0 {
		router.Register(notify.KindWebhook, notify.NewWebhookTransport(cfg.WebhookURLs))
	}
	if cfg.SlackBotToken != "" {
		router.Register(notify.KindSlack, notify.NewSlackTransport(cfg.SlackBotToken))
	}
	log.WithField("channels", router.Kinds()).Info("Notification transports configured")
	return router
}

// seedCatalog upserts the policies, schedules and contacts of a catalog file
func (a *app) seedCatalog(ctx context.Context, path string) error {
	catalog, err := config.LoadCatalog(path)
	if err != nil {
		return err
	}
	policies, schedules, err := catalog.Build()
	if err != nil {
		return err
	}

	for i := range schedules {
		if err := a.svc.OnCall.UpsertSchedule(ctx, &schedules[i]); err != nil {
			return fmt.Errorf("schedule %q: %w", schedules[i].Name, err)
		}
	}
	for i := range policies {
		if err := a.svc.Policies.Upsert(ctx, &policies[i]); err != nil {
			return fmt.Errorf("policy %q: %w", policies[i].Name, err)
		}
	}
	contacts := catalog.ContactModels()
	for i := range contacts {
		if err := a.svc.Contacts.Upsert(ctx, &contacts[i]); err != nil {
			return fmt.Errorf("contact %q: %w", contacts[i].UserID, err)
		}
	}

	log.WithFields(log.Fields{
		"file":      path,
		"policies":  len(policies),
		"schedules": len(schedules),
		"contacts":  len(contacts),
	}).Info("Catalog seeded")
	return nil
}
