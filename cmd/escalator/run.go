package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telekom/voice-escalation/pkg/alerts"
	"github.com/telekom/voice-escalation/pkg/api"
	"github.com/telekom/voice-escalation/pkg/audit"
	"github.com/telekom/voice-escalation/pkg/calls"
	"github.com/telekom/voice-escalation/pkg/config"
	"github.com/telekom/voice-escalation/pkg/escalation"
	"github.com/telekom/voice-escalation/pkg/mail"
	"github.com/telekom/voice-escalation/pkg/notify"
	"github.com/telekom/voice-escalation/pkg/provider/twilio"
	"github.com/telekom/voice-escalation/pkg/ratelimit"
	"github.com/telekom/voice-escalation/pkg/store"
	"github.com/telekom/voice-escalation/pkg/telemetry"
	"github.com/telekom/voice-escalation/pkg/version"
	"github.com/telekom/voice-escalation/pkg/voice"
)

// cleanupStack runs registered functions in reverse order.
type cleanupStack []func()

func (s *cleanupStack) push(fn func()) { *s = append(*s, fn) }

func (s *cleanupStack) run() {
	for i := len(*s) - 1; i >= 0; i-- {
		(*s)[i]()
	}
	*s = nil
}

// run wires every component from cfg and serves until ctx is done.
func run(ctx context.Context, cfg config.Config, zl *zap.Logger, debug bool) error {
	log := zl.Sugar()
	var cleanup cleanupStack
	defer cleanup.run()

	_, shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceVersion: version.Version,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Logger:         log,
	})
	if err != nil {
		return fmt.Errorf("initialising tracing: %w", err)
	}
	cleanup.push(func() {
		sctx, cancel := shutdownContext(cfg)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warnw("Tracer shutdown failed", "error", err)
		}
	})

	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	cleanup.push(func() {
		if err := st.Close(); err != nil {
			log.Warnw("Closing store failed", "error", err)
		}
	})

	provider, err := twilio.NewClient(twilio.Config{
		AccountSID:      cfg.Provider.AccountSID,
		AuthToken:       cfg.Provider.AuthToken,
		BaseURL:         cfg.Provider.BaseURL,
		RequestTimeout:  cfg.Provider.RequestTimeout,
		BreakerFailures: cfg.Provider.BreakerFailures,
		BreakerCooldown: cfg.Provider.BreakerCooldown,
	}, log)
	if err != nil {
		return fmt.Errorf("creating call provider: %w", err)
	}

	notifier, redisHealth, closeNotifier, err := buildNotifier(ctx, cfg.Notifier, log)
	if err != nil {
		return err
	}
	cleanup.push(closeNotifier)

	auditManager, err := buildAudit(cfg.Audit, zl)
	if err != nil {
		return err
	}
	var (
		recorder   escalation.EventRecorder
		runnerOpts []alerts.RunnerOption
	)
	if auditManager != nil {
		recorder = auditManager
		runnerOpts = append(runnerOpts, alerts.WithRecorder(auditManager))
		cleanup.push(func() {
			if err := auditManager.Close(); err != nil {
				log.Warnw("Closing audit manager failed", "error", err)
			}
		})
	}

	if cfg.Mail.Enabled {
		queue := mail.NewQueue(mail.NewSender(cfg.Mail, log), log, cfg.Mail.RetryCount, cfg.Mail.RetryBackoffMs, cfg.Mail.QueueSize)
		queue.Start()
		cleanup.push(func() {
			sctx, cancel := shutdownContext(cfg)
			defer cancel()
			if err := queue.Stop(sctx); err != nil {
				log.Warnw("Mail queue did not drain", "error", err, "pending", queue.Length())
			}
		})
		runnerOpts = append(runnerOpts, alerts.WithUnconfirmedNotifier(mail.NewNotifier(queue, cfg.Mail.Recipients, log)))
	}

	tracker := escalation.NewCallStatusTracker(st, notifier, log)
	waiter := escalation.NewConfirmationWaiter(st, notifier, cfg.Escalation.PollInterval, log)
	dispatcher := escalation.NewCallDispatcher(provider, st, escalation.DispatcherConfig{
		CallerID:        cfg.Provider.PhoneNumber,
		CallbackBaseURL: cfg.Server.PublicURL,
		RingTimeout:     cfg.Escalation.CallTimeout,
	}, log)
	orchestrator := escalation.NewOrchestrator(dispatcher, waiter, recorder, escalation.Config{
		MaxLoops:       cfg.Escalation.MaxLoops,
		ContactTimeout: cfg.Escalation.ContactTimeout,
		CallDelay:      cfg.Escalation.CallDelay,
		LoopBackoff:    cfg.Escalation.LoopBackoff,
	}, log, escalation.WithAttemptReader(st))

	renderer, err := voice.NewMessageRenderer(cfg.Escalation.MessageTemplate)
	if err != nil {
		return fmt.Errorf("parsing message template: %w", err)
	}

	queueSource, sources, closeSources, err := buildSources(cfg.Alerts, log)
	if err != nil {
		return err
	}
	cleanup.push(closeSources)

	runner := alerts.NewRunner(sources, st, orchestrator, renderer, alerts.RunnerConfig{
		PollInterval:   cfg.Alerts.PollInterval,
		MaxConcurrent:  cfg.Escalation.MaxConcurrent,
		Contacts:       cfg.EscalationContacts(),
		MaxLoops:       cfg.Escalation.MaxLoops,
		ContactTimeout: cfg.Escalation.ContactTimeout,
	}, log, runnerOpts...)

	server := api.NewServer(zl, cfg, debug)
	cleanup.push(server.Close)
	server.AddHealthCheck("store", st)
	if redisHealth != nil {
		server.AddHealthCheck("redis", redisHealth)
	}

	webhookLimiter := ratelimit.New("webhook", cfg.RateLimit.Webhook)
	apiLimiter := ratelimit.New("api", cfg.RateLimit.API)
	server.OnClose(webhookLimiter.Stop)
	server.OnClose(apiLimiter.Stop)

	speech := voice.Speech{
		Voice:         cfg.Provider.Voice,
		Language:      cfg.Provider.Language,
		GatherTimeout: cfg.Provider.GatherTimeout,
	}
	err = server.RegisterAll([]api.APIController{
		calls.NewCallController(log, tracker, st, speech, cfg.Server.PublicURL, webhookLimiter.Middleware()),
		alerts.NewAlertController(log, queueSource, st, apiLimiter.Middleware()),
	})
	if err != nil {
		return fmt.Errorf("registering controllers: %w", err)
	}

	log.Infow("Escalation chain loaded", "contacts", len(cfg.Contacts), "maxLoops", cfg.Escalation.MaxLoops,
		"contactTimeout", cfg.Escalation.ContactTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Listen(gctx) })
	g.Go(func() error { return runner.Run(gctx) })
	err = g.Wait()
	log.Info("Voice escalation service stopped")
	return err
}

func shutdownContext(cfg config.Config) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
}

// redisPing adapts a redis client to the health check interface.
type redisPing struct{ client redis.UniversalClient }

func (p redisPing) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// buildNotifier returns the resolution notifier for the configured backend.
// The health checker is nil for the in-process backend.
func buildNotifier(ctx context.Context, cfg config.Notifier, log *zap.SugaredLogger) (escalation.ResolutionNotifier, api.HealthChecker, func(), error) {
	switch cfg.Backend {
	case "", "local":
		log.Info("Using in-process resolution notifier")
		return notify.NewLocal(), nil, func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		n := notify.NewRedis(client, cfg.Redis.Channel, log)
		if err := n.Start(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("starting redis notifier: %w", err)
		}
		closeFn := func() {
			if err := n.Close(); err != nil {
				log.Warnw("Closing redis notifier failed", "error", err)
			}
		}
		return n, redisPing{client: client}, closeFn, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported notifier backend %q", cfg.Backend)
	}
}

// buildAudit returns nil when auditing is disabled. The log sink is always
// present; the kafka sink is added when configured.
func buildAudit(cfg config.Audit, zl *zap.Logger) (*audit.Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	sinks := []audit.Sink{audit.NewLogSink(zl)}
	if cfg.Kafka.Enabled {
		ks, err := audit.NewKafkaSink(audit.KafkaSinkConfig{
			Name:    "kafka",
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			SASL:    cfg.Kafka.SASL,
		}, zl)
		if err != nil {
			return nil, fmt.Errorf("creating kafka audit sink: %w", err)
		}
		sinks = append(sinks, ks)
	}
	qcfg := audit.DefaultQueuedSinkConfig()
	if cfg.QueueSize > 0 {
		qcfg.QueueSize = cfg.QueueSize
	}
	return audit.NewManager(sinks, qcfg, zl), nil
}

// buildSources returns the trigger queue, every configured source (the queue
// first) and a function closing them.
func buildSources(cfg config.Alerts, log *zap.SugaredLogger) (*alerts.QueueSource, []alerts.Source, func(), error) {
	queue := alerts.NewQueueSource(cfg.QueueSize)
	sources := []alerts.Source{queue}
	if !cfg.Kafka.Enabled {
		return queue, sources, func() {}, nil
	}
	ks, err := alerts.NewKafkaSource(alerts.KafkaSourceConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.Topic,
		GroupID: cfg.Kafka.GroupID,
		SASL:    cfg.Kafka.SASL,
	}, log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("creating kafka alert source: %w", err)
	}
	closeFn := func() {
		if err := ks.Close(); err != nil {
			log.Warnw("Closing kafka alert source failed", "error", err)
		}
	}
	return queue, append(sources, ks), closeFn, nil
}
