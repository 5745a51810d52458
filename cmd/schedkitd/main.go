package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/careloop/schedkit/internal/api"
	"github.com/careloop/schedkit/internal/appointment"
	"github.com/careloop/schedkit/internal/datasource"
	"github.com/careloop/schedkit/internal/delivery"
	"github.com/careloop/schedkit/internal/directory"
	"github.com/careloop/schedkit/internal/document"
	"github.com/careloop/schedkit/internal/inbox"
	"github.com/careloop/schedkit/internal/message"
	"github.com/careloop/schedkit/internal/outbox"
	"github.com/careloop/schedkit/internal/queue"
	"github.com/careloop/schedkit/internal/taskqueue"
	"github.com/careloop/schedkit/internal/template"
	"github.com/careloop/schedkit/libs/config"
	"github.com/careloop/schedkit/libs/db"
	"github.com/careloop/schedkit/libs/httpx"
	"github.com/careloop/schedkit/libs/kafkax"
	"github.com/careloop/schedkit/libs/otelx"
	"github.com/careloop/schedkit/libs/redisx"
	"github.com/careloop/schedkit/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "schedkit")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	redisClient, err := redisx.Open(
		config.String("REDIS_ADDR", "localhost:6379"),
		config.String("REDIS_USERNAME", ""),
		config.String("REDIS_PASSWORD", ""),
	)
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	defer redisClient.Close()

	brokers := config.String("KAFKA_BROKERS", "")

	// External collaborators.
	users := directory.NewHTTPClient(
		config.String("DIRECTORY_URL", ""),
		config.String("DIRECTORY_TOKEN", ""),
	)
	renderer := document.NewHTTPRenderer(
		config.String("DOCUMENT_URL", ""),
		config.String("DOCUMENT_TOKEN", ""),
	)
	fetcher := datasource.NewHTTPFetcher(
		config.String("DATASOURCE_URL", ""),
		config.String("DATASOURCE_TOKEN", ""),
	)

	// Outbox relay and offline queue.
	outboxRepo := outbox.NewRepository(pool)
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	tasks := taskqueue.NewClient(pool, outboxRepo)
	events := outbox.NewSink(pool, outboxRepo)

	// Storage.
	apptRepo := appointment.NewPgRepository(pool)
	typeRepo := appointment.NewPgTypeRepository(pool)
	queueRepo := queue.NewPgRepository(pool)
	templateRepo := template.NewPgRepository(pool)
	messageRepo := message.NewPgRepository(pool)
	conversationRepo := message.NewPgConversationRepository(pool)

	locks := redisx.NewMutex(redisClient, config.Duration("QUEUE_LOCK_TTL", 5*time.Second))
	assigner := queue.NewAssigner(queueRepo, locks)

	composer := message.NewComposer(templateRepo, users, renderer, fetcher, messageRepo, conversationRepo, tasks, logger)
	messages := message.NewService(messageRepo, conversationRepo, logger)

	appointments := appointment.NewService(apptRepo, typeRepo, users, assigner, tasks, composer, events, logger)

	// Offline queue worker.
	dispatcher := delivery.NewDispatcher(
		messageRepo,
		delivery.NewSMTPSender(
			config.String("SMTP_HOST", "localhost"),
			config.String("SMTP_PORT", "1025"),
			config.String("SMTP_FROM", ""),
		),
		smsSender(),
		pushSender(),
		logger,
	)
	worker := taskqueue.NewWorker(logger, inbox.NewRepository(pool), taskqueue.WorkerConfig{
		Brokers: brokers,
		GroupID: config.String("KAFKA_GROUP_ID", "schedkit"),
	})
	worker.Handle(taskqueue.KindCancelAgentDay, appointments.ExecuteCancelAgentDay)
	worker.Handle(taskqueue.KindDeliverMessage, dispatcher.HandleJob)
	go worker.Run(ctx)

	// HTTP surface.
	actors := api.NewActorResolver(users, users)
	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(redisClient)},
	)
	api.NewAppointmentHandler(appointments, actors, logger).Register(mux)
	api.NewMessageHandler(composer, messages, actors, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, service)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func smsSender() delivery.SMSSender {
	if url := config.String("SMS_WEBHOOK_URL", ""); url != "" {
		return delivery.NewWebhookSMSSender(url, config.String("SMS_WEBHOOK_TOKEN", ""))
	}
	return delivery.NewNoopSMSSender()
}

func pushSender() delivery.PushSender {
	if url := config.String("PUSH_GATEWAY_URL", ""); url != "" {
		return delivery.NewWebhookPushSender(url, config.String("PUSH_GATEWAY_TOKEN", ""))
	}
	return delivery.NewNoopPushSender()
}
