package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ascoderu/lokole-relay/internal/actions"
	"github.com/ascoderu/lokole-relay/internal/api"
	"github.com/ascoderu/lokole-relay/internal/blob"
	"github.com/ascoderu/lokole-relay/internal/clients"
	"github.com/ascoderu/lokole-relay/internal/config"
	"github.com/ascoderu/lokole-relay/internal/parser"
	"github.com/ascoderu/lokole-relay/internal/pending"
	"github.com/ascoderu/lokole-relay/internal/queue"
	"github.com/ascoderu/lokole-relay/internal/send"
	"github.com/ascoderu/lokole-relay/internal/worker"
)

func main() {
	_ = godotenv.Load()
	cfg := loadConfig()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx := context.Background()
	store, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("init storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer store.close()

	rawStorage := store.raw
	emailStorage := store.emails
	bundleStorage := store.bundles
	pendingIndex := store.pending
	mailbox := store.mailbox
	directory := store.directory
	inboundQueue := store.inbound
	writtenQueue := store.written
	sendQueue := store.send

	limits := parser.ImageLimits{MaxWidth: cfg.MaxImageWidth, MaxHeight: cfg.MaxImageHeight}
	var inliner *parser.InlineImageFormatter
	if cfg.InlineImages {
		inliner = parser.NewInlineImageFormatter(&http.Client{Timeout: 30 * time.Second}, limits, logger)
	}

	sender := buildSender(ctx, cfg, logger)
	logger.Info("email provider configured", "provider", sender.Name())

	storeInbound := actions.NewStoreInboundEmails(rawStorage, emailStorage, pendingIndex, mailbox, limits, inliner, logger)
	storeWritten := actions.NewStoreWrittenClientEmails(bundleStorage, emailStorage, mailbox, sendQueue, logger)
	sendOutbound := actions.NewSendOutboundEmails(emailStorage, sender, logger)

	apiServer := api.NewServer(api.Actions{
		Receive:       actions.NewReceiveInboundEmail(directory, rawStorage, inboundQueue, logger),
		Upload:        actions.NewUploadClientEmails(directory, writtenQueue, logger),
		Download:      actions.NewDownloadClientEmails(directory, emailStorage, pendingIndex, bundleStorage, logger),
		Register:      actions.NewRegisterClient(directory, bundleStorage, actions.NoopSetup{}, actions.AccessInfo{Account: cfg.StorageAccount, Key: cfg.StorageKey}, logger),
		Delete:        actions.NewDeleteClient(directory, actions.NoopSetup{}, pendingIndex, mailbox, logger),
		PendingMetric: actions.NewCalculatePendingEmailsMetric(directory, pendingIndex, logger),
	}, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	settings := worker.Settings{
		BatchSize:    cfg.WorkerBatchSize,
		Visibility:   time.Duration(cfg.VisibilitySeconds) * time.Second,
		PollInterval: time.Duration(cfg.PollIntervalSeconds) * time.Second,
	}
	consumers := []*worker.Consumer{
		worker.NewConsumer(queue.InboundQueue, inboundQueue, func(ctx context.Context, task queue.Task) error {
			return taskError(storeInbound.Do(ctx, task.ResourceID))
		}, settings, logger),
		worker.NewConsumer(queue.WrittenQueue, writtenQueue, func(ctx context.Context, task queue.Task) error {
			return taskError(storeWritten.Do(ctx, task.ResourceID))
		}, settings, logger),
		worker.NewConsumer(queue.SendQueue, sendQueue, func(ctx context.Context, task queue.Task) error {
			return taskError(sendOutbound.Do(ctx, task.ResourceID))
		}, settings, logger),
	}
	for _, consumer := range consumers {
		go consumer.Run(workerCtx)
	}

	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpSrv := &http.Server{
		Addr:    httpAddr,
		Handler: apiServer,
	}
	go func() {
		logger.Info("http server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown http", "error", err)
	}
}

func loadConfig() config.Config {
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		cfg, err := config.LoadFromFile(path)
		if err == nil {
			return cfg
		}
		fmt.Fprintf(os.Stderr, "config file %s: %v\n", path, err)
		os.Exit(1)
	}
	return config.Load()
}

// storage bundles every persistence component so main can swap the whole
// stack per the configured driver.
type storage struct {
	raw       blob.Store
	emails    *blob.ObjectStore
	bundles   blob.Store
	pending   *pending.Index
	mailbox   *pending.Mailbox
	directory clients.Directory
	inbound   queue.Queue
	written   queue.Queue
	send      queue.Queue
	close     func() error
}

func buildStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (*storage, error) {
	switch cfg.StorageDriver {
	case config.DriverMemory:
		logger.Warn("using in-memory storage; state is lost on restart")
		return &storage{
			raw:       blob.NewMemory(),
			emails:    blob.NewObjectStore(blob.NewMemory()),
			bundles:   blob.NewMemory(),
			pending:   pending.NewIndex(blob.NewMemory()),
			mailbox:   pending.NewMailbox(blob.NewMemory()),
			directory: clients.NewMemory(),
			inbound:   queue.NewMemory(queue.InboundQueue, logger),
			written:   queue.NewMemory(queue.WrittenQueue, logger),
			send:      queue.NewMemory(queue.SendQueue, logger),
			close:     func() error { return nil },
		}, nil
	case config.DriverSQLite, "":
		db, err := blob.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		if cfg.DBPath == "" {
			logger.Warn("DB_PATH not set; state is lost on restart")
		}
		return &storage{
			raw:       db.Container(blob.ContainerRawEmails),
			emails:    blob.NewObjectStore(db.Container(blob.ContainerEmails)),
			bundles:   db.Container(blob.ContainerBundles),
			pending:   pending.NewIndex(db.Container(blob.ContainerPending)),
			mailbox:   pending.NewMailbox(db.Container(blob.ContainerMailbox)),
			directory: clients.NewSQLite(db.Handle()),
			inbound:   queue.NewSQLite(db.Handle(), queue.InboundQueue, logger),
			written:   queue.NewSQLite(db.Handle(), queue.WrittenQueue, logger),
			send:      queue.NewSQLite(db.Handle(), queue.SendQueue, logger),
			close:     db.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

func buildSender(ctx context.Context, cfg config.Config, logger *slog.Logger) send.Sender {
	if cfg.SESRegion == "" {
		logger.Warn("SES not configured; outbound email is logged instead of sent")
		return send.NewStdout(logger)
	}
	sender, err := send.NewSES(ctx, send.SESConfig{
		Region:          cfg.SESRegion,
		AccessKeyID:     cfg.SESAccessKeyID,
		SecretAccessKey: cfg.SESSecretAccessKey,
	})
	if err != nil {
		logger.Error("init ses", "error", err)
		os.Exit(1)
	}
	return sender
}

// taskError converts an action's response pair into the worker contract:
// only a server error leaves the task on the queue for redelivery.
func taskError(message string, status int) error {
	if status >= 500 {
		return fmt.Errorf("%s (status %d)", message, status)
	}
	return nil
}
