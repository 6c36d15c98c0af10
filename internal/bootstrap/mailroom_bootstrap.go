package bootstrap

import (
	"context"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"mailroom_server/adapter/in/worker"
	"mailroom_server/adapter/out/persistence"
	"mailroom_server/adapter/out/provider/gmail"
	"mailroom_server/adapter/out/provider/google"
	"mailroom_server/adapter/out/storage"
	"mailroom_server/config"
	"mailroom_server/core/port/out"
	"mailroom_server/core/service/ingest"
	"mailroom_server/core/service/routing"
	syncsvc "mailroom_server/core/service/sync"
	"mailroom_server/core/service/tickets"
	"mailroom_server/infra/database"
	"mailroom_server/pkg/crypto"
	"mailroom_server/pkg/logger"
)

// Worker wires the job runner and its dependencies.
type Worker struct {
	runner *worker.Runner
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWorker(cfg *config.Config) (*Worker, func(), error) {
	pool, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	db := database.NewSQLX(pool)

	closeDB := func() {
		db.Close()
		pool.Close()
	}

	encryptor, err := crypto.NewEncryptorFromBase64(cfg.EncryptionKeyBase64)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	store, err := storage.NewBlobStore(context.Background(), cfg)
	if err != nil {
		closeDB()
		return nil, nil, err
	}

	// Token refresh runs outside job transactions; a refreshed token
	// must survive a handler rollback.
	credentials := persistence.NewCredentialAdapter(db)
	tokenProvider := google.NewTokenProvider(credentials, encryptor, cfg.GoogleClientID, cfg.GoogleClientSecret)
	gmailFactory := gmail.NewFactory(tokenProvider)

	jobs := persistence.NewJobAdapter(db, cfg.JobMaxAttempts)

	deps := func(tx *sqlx.Tx) (*worker.Handler, out.JobRepository) {
		txJobs := persistence.NewJobAdapter(tx, cfg.JobMaxAttempts)
		mailboxes := persistence.NewMailboxAdapter(tx)
		occurrences := persistence.NewOccurrenceAdapter(tx)
		blobs := persistence.NewBlobAdapter(tx)
		messages := persistence.NewMessageAdapter(tx)
		ticketRepo := persistence.NewTicketAdapter(tx)
		routingRepo := persistence.NewRoutingAdapter(tx)
		identities := persistence.NewSendIdentityAdapter(tx)

		syncService := syncsvc.NewService(mailboxes, occurrences, txJobs, gmailFactory)
		pipeline := ingest.NewPipeline(occurrences, blobs, store, messages, txJobs)
		stitchService := tickets.NewStitchService(occurrences, messages, ticketRepo, txJobs)
		routingService := routing.NewService(occurrences, ticketRepo, routingRepo)
		outboundService := tickets.NewOutboundService(ticketRepo, identities, messages, txJobs)

		return worker.NewHandler(
			worker.NewSyncProcessor(syncService),
			worker.NewPipelineProcessor(pipeline),
			worker.NewTicketProcessor(stitchService, routingService, outboundService),
		), txJobs
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
		With().Timestamp().Str("component", "worker").Logger()

	runner := worker.NewRunner(db, jobs, deps, worker.RunnerConfig{
		WorkerID:            cfg.WorkerID,
		Concurrency:         cfg.WorkerConcurrency,
		PollInterval:        cfg.WorkerPollInterval,
		JobTimeout:          cfg.WorkerJobTimeout,
		HistoryPollInterval: cfg.HistoryPollInterval,
	}, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	cleanup := func() {
		stats := database.GetPoolStats(pool)
		logger.Info("db pool at shutdown: total=%d acquired=%d idle=%d acquires=%d",
			stats.TotalConns, stats.AcquiredConns, stats.IdleConns, stats.AcquireCount)
		closeDB()
	}
	return w, cleanup, nil
}

// Start blocks until Stop is called.
func (w *Worker) Start() {
	defer close(w.done)
	w.runner.Run(w.ctx)
}

// Stop cancels the claim loop and waits for in-flight jobs to settle.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}

// Migrate applies pending schema migrations.
func Migrate(cfg *config.Config) error {
	return database.Migrate(cfg.DatabaseURL)
}
