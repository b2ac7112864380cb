// Package worker runs the graph pipeline in the background: NATS
// subjects trigger per-owner batches and reflections, and a ticker runs
// the multi-owner sweep.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/engine"
)

const (
	// SubjectBatch carries "fragments ready" events, one owner id per
	// subject suffix: thoughtgraph.batch.<owner-uuid>.
	SubjectBatch = "thoughtgraph.batch.*"
	// SubjectReflect requests a reflection attempt for one owner:
	// thoughtgraph.reflect.<owner-uuid>.
	SubjectReflect = "thoughtgraph.reflect.*"
)

// Config tunes the background worker.
type Config struct {
	SweepInterval time.Duration
}

// DefaultConfig returns the production worker settings.
func DefaultConfig() Config {
	return Config{SweepInterval: 5 * time.Minute}
}

// Worker wires NATS triggers and the periodic sweep to the engine.
type Worker struct {
	engine *engine.Engine
	conn   *nats.Conn
	config Config
	logger *zap.Logger

	subs   []*nats.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// Connect dials NATS with the standard reconnect settings.
func Connect(address string) (*nats.Conn, error) {
	conn, err := nats.Connect(address,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return conn, nil
}

// New creates a worker over an established NATS connection.
func New(eng *engine.Engine, conn *nats.Conn, config Config, logger *zap.Logger) *Worker {
	return &Worker{
		engine: eng,
		conn:   conn,
		config: config,
		logger: logger.Named("worker"),
		done:   make(chan struct{}),
	}
}

// Start subscribes to the trigger subjects and launches the sweep loop.
func (w *Worker) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	batchSub, err := w.conn.Subscribe(SubjectBatch, func(msg *nats.Msg) {
		w.handleBatch(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to batch subject: %w", err)
	}
	w.subs = append(w.subs, batchSub)

	reflectSub, err := w.conn.Subscribe(SubjectReflect, func(msg *nats.Msg) {
		w.handleReflect(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to reflect subject: %w", err)
	}
	w.subs = append(w.subs, reflectSub)

	go w.sweepLoop(ctx)

	w.logger.Info("Worker started",
		zap.Duration("sweep_interval", w.config.SweepInterval))
	return nil
}

// Stop unsubscribes and waits for the sweep loop to exit.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	for _, sub := range w.subs {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Warn("Failed to unsubscribe", zap.Error(err))
		}
	}
	<-w.done
	w.logger.Info("Worker stopped")
}

func (w *Worker) handleBatch(ctx context.Context, msg *nats.Msg) {
	defer recoverPanic(w.logger)

	ownerID, err := OwnerFromSubject(msg.Subject)
	if err != nil {
		w.logger.Warn("Ignoring batch trigger with bad subject",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	if _, err := w.engine.BackfillEmbeddings(ctx, ownerID); err != nil {
		w.logger.Warn("Embedding backfill failed",
			zap.String("owner_id", ownerID.String()), zap.Error(err))
	}

	result, err := w.engine.ProcessBatch(ctx, ownerID, uuid.Nil)
	if err != nil {
		w.logger.Error("Batch failed",
			zap.String("owner_id", ownerID.String()), zap.Error(err))
		return
	}
	w.logger.Info("Batch trigger handled",
		zap.String("owner_id", ownerID.String()),
		zap.Int("fragments_processed", result.FragmentsProcessed),
		zap.Int("edges_created", result.EdgesCreated))
}

func (w *Worker) handleReflect(ctx context.Context, msg *nats.Msg) {
	defer recoverPanic(w.logger)

	ownerID, err := OwnerFromSubject(msg.Subject)
	if err != nil {
		w.logger.Warn("Ignoring reflect trigger with bad subject",
			zap.String("subject", msg.Subject), zap.Error(err))
		return
	}

	result, err := w.engine.GenerateReflection(ctx, ownerID)
	if err != nil {
		w.logger.Error("Reflection failed",
			zap.String("owner_id", ownerID.String()), zap.Error(err))
		return
	}
	if result.Reflection == nil {
		w.logger.Info("No pattern found",
			zap.String("owner_id", ownerID.String()),
			zap.Int("attempts", result.Attempts))
		return
	}
	w.logger.Info("Reflection trigger handled",
		zap.String("owner_id", ownerID.String()),
		zap.String("reflection_id", result.Reflection.ID.String()))
}

func (w *Worker) sweepLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := w.engine.Sweep(ctx)
			if err != nil {
				w.logger.Error("Sweep failed", zap.Error(err))
				continue
			}
			w.logger.Info("Periodic sweep done",
				zap.Int("owners", result.OwnersSwept),
				zap.Int("reflections", result.ReflectionsCreated))
		}
	}
}

// OwnerFromSubject extracts the owner uuid from the last subject token.
func OwnerFromSubject(subject string) (uuid.UUID, error) {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 || idx == len(subject)-1 {
		return uuid.Nil, fmt.Errorf("subject %q has no owner token", subject)
	}
	ownerID, err := uuid.Parse(subject[idx+1:])
	if err != nil {
		return uuid.Nil, fmt.Errorf("subject %q has no owner uuid: %w", subject, err)
	}
	return ownerID, nil
}

func recoverPanic(logger *zap.Logger) {
	if r := recover(); r != nil {
		logger.Error("Panic in trigger handler", zap.Any("panic", r), zap.Stack("stacktrace"))
	}
}
