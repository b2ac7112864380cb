// Thought-graph engine service entry point.
package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smriti/thoughtgraph/internal/config"
	"github.com/smriti/thoughtgraph/internal/engine"
	"github.com/smriti/thoughtgraph/internal/jsonx"
	"github.com/smriti/thoughtgraph/internal/oracle"
	"github.com/smriti/thoughtgraph/internal/store"
	"github.com/smriti/thoughtgraph/internal/worker"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	logger.Info("Starting thought-graph engine")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	bolt, err := store.OpenBolt(cfg.DataPath, logger)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer bolt.Close()

	st, cache, err := store.WithFragmentCache(bolt, 10000, cfg.FragmentCacheTTL, logger)
	if err != nil {
		logger.Fatal("Failed to create fragment cache", zap.Error(err))
	}
	defer cache.Close()

	client, err := oracle.NewClient(cfg.AIServicesURL, cfg.OracleTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to create oracle client", zap.Error(err))
	}

	var lock engine.OwnerLock = engine.NewLocalLock()
	if cfg.RedisAddress != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer redisClient.Close()
		lock = engine.NewRedisLock(redisClient, 2*time.Minute)
		logger.Info("Using distributed owner claims", zap.String("redis", cfg.RedisAddress))
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.Batch.BatchSize = cfg.BatchSize
	engineCfg.Selector.MaxDays = cfg.MaxDays

	eng := engine.New(st, engine.Providers{
		Embedder:   client,
		Classifier: client,
		Narrator:   client,
	}, lock, nil, engineCfg, logger)

	if cfg.NATSAddress != "" {
		conn, err := worker.Connect(cfg.NATSAddress)
		if err != nil {
			logger.Fatal("Failed to connect to nats", zap.Error(err))
		}
		defer conn.Close()

		w := worker.New(eng, conn, worker.Config{SweepInterval: cfg.SweepInterval}, logger)
		if err := w.Start(); err != nil {
			logger.Fatal("Failed to start worker", zap.Error(err))
		}
		defer w.Stop()
	}

	router := mux.NewRouter()
	setupRoutes(router, eng, st, logger)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handlers.RecoveryHandler()(handlers.CompressHandler(router)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	logger.Info("Shutdown complete")
}

func setupRoutes(r *mux.Router, eng *engine.Engine, st store.Store, logger *zap.Logger) {
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/api/owners/{id}/backfill-embeddings", func(w http.ResponseWriter, req *http.Request) {
		ownerID, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		count, err := eng.BackfillEmbeddings(req.Context(), ownerID)
		if err != nil {
			logger.Error("Backfill failed", zap.Error(err))
			http.Error(w, "Backfill failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]int{"embedded": count})
	}).Methods("POST")

	r.HandleFunc("/api/owners/{id}/process-edges", func(w http.ResponseWriter, req *http.Request) {
		ownerID, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		sessionID := uuid.Nil
		if raw := req.URL.Query().Get("session_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				http.Error(w, "Invalid session id", http.StatusBadRequest)
				return
			}
			sessionID = parsed
		}

		result, err := eng.ProcessBatch(req.Context(), ownerID, sessionID)
		if err != nil {
			logger.Error("Batch failed", zap.Error(err))
			http.Error(w, "Batch failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"fragments_processed": result.FragmentsProcessed,
			"edges_created":       result.EdgesCreated,
			"elapsed_ms":          result.Elapsed.Milliseconds(),
			"claimed":             result.Claimed,
		})
	}).Methods("POST")

	r.HandleFunc("/api/owners/{id}/generate-reflection", func(w http.ResponseWriter, req *http.Request) {
		ownerID, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		result, err := eng.GenerateReflection(req.Context(), ownerID)
		if err != nil {
			logger.Error("Reflection failed", zap.Error(err))
			http.Error(w, "Reflection failed", http.StatusInternalServerError)
			return
		}
		if !result.Claimed {
			writeJSON(w, map[string]interface{}{"status": "owner_busy"})
			return
		}
		if result.Reflection == nil {
			writeJSON(w, map[string]interface{}{"status": "no_pattern_found", "attempts": result.Attempts})
			return
		}
		writeJSON(w, result.Reflection)
	}).Methods("POST")

	r.HandleFunc("/api/owners/{id}/reflections", func(w http.ResponseWriter, req *http.Request) {
		ownerID, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		reflections, err := st.ReflectionsByOwner(req.Context(), ownerID)
		if err != nil {
			http.Error(w, "Failed to list reflections", http.StatusInternalServerError)
			return
		}
		writeJSON(w, reflections)
	}).Methods("GET")

	r.HandleFunc("/api/owners/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		ownerID, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		stats, err := eng.Stats(req.Context(), ownerID)
		if err != nil {
			http.Error(w, "Failed to get stats", http.StatusInternalServerError)
			return
		}
		writeJSON(w, stats)
	}).Methods("GET")

	r.HandleFunc("/api/reflections/{id}/viewed", func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		if err := st.MarkViewed(req.Context(), id); err != nil {
			http.Error(w, "Failed to mark viewed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods("POST")

	r.HandleFunc("/api/reflections/{id}/feedback", func(w http.ResponseWriter, req *http.Request) {
		id, ok := pathUUID(w, req, "id")
		if !ok {
			return
		}
		var body struct {
			Feedback int `json:"feedback"`
		}
		if err := jsonx.Unmarshal(readBody(req), &body); err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		if err := st.SetFeedback(req.Context(), id, body.Feedback); err != nil {
			http.Error(w, "Failed to set feedback", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]string{"status": "ok"})
	}).Methods("POST")

	r.HandleFunc("/api/sweep", func(w http.ResponseWriter, req *http.Request) {
		result, err := eng.Sweep(req.Context())
		if err != nil {
			logger.Error("Sweep failed", zap.Error(err))
			http.Error(w, "Sweep failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]int{
			"owners_swept":        result.OwnersSwept,
			"reflections_created": result.ReflectionsCreated,
			"edges_consumed":      result.EdgesConsumed,
		})
	}).Methods("POST")
}

func pathUUID(w http.ResponseWriter, req *http.Request, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(req)[key])
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	data, err := jsonx.Marshal(v)
	if err != nil {
		http.Error(w, "Encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func readBody(req *http.Request) []byte {
	data, err := io.ReadAll(io.LimitReader(req.Body, 1<<20))
	if err != nil {
		return nil
	}
	return data
}
