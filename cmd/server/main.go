package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cscannon/barter/internal/api"
	"github.com/cscannon/barter/internal/auth"
	"github.com/cscannon/barter/internal/chain"
	"github.com/cscannon/barter/internal/db"
	"github.com/cscannon/barter/internal/engine"
	"github.com/cscannon/barter/internal/ledger"
	"github.com/cscannon/barter/internal/models"
	"github.com/cscannon/barter/internal/store"
	"github.com/cscannon/barter/internal/view"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

// broadcastEvent pushes one settlement event to every connected client.
func broadcastEvent(logger *zap.Logger, event models.SettlementEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.Error("failed to marshal settlement event", zap.Error(err))
		return
	}

	clientsMu.Lock()
	defer clientsMu.Unlock()
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			logger.Warn("dropping websocket client", zap.Error(err))
			delete(clients, client)
		}
	}
}

func handleWebSocket(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("failed to upgrade connection", zap.Error(err))
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Keep connection alive and handle disconnection
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if os.Getenv("VERBOSE") == "true" {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Main entry point: sets up storage, matching engine, and HTTP server
func main() {
	_ = godotenv.Load()

	logger, err := newLogger()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	bc, err := chain.FromName(envOr("BLOCKCHAIN", "kusama"))
	if err != nil {
		logger.Fatal("unknown blockchain", zap.Error(err))
	}

	// Storage: Postgres when configured, in-memory otherwise.
	var st store.Store
	if connString := os.Getenv("DATABASE_URL"); connString != "" {
		database, err := db.NewDB(ctx, connString)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer database.Close(ctx)
		st = database
		logger.Info("using postgres store")
	} else {
		st = store.NewMemory()
		logger.Info("using in-memory store")
	}

	ldg := ledger.New(st.Balances())
	eng := engine.New(bc, st, ldg, logger)
	eng.OnEvent = func(event models.SettlementEvent) {
		broadcastEvent(logger, event)
	}

	authService := auth.NewAuthService(st.Users(), os.Getenv("JWT_SECRET"))
	viewBuilder := view.NewBuilder(bc, st.Orders())
	handler := api.NewHandler(eng, st, ldg, viewBuilder, authService)

	// Balance syncing needs a chain indexer endpoint
	if indexerURL := os.Getenv("INDEXER_URL"); indexerURL != "" {
		handler.DataSource = chain.NewHTTPDataSource(indexerURL, os.Getenv("INDEXER_API_KEY"), bc.Name, bc)
		logger.Info("chain indexer configured", zap.String("url", indexerURL))
	}

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// WebSocket endpoint streams settlement events
	r.Get("/ws", handleWebSocket(logger))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.QueryOrders)
		r.Post("/match/next", handler.MatchNext)
		r.Post("/match/all", handler.MatchAll)
		r.Get("/matches/view", handler.GetMatchedView)
		r.Get("/balances/{address}", handler.GetBalances)
		r.Post("/balances/{address}/sync", handler.SyncBalances)
	})

	// Periodic match sweep so crossing orders settle without an explicit call
	if interval := envOr("MATCH_INTERVAL", "5s"); interval != "off" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			logger.Fatal("invalid MATCH_INTERVAL", zap.Error(err))
		}
		go func() {
			ticker := time.NewTicker(d)
			for range ticker.C {
				touched, err := eng.MatchAll(ctx)
				if err != nil {
					logger.Error("match sweep failed", zap.Error(err))
					continue
				}
				if len(touched) > 0 {
					logger.Info("match sweep settled orders", zap.Int("touched", len(touched)))
				}
			}
		}()
	}

	addr := envOr("LISTEN", ":8080")
	logger.Info("starting server", zap.String("addr", addr), zap.String("blockchain", bc.Name))
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
