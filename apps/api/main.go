package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/baithak/sandesh/pkg/auth"
	"github.com/baithak/sandesh/pkg/bus"
	"github.com/baithak/sandesh/pkg/config"
	"github.com/baithak/sandesh/pkg/fanout"
	"github.com/baithak/sandesh/pkg/snowflake"
	"github.com/baithak/sandesh/pkg/store"
)

// presence reports which users currently hold a live push connection. The
// gateway maintains the underlying set.
type presence interface {
	Online(ctx context.Context) ([]string, error)
}

type server struct {
	log      *slog.Logger
	store    store.Store
	delivery *fanout.Delivery
	tokens   *auth.Manager
	presence presence
	validate *validator.Validate
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)

	protected := r.NewRoute().Subrouter()
	protected.Use(s.authMiddleware)
	protected.HandleFunc("/contacts", s.handleContacts).Methods(http.MethodGet)
	protected.HandleFunc("/chats", s.handleChats).Methods(http.MethodGet)
	protected.HandleFunc("/messages/{peerID}", s.handleHistory).Methods(http.MethodGet)
	protected.HandleFunc("/messages/send/{peerID}", s.handleSend).Methods(http.MethodPost)
	protected.HandleFunc("/presence", s.handlePresence).Methods(http.MethodGet)

	return r
}

func (s *server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			s.respondError(w, http.StatusUnauthorized, nil, "Authorization header required")
			return
		}

		claims, err := s.tokens.ValidateToken(tokenString)
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, err, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) claims(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(auth.UserKey).(*auth.Claims)
	return claims, ok
}

func (s *server) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

// respondError returns the human-readable error payload the clients show to
// the user.
func (s *server) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Message string `json:"message"`
	}
	if err != nil {
		s.log.Error("request failed", "status", status, "error", err)
	}
	s.respond(w, status, response{Message: msg})
}

type redisPresence struct {
	rdb *redis.Client
}

func (p redisPresence) Online(ctx context.Context) ([]string, error) {
	return p.rdb.SMembers(ctx, "online_users").Result()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		log.Error("open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ids, err := snowflake.NewNode(cfg.Snowflake.NodeID)
	if err != nil {
		log.Error("init snowflake node", "error", err)
		os.Exit(1)
	}

	pub := bus.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic)
	defer pub.Close()

	srv := &server{
		log:      log,
		store:    st,
		delivery: &fanout.Delivery{Store: st, IDs: ids, Bus: pub, Log: log},
		tokens:   auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry),
		presence: redisPresence{rdb: rdb},
		validate: validator.New(),
	}

	handler := handlers.CORS(
		handlers.AllowedOrigins(cfg.API.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(handlers.LoggingHandler(os.Stdout, srv.routes()))

	httpSrv := &http.Server{Addr: cfg.API.Addr, Handler: handler}
	go func() {
		<-ctx.Done()
		httpSrv.Shutdown(context.Background())
	}()

	log.Info("api listening", "addr", cfg.API.Addr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("serve", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
