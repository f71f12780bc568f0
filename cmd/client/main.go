package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nbsync/nbclient/internal/backup"
	"github.com/nbsync/nbclient/internal/config"
	"github.com/nbsync/nbclient/internal/notebook"
	"github.com/nbsync/nbclient/internal/protocol"
	"github.com/nbsync/nbclient/internal/server"
	"github.com/nbsync/nbclient/internal/session"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	cfg := loadConfig(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()

	store, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatalf("backup store: %v", err)
	}
	defer store.Close()

	var dispatcher *server.Dispatcher

	sess := session.New(cfg.ServerURL,
		session.WithHandler(func(msg *protocol.Message) {
			if path := messagePath(msg); path != "" {
				dispatcher.Route(path, msg)
			}
		}),
		session.WithPendingProvider(func() []*protocol.Message {
			return dispatcher.PendingEdits()
		}),
	)

	factory := func(ctx context.Context, path string) (*notebook.Dispatcher, error) {
		// Content arrives asynchronously from the authority; the dispatcher
		// starts empty and converges as messages land.
		return notebook.NewDispatcher(ctx, path, nil, protocol.NotebookConfig{}, sess, store), nil
	}
	dispatcher = server.NewDispatcher(factory, sess, nil)

	log.Printf("connecting to %s", cfg.ServerURL)
	if err := sess.Connect(ctx); err != nil {
		log.Printf("initial connect failed, will retry on demand: %v", err)
	}
	defer sess.Close()

	go watchStatus(sess)

	if cfg.MetricsAddr != "" {
		go serveMetrics(cfg.MetricsAddr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down")
}

func loadConfig(path string) *config.Config {
	if path == "" {
		return config.Load()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	return cfg
}

func newStore(ctx context.Context, cfg *config.Config) (*backup.Store, error) {
	var backend backup.Backend

	switch cfg.BackupBackend {
	case "redis":
		rb, err := backup.NewRedisBackend(backup.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
		})
		if err != nil {
			return nil, err
		}
		backend = rb
		log.Printf("backups in redis at %s", cfg.RedisAddr)

	case "postgres":
		pgCfg := backup.DefaultPostgresConfig()
		pgCfg.ConnectionString = cfg.DatabaseURL
		pb := backup.NewPostgresBackend(pgCfg)
		if err := pb.Connect(ctx); err != nil {
			return nil, err
		}
		backend = pb
		log.Println("backups in postgres")

	default:
		backend = backup.NewMemoryBackend()
		log.Println("backups in memory")
	}

	return backup.NewStore(backend), nil
}

// messagePath extracts the notebook path from an inbound payload, empty for
// session-level messages.
func messagePath(msg *protocol.Message) string {
	payload, ok := msg.Payload.(map[string]interface{})
	if !ok {
		return ""
	}
	path, _ := payload["path"].(string)
	return path
}

func watchStatus(sess *session.Session) {
	for status := range sess.Subscribe() {
		log.Printf("connection %s", status)
	}
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Printf("metrics on http://%s/metrics", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("metrics listener: %v", err)
	}
}
