// Command relaysockd runs the resumable-session WebSocket relay: upgrade
// admission, frame decoding, adaptive heartbeats, and session suspend/
// resume, wired together the way the teacher's cmd/wsserver/main.go wires
// its own server.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/relaywire/sockets/internal/audit"
	"github.com/relaywire/sockets/internal/config"
	"github.com/relaywire/sockets/internal/eventbus"
	"github.com/relaywire/sockets/internal/frame"
	"github.com/relaywire/sockets/internal/pool"
	"github.com/relaywire/sockets/internal/security"
	"github.com/relaywire/sockets/internal/session"
	"github.com/relaywire/sockets/internal/storage"
	"github.com/relaywire/sockets/internal/transport"
)

func main() {
	cfgPath := os.Getenv("RELAY_CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("relaysockd starting")
	log.Printf("  listen_addr:     %s", cfg.ListenAddr)
	log.Printf("  worker_pool:     %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections: %d", cfg.MaxConnections)
	log.Printf("  redis_addr:      %s", cfg.RedisAddr)
	log.Printf("  nats_url:        %s", cfg.NATSURL)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Fatalf("redis: %v", err)
	}
	pingCancel()

	bus, err := eventbus.New(eventbus.Config{URL: cfg.NATSURL, Name: "relaysockd", ReconnectWait: 2 * time.Second, MaxReconnects: -1})
	if err != nil {
		log.Fatalf("eventbus: %v", err)
	}
	defer bus.Close()

	var auditSink security.AuditSink
	if cfg.DatabaseDSN != "" {
		db, err := storage.Open(storage.Config{DSN: cfg.DatabaseDSN, MigrationsPath: cfg.MigrationsDir})
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		if err := storage.Migrate(db, storage.Config{DSN: cfg.DatabaseDSN, MigrationsPath: cfg.MigrationsDir}); err != nil {
			log.Fatalf("storage: migrate: %v", err)
		}
		auditSink = audit.NewStore(db)
		log.Printf("  database: migrations applied")
	} else {
		log.Printf("  database: disabled (DATABASE_URL not set), rejections are logged only")
	}

	limiter := security.NewLimiter(rdb, 10)
	bans := security.NewBanStore(rdb)
	guard := security.NewGuard(limiter, bans, auditSink)

	behaviors := pool.NewBehaviorStore()
	redisMirror := pool.NewRedisMirror(rdb)
	behaviors.WithMirror(redisMirror)
	connPool := pool.New(cfg.Pool, behaviors, func(entry pool.Entry) {
		log.Printf("relaysockd: pool entry timed out client=%s requests=%d", entry.ClientID, entry.RequestCount)
	})

	sessionMirror := session.NewRedisMirror(rdb)
	events := &relayEvents{bus: bus, mirror: sessionMirror}
	sessions := session.NewManager(cfg.Session, events)

	onData := func(sessionID string, payload []byte) {
		// Echo-relay semantics: broadcast every inbound Data frame to every
		// other attached session. cmd/relaysockd has no application-layer
		// routing of its own — it is the generic relay the spec describes;
		// a real deployment would replace this closure with its own
		// message routing.
		now := time.Now()
		msgID := session.NextMessageID(now)
		data, err := frame.EncodeBinary(frame.NewData(payload, msgID, uint64(now.UnixMilli())))
		if err != nil {
			log.Printf("relaysockd: encode relay frame: %v", err)
			return
		}
		sessions.Broadcast(data, sessionID)
	}

	tcfg := transport.DefaultConfig()
	tcfg.ListenAddr = cfg.ListenAddr
	tcfg.WorkerPoolSize = cfg.WorkerPoolSize
	tcfg.MaxConnections = cfg.MaxConnections
	tcfg.ReadTimeout = cfg.ReadTimeout
	tcfg.WriteTimeout = cfg.WriteTimeout

	server := transport.NewServer(tcfg, sessions, guard, connPool, onData)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("relaysockd: shutdown signal received")
		if err := server.Shutdown(); err != nil {
			log.Printf("relaysockd: shutdown error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("relaysockd: %v", err)
	}
}

// relayEvents implements session.EventSink: every lifecycle event is
// logged, mirrored to Redis for external observability, and published to
// the event bus for external tooling. Mirrors the teacher's layering of
// Redis session state updates alongside NATS notifications in
// cmd/wsserver/main.go's inline handlers.
type relayEvents struct {
	bus    *eventbus.Bus
	mirror *session.RedisMirror
}

func (e *relayEvents) OnConnection(s *session.Session) {
	e.bus.PublishConnected(s.ID, s.ConnectedAt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.mirror.Touch(ctx, s.ID, s.State(), s.ConnectedAt, s.LastHeartbeat)
}

func (e *relayEvents) OnDisconnection(s *session.Session, reason string) {
	e.bus.PublishDisconnected(s.ID, reason, time.Now())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if reason == session.ReasonExpired {
		_ = e.mirror.Remove(ctx, s.ID)
		return
	}
	_ = e.mirror.Touch(ctx, s.ID, s.State(), s.ConnectedAt, s.LastHeartbeat)
}

func (e *relayEvents) OnMessage(payload []byte, messageID, timestamp uint64, s *session.Session) {
	e.bus.PublishMessage(s.ID, messageID, len(payload), time.Now())
}

func (e *relayEvents) OnError(err error) {
	log.Printf("relaysockd: session error: %v", err)
	e.bus.PublishError("", err.Error(), time.Now())
}
