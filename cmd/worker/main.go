package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/token"
)

// Worker runs the absence sweep: once a session is dead, enrolled students
// who never scanned get an absent record. Queue messages from the API are
// hints for superseded sessions; the periodic scan is the reliable path.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:sweeps")
	}

	sessions := session.NewRepository(db.Client)
	repo := attendance.NewRepository(db.Client)
	att := attendance.NewService(repo, cfg.GraceWindow)

	sweep := func(d token.SessionDescriptor) {
		now := time.Now().UTC()
		if !d.Expired(now) {
			// Superseded but still inside its window; students can still
			// scan the old code. The periodic pass picks it up later.
			return
		}
		marked, err := att.SweepAbsentees(ctx, d, repo, now)
		if err != nil {
			log.Printf("sweep %s failed: %v", d.SessionToken, err)
			return
		}
		if err := sessions.MarkSwept(ctx, d.SessionToken); err != nil {
			log.Printf("mark swept %s failed: %v", d.SessionToken, err)
			return
		}
		log.Printf("swept session %s (class %s): %d absent", d.SessionToken, d.ClassID, marked)
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	log.Println("sweep worker started")
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				log.Println("worker stopped")
				return
			}
			if msg.Type != queue.TypeSweep {
				continue
			}
			d, err := sessions.Get(ctx, string(msg.Body))
			if err != nil {
				log.Printf("fetch session %s failed: %v", msg.Body, err)
				continue
			}
			if d == nil {
				continue
			}
			sweep(*d)
		case <-ticker.C:
			due, err := sessions.ExpiredUnswept(ctx, 50)
			if err != nil {
				log.Printf("list expired sessions failed: %v", err)
				continue
			}
			for _, d := range due {
				sweep(d)
			}
		case <-ctx.Done():
			log.Println("worker stopped")
			return
		}
	}
}
