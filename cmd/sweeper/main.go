package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faceattend/internal/attendance"
	"faceattend/internal/config"
	"faceattend/internal/facematch"
	"faceattend/internal/notify"
	"faceattend/internal/store"
)

// Sweeper closes attendance sessions whose window has elapsed, so the end
// time stays meaningful even when no admin clicks stop.
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

	var broadcaster notify.Broadcaster
	if cfg.NotifyBackend == "redis" {
		redisClient := store.NewRedis(cfg.RedisAddr)
		broadcaster = notify.NewRedisBroadcaster(redisClient.Client, "")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, repo, repo,
		facematch.Matcher{Threshold: cfg.MatchThreshold}, broadcaster,
		attendance.Config{EnforceEndTime: cfg.EnforceEndTime})

	log.Printf("sweeper started, checking every %s", cfg.SweepInterval)
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("sweeper stopped")
			return
		case <-ticker.C:
			closed, err := svc.CloseExpired(ctx)
			if err != nil {
				log.Printf("sweep failed: %v", err)
				continue
			}
			if closed != nil {
				log.Printf("closed expired session %s (%s)", closed.ID, closed.CompanyName)
			}
		}
	}
}
