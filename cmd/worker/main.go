package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"fieldattend/internal/attendance"
	"fieldattend/internal/config"
	"fieldattend/internal/faceclient"
	"fieldattend/internal/notify"
	"fieldattend/internal/queue"
	"fieldattend/internal/store"
	"fieldattend/internal/worker"
)

// Worker consumes check-in events, scores the photo and alerts admins on late arrivals.
func main() {
	cfg := config.Load()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	if redisClient == nil {
		log.Fatalf("worker needs REDIS_ADDR for the check-in queue")
	}
	defer redisClient.Close()

	q := queue.NewRedisQueue(redisClient.Client, "attendance:checkins")
	notifier := notify.Multi{notify.Log{}, notify.NewRedis(redisClient.Client, cfg.NotifyChannel)}
	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	// Check face service health on startup
	if !cfg.FaceSkip {
		if err := face.Health(ctx); err != nil {
			log.Printf("WARNING: Face service not available: %v", err)
			log.Println("Worker will retry face processing when events arrive")
		} else {
			log.Println("Face service connected")
		}
	}

	// Score updates go through the service so cached today entries are dropped.
	svc := attendance.NewService(attendance.NewRepository(db.Client), nil, attendance.Options{
		Cache: attendance.NewRedisTodayCache(redisClient.Client, cfg.TodayCacheTTL),
	})
	proc := worker.New(svc, face, notifier)
	if err := proc.Run(ctx, q); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}
