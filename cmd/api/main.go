package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"fieldattend/internal/api"
	"fieldattend/internal/attendance"
	"fieldattend/internal/auth"
	"fieldattend/internal/config"
	"fieldattend/internal/faceclient"
	"fieldattend/internal/notify"
	"fieldattend/internal/photostore"
	"fieldattend/internal/queue"
	"fieldattend/internal/store"
	"fieldattend/internal/worker"
)

func main() {
	issueFor := flag.String("issue-token", "", "print a token pair for this employee id and exit")
	role := flag.String("role", api.RoleAdmin, "role of the token printed by -issue-token")
	flag.Parse()

	cfg := config.Load()

	// Admin sessions are never handed out over HTTP; operators mint them here
	// with the server's signing key.
	if *issueFor != "" {
		tokens, err := auth.Issue(*issueFor, *role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Printf("access_token=%s\nrefresh_token=%s\n", tokens.AccessToken, tokens.RefreshToken)
		return
	}

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]api.Checker{}

	var records attendance.Store
	if cfg.DatabaseURL == "memory" {
		log.Println("using in-memory attendance store")
		records = attendance.NewMemoryStore()
	} else {
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		}
		defer db.Close()
		repo := attendance.NewRepository(db.Client)
		if err := repo.Migrate(ctx); err != nil {
			log.Printf("warning: migrate failed: %v", err)
		}
		records = repo
		health["db"] = db.Healthy
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	opts := attendance.Options{}
	if loc, err := time.LoadLocation(cfg.BusinessTimezone); err != nil {
		log.Printf("warning: unknown timezone %q, using UTC: %v", cfg.BusinessTimezone, err)
	} else {
		opts.Location = loc
	}
	cutoff, err := attendance.ParseCutoff(cfg.LateCutoff)
	if err != nil {
		return err
	}
	opts.Cutoff = cutoff

	hub := notify.NewHub()
	notifier := notify.Multi{notify.Log{}}
	var q queue.Queue
	if redisClient != nil {
		health["redis"] = redisClient.Healthy
		opts.Cache = attendance.NewRedisTodayCache(redisClient.Client, cfg.TodayCacheTTL)
		notifier = append(notifier, notify.NewRedis(redisClient.Client, cfg.NotifyChannel))
		q = queue.New(cfg.QueueBackend, redisClient.Client)
	} else {
		notifier = append(notifier, hub)
		q = queue.New("memory", nil)
	}

	// Cloudinary store (local disk when not configured)
	var photos photostore.Store
	if cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != "" {
		photos = photostore.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		log.Println("Cloudinary configured:", cfg.CloudinaryCloudName)
	} else {
		disk, err := photostore.NewDisk(cfg.UploadDir)
		if err != nil {
			return err
		}
		photos = disk
		log.Println("Cloudinary not configured, storing photos in", cfg.UploadDir)
	}

	svc := attendance.NewService(records, photos, opts)
	r := api.NewRouter(api.Options{
		Service:       svc,
		Store:         records,
		Queue:         q,
		JWTIssuer:     cfg.JWTIssuer,
		JWTSigningKey: cfg.JWTSigningKey,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		MaxPhotoBytes: cfg.MaxPhotoBytes,
		RateLimit:     cfg.RateLimitPerMin,
		Health:        health,
		Hub:           hub,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Alerts published by any worker reach this process's websocket clients.
	if redisClient != nil {
		g.Go(func() error {
			if err := notify.Relay(gctx, redisClient.Client, cfg.NotifyChannel, hub); err != nil {
				log.Printf("notification relay stopped: %v", err)
			}
			return nil
		})
	}

	// An in-memory queue is only visible to this process, so it is drained here.
	if _, ok := q.(*queue.InMemory); ok {
		face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
		proc := worker.New(svc, face, notifier)
		g.Go(func() error { return proc.Run(gctx, q) })
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")
		// Give outstanding requests 10 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server forced shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	log.Println("Server exited")
	return err
}
