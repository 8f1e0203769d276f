// WhenTo - Collaborative event calendar for self-hosted environments
// Copyright (C) 2025 WhenTo Contributors
// SPDX-License-Identifier: BSL-1.1

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meetmesh/gc/internal/acclient"
	"github.com/meetmesh/gc/internal/assignment/repository"
	assignmentservice "github.com/meetmesh/gc/internal/assignment/service"
	"github.com/meetmesh/gc/internal/authgate"
	"github.com/meetmesh/gc/internal/background"
	"github.com/meetmesh/gc/internal/config"
	"github.com/meetmesh/gc/internal/credentials"
	"github.com/meetmesh/gc/internal/dispatcher"
	"github.com/meetmesh/gc/internal/httpapi"
	"github.com/meetmesh/gc/internal/join"
	"github.com/meetmesh/gc/internal/jwks"
	meetingrepo "github.com/meetmesh/gc/internal/meeting/repository"
	"github.com/meetmesh/gc/internal/mhselector"
	registryrepo "github.com/meetmesh/gc/internal/registry/repository"
	registryservice "github.com/meetmesh/gc/internal/registry/service"
	"github.com/meetmesh/gc/internal/rpcserver"
	"github.com/meetmesh/gc/internal/tokenvalidator"
	"github.com/meetmesh/gc/migrations"
	"github.com/meetmesh/pkg/cache"
	"github.com/meetmesh/pkg/database"
	"github.com/meetmesh/pkg/logger"
	"github.com/meetmesh/pkg/middleware"
)

func main() {
	root := &cobra.Command{
		Use:   "gc",
		Short: "Global Controller for the video-conferencing control plane",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Global Controller HTTP and RPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return migrate()
		},
	}
}

func migrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel, "json")
	logger.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := database.NewPool(ctx, &database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close(pool)

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		return fmt.Errorf("read embedded migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := migrations.Files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		log.Info("applied migration", "file", name)
	}

	return nil
}

// redisPublisher adapts *redis.Client's Publish to jwks.RotationNotifier.
type redisPublisher struct {
	client *redis.Client
}

func (p redisPublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	return p.client.Publish(ctx, channel, message).Err()
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return err
	}

	log := logger.New(cfg.LogLevel, "json")
	logger.SetDefault(log)
	log.Info("starting global controller", "region", cfg.Region, "gc_id", cfg.GCID)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer initCancel()

	pool, err := database.NewPool(initCtx, &database.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		return err
	}
	defer database.Close(pool)

	redisClient, err := database.NewRedisClient(initCtx, &database.RedisConfig{URL: cfg.RedisURL})
	if err != nil {
		log.Warn("failed to connect to redis, jwks rotation broadcast disabled", "error", err)
		redisClient = nil
	} else {
		defer database.CloseRedis(redisClient)
	}

	// The refresh loop runs on credCtx, so it outlives initCtx's 30s timeout.
	credCtx, credCancel := context.WithCancel(context.Background())
	defer credCancel()
	credCache, err := credentials.New(credCtx, credentials.Config{
		TokenURL:         cfg.ACTokenURL,
		ClientID:         cfg.ClientID,
		ClientSecret:     credentials.NewSecret(cfg.ClientSecret),
		RefreshThreshold: 60 * time.Second,
		HTTPTimeout:      10 * time.Second,
		ConnectTimeout:   3 * time.Second,
		ClockDriftMargin: cfg.ClockDriftMargin,
	})
	if err != nil {
		log.Error("failed to acquire initial service credential", "error", err)
		return err
	}
	defer credCache.Close()

	var notify jwks.RotationNotifier
	if redisClient != nil {
		notify = redisPublisher{client: redisClient}
	}
	jwksCache := jwks.New(cfg.ACJWKSURL, cfg.JWKSTTL, 10*time.Second, notify, cache.NewRedisCache(redisClient))

	validator := tokenvalidator.New(jwksCache, cfg.JWTClockSkew)
	gate := authgate.New(validator)

	mcRepo := registryrepo.NewMCRepository(pool)
	mhRepo := registryrepo.NewMHRepository(pool)
	registrySvc := registryservice.New(mcRepo, mhRepo)

	assignmentRepo := repository.New(pool)
	assignmentSvc := assignmentservice.New(assignmentRepo)

	mhSelect := mhselector.New(registrySvc)
	dispatch := dispatcher.New(credCache, 5*time.Second)
	acClient := acclient.New(cfg.ACBaseURL, credCache, 5*time.Second, 2*time.Second)

	meetingRepo := meetingrepo.New(pool)
	orchestrator := join.New(meetingRepo, registrySvc, assignmentSvc, mhSelect, dispatch, acClient, cfg.GCID, cfg.Region)

	apiHandler := httpapi.New(orchestrator, meetingRepo, pool)
	rpcHandler := rpcserver.New(registrySvc)

	limiter := middleware.NewRateLimiter(redisClient)

	router := chi.NewRouter()
	router.Mount("/", httpapi.NewRouter(apiHandler, gate, []string{"*"}, limiter, cfg.RateLimitEnabled))
	router.Mount("/internal/v1", rpcserver.NewRouter(rpcHandler, gate))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if redisClient != nil {
		sub := redisClient.Subscribe(gctx, cache.JWKSRotationChannel)
		g.Go(func() error {
			<-gctx.Done()
			return sub.Close()
		})
		g.Go(func() error {
			ch := sub.Channel()
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg, ok := <-ch:
					if !ok {
						return nil
					}
					log.Info("jwks rotation notified by sibling", "channel", msg.Channel)
					jwksCache.Invalidate()
				}
			}
		})
	}

	g.Go(func() error {
		background.HealthChecker(gctx, "mc", 10*time.Second, cfg.MCStalenessThreshold, registrySvc.MarkStaleMC)
		return nil
	})

	g.Go(func() error {
		background.HealthChecker(gctx, "mh", 10*time.Second, cfg.MCStalenessThreshold, registrySvc.MarkStaleMH)
		return nil
	})

	g.Go(func() error {
		reaper := &background.AssignmentReaper{
			ReapStale:     assignmentSvc.ReapStale,
			Purge:         assignmentSvc.Purge,
			StaleHours:    cfg.AssignmentStaleHours,
			RetentionDays: cfg.CleanupRetentionDays,
			BatchLimit:    500,
		}
		reaper.Run(gctx, time.Hour)
		return nil
	})

	<-gctx.Done()
	log.Info("shutdown signal received, draining", "drain_seconds", cfg.DrainSeconds)
	time.Sleep(time.Duration(cfg.DrainSeconds) * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		return err
	}

	log.Info("global controller exited cleanly")
	return nil
}
