package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/satchel/api/rest"
	apows "github.com/kasuganosora/satchel/api/ws"
	"github.com/kasuganosora/satchel/audit"
	"github.com/kasuganosora/satchel/cache"
	"github.com/kasuganosora/satchel/catalog"
	"github.com/kasuganosora/satchel/config"
	dbadapter "github.com/kasuganosora/satchel/db"
	"github.com/kasuganosora/satchel/game/inventory"
	"github.com/kasuganosora/satchel/game/player"
	"github.com/kasuganosora/satchel/game/world"
	mw "github.com/kasuganosora/satchel/middleware"
	"github.com/kasuganosora/satchel/model"
	"github.com/kasuganosora/satchel/scheduler"
	"github.com/kasuganosora/satchel/store"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Cache ----
	c, err := cache.NewCache(cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Catalog ----
	cat, err := catalog.Load(cfg.Catalog.ResourcesPath, cfg.Catalog.BagsPath)
	if err != nil {
		log.Fatalf("catalog: %v", err)
	}
	nRes, nBags := cat.Counts()
	logger.Info("Catalog loaded", zap.Int("resources", nRes), zap.Int("bags", nBags))

	// ---- Persistence / Audit ----
	st := store.New(db, c, cfg.Inventory.LayoutTTL, logger)
	auditSvc := audit.New(db, logger)

	// ---- Sessions / Scheduler ----
	sm := player.NewSessionManager(logger)
	policy := apows.NewViolationPolicy(sm, auditSvc, cfg.Inventory.MaxViolations, logger)
	sched := scheduler.New(logger)

	// ---- Inventories ----
	defaults := make([]world.DefaultBag, 0, len(cfg.Inventory.DefaultBags))
	for _, b := range cfg.Inventory.DefaultBags {
		defaults = append(defaults, world.DefaultBag{
			Template: inventory.TemplateID(b.TemplateID),
			Category: b.CategoryID,
		})
	}
	wm := world.NewManager(st, c, cat, cat, policy, auditSvc, world.Options{
		Tick:        time.Duration(cfg.Inventory.TickMs) * time.Millisecond,
		LockTTL:     cfg.Inventory.LockTTL,
		DefaultBags: defaults,
		Debug:       cfg.Server.Debug,
		Scheduler:   sched,
		CloseGrace:  cfg.Inventory.CloseGrace,
	}, logger)

	// ---- Periodic Scheduler Tasks ----
	if cfg.Inventory.AutosaveS > 0 {
		sched.AddTicker("inv_autosave", time.Duration(cfg.Inventory.AutosaveS)*time.Second, wm.SaveAll)
	}

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	apows.NewInventoryHandlers(wm, logger).RegisterHandlers(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(c, cfg.Security, logger)
	invH := apirest.NewInventoryHandler(wm, logger)
	adminH := apirest.NewAdminHandler(sm, wm, auditSvc, sched, logger)

	api := r.Group("/api")
	{
		authed := api.Group("", mw.Auth(cfg.Security, c))
		authed.GET("/inventory", invH.Get)
		authed.POST("/auth/logout", authH.Logout)
		authed.POST("/auth/refresh", authH.Refresh)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
		adminG.POST("/tokens", authH.Issue)
		adminG.GET("/inventory/:owner", adminH.GetInventory)
		adminG.POST("/inventory/:owner/delta", adminH.ApplyDelta)
		adminG.POST("/inventory/:owner/bags", adminH.GrantBag)
		adminG.POST("/kick/:owner", adminH.KickPlayer)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, cfg.Security, cfg.Inventory, sm, wm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	sm.CloseAllSessions()
	if err := wm.CloseAll(ctx); err != nil {
		logger.Error("close inventories", zap.Error(err))
	}
	sched.Stop()
	auditSvc.Stop(ctx)
	closeCache(c, logger)
}

// closeCache releases the backend connection; the two backends differ in
// their Close signature.
func closeCache(c cache.Cache, logger *zap.Logger) {
	switch cl := c.(type) {
	case interface{ Close() error }:
		if err := cl.Close(); err != nil {
			logger.Warn("cache close", zap.Error(err))
		}
	case interface{ Close() }:
		cl.Close()
	}
}
