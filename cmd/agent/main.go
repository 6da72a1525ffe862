package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/config"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/metrics"
	"classtrack/internal/queue"
	"classtrack/internal/remote"
	"classtrack/internal/scan"
	"classtrack/internal/store"
	"classtrack/internal/syncer"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("agent failed: %v", err)
	}
}

func run(cfg config.App) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := store.NewRepository(db)

	owner := "local"
	var tokenExpiry time.Time
	if cfg.OwnerToken != "" {
		identity, err := auth.FromToken(cfg.OwnerToken, time.Now())
		if err != nil {
			return err
		}
		owner = identity.Owner
		tokenExpiry = identity.ExpiresAt
		if err := repo.PutTeacher(ctx, store.TeacherRecord{ID: identity.Owner, Email: identity.Email}); err != nil {
			log.Printf("caching teacher record failed: %v", err)
		}
	}

	var redisClient *store.Redis
	var q queue.Queue
	if cfg.QueueBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:sync")
	} else {
		q = queue.NewInMemory(64)
	}

	client := remote.New(cfg.RemoteBaseURL, cfg.OwnerToken, cfg.RemoteTimeout)
	if !tokenExpiry.IsZero() {
		client.SetTokenExpiry(tokenExpiry)
	}
	dedup := scan.NewDeduplicator(cfg.DedupWindow)
	registry := attendance.NewRegistry()
	finalizer := attendance.NewFinalizer(repo, client)
	reconciler := syncer.New(repo, client, owner)

	go runSyncWorker(ctx, q, reconciler, cfg.SyncInterval)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	limiter := httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		online := client.Reachable(c.Request.Context())
		body := gin.H{"status": "ok", "online": online}
		if redisClient != nil {
			body["redis"] = redisClient.Healthy(c.Request.Context())
		}
		c.JSON(http.StatusOK, body)
	})

	v1 := r.Group("/v1")
	if cfg.OwnerToken != "" {
		v1.Use(auth.OwnerAuth(cfg.OwnerToken))
	}
	// Scan intake bursts while a class files in; everything else gets the
	// default budget.
	limited := v1.Group("", limiter.GinMiddleware())
	scanIntake := v1.Group("", limiter.BurstMiddleware("scan", 10))

	limited.POST("/classes", func(c *gin.Context) {
		var req struct {
			Name   string   `json:"name" binding:"required"`
			Roster []string `json:"roster"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		class := store.ClassRecord{Owner: owner, Name: req.Name, Roster: req.Roster}
		if err := repo.PutClass(c.Request.Context(), class); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": store.ClassID(owner, req.Name), "ready": class.Ready()})
	})

	limited.GET("/classes", func(c *gin.Context) {
		classes, err := repo.ListClasses(c.Request.Context(), owner)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"classes": classes})
	})

	limited.PUT("/classes/:name/roster", func(c *gin.Context) {
		var req struct {
			Roster []string `json:"roster"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id := store.ClassID(owner, c.Param("name"))
		class, err := repo.GetClass(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if class == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
			return
		}
		class.Roster = req.Roster
		if err := repo.PutClass(c.Request.Context(), *class); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": id, "ready": class.Ready()})
	})

	limited.DELETE("/classes/:name", func(c *gin.Context) {
		id := store.ClassID(owner, c.Param("name"))
		if err := repo.DeleteClass(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	limited.GET("/classes/:name/summary", func(c *gin.Context) {
		rows, err := client.Summary(c.Request.Context(), store.ClassID(owner, c.Param("name")))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rows": rows})
	})

	limited.GET("/classes/:name/timestamps", func(c *gin.Context) {
		rows, err := client.Timestamps(c.Request.Context(), store.ClassID(owner, c.Param("name")))
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rows": rows})
	})

	// Manual correction path: record attendance directly on the server, e.g.
	// a student whose badge failed to scan. Needs the server reachable; the
	// durable offline path is the session flow.
	limited.POST("/classes/:name/attendance", func(c *gin.Context) {
		var req struct {
			StudentIDs []string `json:"student_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		classID := store.ClassID(owner, c.Param("name"))
		if err := client.PostAttendance(c.Request.Context(), classID, req.StudentIDs); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"class_id": classID, "recorded": len(req.StudentIDs)})
	})

	limited.POST("/sessions", func(c *gin.Context) {
		var req struct {
			ClassName string `json:"class_name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		class, err := repo.GetClass(c.Request.Context(), store.ClassID(owner, req.ClassName))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if class == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "class not found"})
			return
		}
		sess, err := registry.Start(owner, *class, time.Now().UTC())
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		dedup.Reset()
		c.JSON(http.StatusCreated, gin.H{"session_id": sess.ID, "class_id": sess.ClassID})
	})

	limited.GET("/sessions/:id", func(c *gin.Context) {
		sess := registry.Get(c.Param("id"))
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"session_id": sess.ID,
			"class_id":   sess.ClassID,
			"statuses":   sess.Statuses(),
			"timestamps": sess.Timestamps(),
		})
	})

	scanIntake.POST("/sessions/:id/scans", func(c *gin.Context) {
		sess := registry.Get(c.Param("id"))
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		var req struct {
			Payload string `json:"payload" binding:"required"`
			Mode    string `json:"mode"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		mode := attendance.ModeJoining
		if req.Mode == string(attendance.ModeLeaving) {
			mode = attendance.ModeLeaving
		}
		now := time.Now().UTC()

		raw, ok := dedup.Accept(req.Payload, now)
		if !ok {
			metrics.ScansDeduplicated.Inc()
			c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": "duplicate"})
			return
		}
		payload, ok := scan.Parse(raw)
		if !ok {
			metrics.ScansUnparseable.Inc()
			log.Printf("dropping unparseable scan payload (%d bytes)", len(raw))
			c.JSON(http.StatusOK, gin.H{"accepted": false, "reason": "unparseable"})
			return
		}
		metrics.ScansAccepted.Inc()

		studentID := resolveStudent(c.Request.Context(), repo, client, payload)
		outcome := sess.ApplyScan(studentID, mode, now)
		metrics.Transitions.WithLabelValues(string(outcome.Kind)).Inc()

		durable := false
		if outcome.Changed() && outcome.Status == attendance.StatusJoined {
			_, err := repo.InsertEvent(c.Request.Context(), store.Event{
				Owner:     owner,
				ClassID:   sess.ClassID,
				StudentID: studentID,
				Mode:      string(mode),
				Status:    string(outcome.Status),
				CreatedAt: now,
			})
			if err != nil {
				log.Printf("durable write for scan failed: %v", err)
			} else {
				durable = true
				_ = q.Publish(c.Request.Context(), queue.Message{Type: "sync", Owner: owner})
			}
		}
		c.JSON(http.StatusOK, gin.H{"accepted": true, "outcome": outcome, "durable": durable})
	})

	limited.POST("/sessions/:id/finalize", func(c *gin.Context) {
		sess := registry.Get(c.Param("id"))
		if sess == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		report := finalizer.Finalize(c.Request.Context(), sess)
		registry.Remove(sess.ID)
		_ = q.Publish(c.Request.Context(), queue.Message{Type: "sync", Owner: owner})
		c.JSON(http.StatusOK, report)
	})

	limited.POST("/sync", func(c *gin.Context) {
		report := reconciler.Reconcile(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusAccepted // queued, next pass retries
		}
		c.JSON(status, report)
	})

	limited.GET("/events", func(c *gin.Context) {
		filter := store.EventFilter{Owner: owner, ClassID: c.Query("class_id")}
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				filter.Limit = parsed
			}
		}
		if v := c.Query("offset"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				filter.Offset = parsed
			}
		}
		events, err := repo.ListEvents(c.Request.Context(), filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("agent listening on :%s (owner %s)", cfg.HTTPPort, owner)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}
	log.Println("agent exited")
	return nil
}

// resolveStudent maps a scan payload to a faculty number. Email-only codes
// are resolved against the local cache first, then the remote directory;
// unknown faculty numbers get cached in the background for offline lookups.
func resolveStudent(ctx context.Context, repo *store.Repository, client *remote.Client, payload scan.Payload) string {
	key := payload.StudentKey()
	if key == payload.Email && payload.Email != "" {
		if cached, err := repo.GetStudentByEmail(ctx, payload.Email); err == nil && cached != nil {
			return cached.ID
		}
		if fetched, err := client.FetchStudent(ctx, payload.Email); err == nil && fetched != nil {
			_ = repo.PutStudent(ctx, *fetched)
			return fetched.ID
		}
		return key
	}
	go func() {
		lookupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if cached, err := repo.GetStudent(lookupCtx, key); err != nil || cached != nil {
			return
		}
		if fetched, err := client.FetchStudent(lookupCtx, key); err == nil && fetched != nil {
			_ = repo.PutStudent(lookupCtx, *fetched)
		}
	}()
	return key
}

// runSyncWorker sweeps unacknowledged events on queue triggers and on a
// fixed interval. Reconcile is single-flight, so overlapping triggers
// coalesce instead of double-submitting.
func runSyncWorker(ctx context.Context, q queue.Queue, rec *syncer.Reconciler, interval time.Duration) {
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Printf("sync worker: queue consume init failed: %v", err)
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Println("sync worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("sync worker stopped")
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if msg.Type != "sync" {
				continue
			}
			record(rec.Reconcile(ctx))
		case <-ticker.C:
			record(rec.Reconcile(ctx))
		}
	}
}

func record(report syncer.Report) {
	if report.OK {
		if report.Synced > 0 {
			metrics.EventsSynced.Add(float64(report.Synced))
			log.Printf("synced %d events", report.Synced)
		}
		return
	}
	metrics.SyncFailures.Inc()
	if report.Reason != "offline" {
		log.Printf("sync failed: %s", report.Reason)
	}
}

// CORS middleware for the local UI.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}
