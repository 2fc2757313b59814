package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/httpmiddleware"
	"rollcall/internal/qrimg"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/token"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:sweeps")
	}

	sessions := session.NewGenerator(session.NewRepository(db.Client), redisClient.Client, cfg.SessionWindow)
	att := attendance.NewService(attendance.NewRepository(db.Client), cfg.GraceWindow)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	// Dev-style token issuance; a real deployment would front this with a
	// proper identity provider.
	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			Subject string `json:"subject" binding:"required"`
			Role    string `json:"role" binding:"required,oneof=teacher student"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		signed, exp, err := auth.Issue(req.Subject, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.TokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"access_token": signed, "expires_at": exp.Unix()})
	})

	type sessionRequest struct {
		ClassName     string               `json:"class_name"`
		WindowMinutes int                  `json:"window_minutes"`
		Geofence      *attendance.Location `json:"geofence"`
		RadiusM       float64              `json:"radius_m"`
	}
	toFence := func(req sessionRequest) *token.Geofence {
		if req.Geofence == nil {
			return nil
		}
		radius := req.RadiusM
		if radius <= 0 {
			radius = 50
		}
		return &token.Geofence{Latitude: req.Geofence.Latitude, Longitude: req.Geofence.Longitude, RadiusM: radius}
	}
	sessionResponse := func(d token.SessionDescriptor) gin.H {
		return gin.H{
			"session":           d,
			"qr_data":           token.Encode(d),
			"seconds_remaining": int(session.TimeRemaining(time.Now().UTC(), d.ExpiresAt).Seconds()),
		}
	}

	teachers := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleTeacher))

	teachers.POST("/classes/:class_id/sessions", func(c *gin.Context) {
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		d, err := sessions.Generate(c.Request.Context(), c.Param("class_id"), req.ClassName, claims.Subject,
			time.Duration(req.WindowMinutes)*time.Minute, toFence(req))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sessionResponse(d))
	})

	teachers.POST("/classes/:class_id/sessions/regenerate", func(c *gin.Context) {
		// Body is optional here; an empty regenerate reuses the defaults.
		var req sessionRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		fresh, superseded, err := sessions.Regenerate(c.Request.Context(), c.Param("class_id"), req.ClassName, claims.Subject,
			time.Duration(req.WindowMinutes)*time.Minute, toFence(req))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if superseded != nil {
			// The old token stays scannable until its own expiry; the worker
			// holds the sweep until then.
			msg := queue.Message{Type: queue.TypeSweep, Body: []byte(superseded.SessionToken)}
			if err := q.Publish(c.Request.Context(), msg); err != nil {
				log.Printf("queue publish failed: %v", err)
			}
		}
		c.JSON(http.StatusCreated, sessionResponse(fresh))
	})

	authed := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer))

	authed.GET("/classes/:class_id/sessions/active", func(c *gin.Context) {
		d, err := sessions.Active(c.Request.Context(), c.Param("class_id"))
		if errors.Is(err, session.ErrNoActiveSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sessionResponse(d))
	})

	authed.GET("/sessions/:session_token/qr.png", func(c *gin.Context) {
		d, err := sessions.Lookup(c.Request.Context(), c.Param("session_token"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if d == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
			return
		}
		img, err := qrimg.PNG(token.Encode(*d), cfg.QRSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "render failed"})
			return
		}
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "image/png", img)
	})

	students := r.Group("/v1", auth.Require(cfg.JWTSigningKey, cfg.JWTIssuer, auth.RoleStudent))

	students.POST("/checkins", func(c *gin.Context) {
		var req struct {
			QRData   string               `json:"qr_data" binding:"required"`
			Location *attendance.Location `json:"location"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		claims, _ := auth.FromContext(c)
		rec, err := att.MarkScanned(c.Request.Context(), req.QRData, claims.Subject, req.Location, time.Now().UTC())
		if err != nil {
			status, msg := rejectionStatus(err)
			c.JSON(status, gin.H{"error": msg})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"record": rec})
	})

	authed.GET("/attendance", func(c *gin.Context) {
		userID, ok := resolveUser(c)
		if !ok {
			return
		}
		records, err := att.ListForUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	authed.GET("/attendance/stats", func(c *gin.Context) {
		userID, ok := resolveUser(c)
		if !ok {
			return
		}
		stats, err := att.StatsForUser(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": userID, "stats": stats})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// resolveUser picks the queried user, letting students read only themselves.
func resolveUser(c *gin.Context) (string, bool) {
	claims, _ := auth.FromContext(c)
	userID := c.Query("user_id")
	if userID == "" {
		userID = claims.Subject
	}
	if claims.Role == auth.RoleStudent && userID != claims.Subject {
		c.JSON(http.StatusForbidden, gin.H{"error": "students may only read their own attendance"})
		return "", false
	}
	return userID, true
}

// rejectionStatus maps validator rejections to HTTP responses. Anything that
// is not a typed rejection is an infrastructure failure.
func rejectionStatus(err error) (int, string) {
	var rej *attendance.Rejection
	if !errors.As(err, &rej) {
		return http.StatusInternalServerError, "attendance could not be recorded, try again"
	}
	switch rej.Kind {
	case attendance.RejectMalformedToken:
		return http.StatusBadRequest, "that QR code is not a valid attendance token"
	case attendance.RejectExpired:
		return http.StatusGone, "this session has expired, ask for a new code"
	case attendance.RejectOutOfRange:
		return http.StatusForbidden, "you are outside the allowed area for this session"
	case attendance.RejectDuplicate:
		return http.StatusConflict, "attendance already marked for this session"
	}
	return http.StatusBadRequest, rej.Error()
}

// CORS middleware for browser requests
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

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
