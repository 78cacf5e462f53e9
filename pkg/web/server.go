// Package web provides an HTTP server with routing and middleware.
// It uses Gin framework for high-performance web handling.
package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"
)

// Options configures the web server
type Options struct {
	Port string
	// WebhookURL receives a log line per request when set
	WebhookURL string
	// AllowedHosts rejects requests whose Host does not match. Empty allows every host.
	AllowedHosts string
	// RateLimit is the per-IP request rate; RateBurst its bucket size
	RateLimit rate.Limit
	RateBurst int
}

// Server represents the web server
type Server struct {
	engine           *gin.Engine
	port             string
	webhookURL       string
	allowedHostRegex *regexp.Regexp
	limiter          *ipLimiter
	hub              *Hub
}

var (
	server *Server
)

// Init initializes the global web server
func Init(opts Options) *Server {
	server = NewServer(opts)
	return server
}

// Get returns the global web server
func Get() *Server {
	return server
}

// NewServer creates a new web server
func NewServer(opts Options) *Server {
	gin.SetMode(gin.ReleaseMode)

	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Limit(100.0 / 60.0)
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 20
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		port:       opts.Port,
		webhookURL: opts.WebhookURL,
		limiter:    newIPLimiter(opts.RateLimit, opts.RateBurst),
		hub:        NewHub(),
	}
	if opts.AllowedHosts != "" {
		s.allowedHostRegex = regexp.MustCompile(opts.AllowedHosts)
	}

	s.engine.Use(s.metricsMiddleware())
	s.engine.Use(s.logsMiddleware())
	s.engine.Use(s.rateLimitMiddleware())

	s.setupErrorHandlers()

	return s
}

// Engine returns the underlying Gin engine
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Hub returns the live feed hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// metricsMiddleware records every request by route template
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// logsMiddleware logs incoming requests and rejects unexpected hosts
func (s *Server) logsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.allowedHostRegex == nil || s.allowedHostRegex.MatchString(c.Request.Host) {
			logger.Debug(fmt.Sprintf("Nueva solicitud: %s %s", c.Request.Method, c.Request.URL.Path), "WebServer")
			go s.sendLogToWebhook(c.Copy(), false)
			c.Next()
			return
		}

		logger.Warn(fmt.Sprintf("Solicitud Sospechosa: %s %s | %s", c.Request.Method, c.Request.URL.Path, c.ClientIP()), "WebServer")
		go s.sendLogToWebhook(c.Copy(), true)
		c.AbortWithStatus(http.StatusForbidden)
	}
}

// sendLogToWebhook sends a log message to the Discord webhook
func (s *Server) sendLogToWebhook(c *gin.Context, suspicious bool) {
	if s.webhookURL == "" {
		return
	}

	title := fmt.Sprintf("💫 | Nueva solicitud al servidor web de tipo %s", c.Request.Method)
	color := 0x00AE86

	if suspicious {
		title = fmt.Sprintf("💫 | Solicitud Sospechosa Rechazada: %s %s", c.Request.Method, c.Request.URL.Path)
		color = 0xFFA500
	}

	query := c.Request.URL.RawQuery
	if query == "" {
		query = "{}"
	}

	embed := map[string]interface{}{
		"title": title,
		"description": fmt.Sprintf(
			"> **Ruta:** `%s`\n> **IP:** `%s`\n> **User-Agent:** `%s`\n> **Query:** ```%s```",
			c.Request.URL.Path,
			c.ClientIP(),
			c.Request.UserAgent(),
			query,
		),
		"color":     color,
		"timestamp": time.Now().Format(time.RFC3339),
	}

	jsonData, err := json.Marshal(map[string]interface{}{"embeds": []interface{}{embed}})
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
}

// ipLimiter keeps one token bucket per client IP
type ipLimiter struct {
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
	visitors    map[string]*visitor
	lastCleanup time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

const visitorTTL = 3 * time.Minute

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limit:       limit,
		burst:       burst,
		visitors:    make(map[string]*visitor),
		lastCleanup: time.Now(),
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > visitorTTL {
		for key, v := range l.visitors {
			if now.Sub(v.lastSeen) > visitorTTL {
				delete(l.visitors, key)
			}
		}
		l.lastCleanup = now
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// rateLimitMiddleware rejects clients that exceed their token bucket
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.allow(c.ClientIP(), time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Demasiadas solicitudes, por favor intente de nuevo más tarde.",
			})
			return
		}
		c.Next()
	}
}

// setupErrorHandlers sets up error handling routes
func (s *Server) setupErrorHandlers() {
	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Not Found",
			"message": "La ruta solicitada no existe.",
			"status":  404,
		})
	})

	s.engine.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error":   "Method Not Allowed",
			"message": "El método HTTP no está permitido para esta ruta.",
			"status":  405,
		})
	})
}

// String names the server for the supervisor
func (s *Server) String() string {
	return "WebServer"
}

// Serve listens until ctx ends and then shuts down gracefully. It implements suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("🚀 Servidor escuchando en http://localhost:%s", s.port), "WebServer")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("servidor web caído: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("cierre del servidor web: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

// GET registers a GET route
func (s *Server) GET(path string, handlers ...gin.HandlerFunc) {
	s.engine.GET(path, handlers...)
}

// Group creates a new router group
func (s *Server) Group(path string, handlers ...gin.HandlerFunc) *gin.RouterGroup {
	return s.engine.Group(path, handlers...)
}
