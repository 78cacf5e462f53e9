package web

import (
	"net/http"
	"time"

	"github.com/PancyStudios/ClashBotGo/pkg/coc"
	"github.com/PancyStudios/ClashBotGo/pkg/events"
	"github.com/PancyStudios/ClashBotGo/pkg/logger"
	"github.com/PancyStudios/ClashBotGo/pkg/tasks"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource is the read side of the polling controller
type StatusSource interface {
	Status() tasks.Status
	TagStatus(kind events.Kind, tag string) (tasks.TagStatus, bool)
}

// RouteDeps are the components the API reports on. Nil funcs report offline.
type RouteDeps struct {
	Controller StatusSource
	DBStatus   func() (string, bool)
	BotReady   func() bool
	StartTime  time.Time
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// SetupAPIRoutes sets up the API routes
func SetupAPIRoutes(s *Server, deps RouteDeps) {
	api := s.Group("/api")
	{
		api.GET("/health", healthHandler(deps))
		api.GET("/status", statusHandler(deps))
		api.GET("/loops/:kind/tags/:tag", tagStatusHandler(deps))
	}
	s.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.GET("/ws/events", liveFeedHandler(s.hub))
}

// healthHandler returns a simple health check response
func healthHandler(deps RouteDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "healthy",
			"message": "ClashBot Go is running",
		}
		if !deps.StartTime.IsZero() {
			body["uptime"] = time.Since(deps.StartTime).Round(time.Second).String()
		}
		c.JSON(http.StatusOK, body)
	}
}

// statusHandler returns the polling core, database and bot status
func statusHandler(deps RouteDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		dbStatus, dbOnline := "Desconectado", false
		if deps.DBStatus != nil {
			dbStatus, dbOnline = deps.DBStatus()
		}
		botOnline := deps.BotReady != nil && deps.BotReady()

		body := gin.H{
			"status": "ok",
			"database": gin.H{
				"status":   dbStatus,
				"isOnline": dbOnline,
			},
			"bot": gin.H{
				"isOnline": botOnline,
			},
		}
		if deps.Controller != nil {
			body["polling"] = deps.Controller.Status()
		}
		c.JSON(http.StatusOK, body)
	}
}

// tagStatusHandler returns the bookkeeping of one tag in one loop
func tagStatusHandler(deps RouteDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		kind := events.Kind(c.Param("kind"))
		if !knownKind(kind) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Not Found",
				"message": "Tipo de loop desconocido: " + string(kind),
			})
			return
		}
		if deps.Controller == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":   "Service Unavailable",
				"message": "El sondeo no está iniciado.",
			})
			return
		}

		tag := c.Param("tag")
		if kind != events.KindGuild {
			tag = coc.NormalizeTag(tag)
		}
		status, ok := deps.Controller.TagStatus(kind, tag)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "Not Found",
				"message": "El tag no está siendo sondeado.",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"kind":     kind,
			"status":   status,
			"erroring": status.Erroring(),
			"retired":  status.Retired,
		})
	}
}

func knownKind(kind events.Kind) bool {
	for _, k := range events.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// liveFeedHandler upgrades the request and attaches it to the hub
func liveFeedHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Debug("No se pudo abrir el websocket: "+err.Error(), "LiveFeed")
			return
		}
		client := newClient(hub, conn)
		if !hub.attach(c.Request.Context(), client) {
			_ = conn.Close()
		}
	}
}
