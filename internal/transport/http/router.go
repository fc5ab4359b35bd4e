package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatvoice/internal/platform/config"
	"chatvoice/internal/platform/logging"
	"chatvoice/internal/platform/observability"
)

// Options configures the HTTP router builder.
type Options struct {
	Config  config.HTTPConfig
	Logger  *logging.Logger
	Metrics *observability.Metrics
	// MetricsPath mounts the prometheus handler when Metrics is set.
	MetricsPath string
	Debug       bool
}

// Router bundles together the gin engine and the API group.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

// Build returns a gin engine with the shared middleware chain and, when
// metrics are on, the prometheus endpoint. Routes go on Router.API.
func Build(opts Options) (*Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscard()
	}

	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestIDMiddleware(), loggingMiddleware(logger), observabilityMiddleware(opts.Metrics))

	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, fmt.Errorf("configure trusted proxies: %w", err)
	}

	origins := opts.Config.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:    []string{"Content-Length", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		engine.GET(path, gin.WrapH(opts.Metrics.Handler()))
	}

	return &Router{
		Engine: engine,
		API:    engine.Group("/api"),
	}, nil
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware keeps a caller supplied request id or assigns one.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		line := "%s %s -> %d (%s) id=%s"
		args := []any{c.Request.Method, c.Request.URL.Path, status, time.Since(start), c.GetString("request_id")}
		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorTag("HTTP", line, args...)
		case status >= http.StatusBadRequest:
			logger.WarnTag("HTTP", line, args...)
		default:
			logger.DebugTag("HTTP", line, args...)
		}
	}
}

// observabilityMiddleware wraps each request in a span and records it on the
// request histogram. Unmatched routes share one label.
func observabilityMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		ctx, spanEnd := observability.StartSpan(c.Request.Context(), "http.server", c.Request.Method+" "+route)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		metrics.HTTPRequest(c.Request.Method, route, status, time.Since(start))

		var err error
		if len(c.Errors) > 0 {
			err = c.Errors.Last().Err
		} else if status >= http.StatusInternalServerError {
			err = fmt.Errorf("status %d", status)
		}
		spanEnd(err)
	}
}
