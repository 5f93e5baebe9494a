// Package httptransport exposes the mock backend over HTTP: the intercepted
// /api surface, the /__mock control surface and the bypass marker for
// everything else.
package httptransport

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"propmock/internal/platform/logging"
	"propmock/internal/platform/observability"
)

// BypassHeader marks responses for requests no route matched. The
// interceptor forwards such requests to the real network.
const BypassHeader = "X-Propmock-Bypass"

// Options configures the HTTP router builder.
type Options struct {
	Logger       logging.Interface
	Recorder     *observability.Recorder
	Mode         string
	AllowOrigins []string
	StaticRoot   string
}

// Router bundles together the gin engine and common route groups.
type Router struct {
	Engine  *gin.Engine
	API     *gin.RouterGroup
	Control *gin.RouterGroup
}

// Build constructs a gin engine pre-configured with recovery, logging, CORS
// and the bypass fallback.
func Build(opts Options) (*Router, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if opts.Mode == gin.DebugMode {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger, opts.Recorder))

	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	engine.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
		},
		ExposeHeaders:    []string{"Content-Length", "X-Total-Count"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	if opts.StaticRoot != "" {
		engine.Use(static.Serve("/", static.LocalFile(opts.StaticRoot, true)))
	}

	engine.NoRoute(func(c *gin.Context) {
		opts.Recorder.ObserveBypass()
		c.Header(BypassHeader, "1")
		respondError(c, http.StatusNotFound, "no mock route for "+c.Request.Method+" "+c.Request.URL.Path)
	})

	return &Router{
		Engine:  engine,
		API:     engine.Group("/api"),
		Control: engine.Group("/__mock"),
	}, nil
}

func loggingMiddleware(logger logging.Interface, recorder *observability.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			logger.Debug("%s %s -> bypass", c.Request.Method, c.Request.URL.Path)
			return
		}
		recorder.ObserveRequest(c.Request.Method, route, status, duration)
		logger.Info("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, status, duration)
	}
}
