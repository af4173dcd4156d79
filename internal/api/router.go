package api

import (
	"net/http"

	"github.com/evetabi/auction/internal/api/handler"
	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/config"
	"github.com/evetabi/auction/internal/service"
	"github.com/evetabi/auction/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	Verifier   middleware.Verifier
	AuctionSvc *service.AuctionService
	Hub        *ws.Hub
	Limiter    *middleware.RateLimiter // nil = one is built from Cfg
	Cfg        *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	auctionH := handler.NewAuctionHandler(deps.AuctionSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.Verifier)

	// ── Rate limiter (after JWT so callers are keyed by identity) ────────────
	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(deps.Cfg.Server.RateLimitRPS)
	}
	writeRL := middleware.RateLimitMiddleware(limiter)

	api := r.Group("/api")
	{
		// ── Public reads ─────────────────────────────────────────────────────
		api.GET("/auctions", auctionH.List)
		api.GET("/auctions/:id", auctionH.Get)
		api.GET("/sellers/:seller/pending-transfers", auctionH.PendingTransfers)

		// ── Authenticated writes ─────────────────────────────────────────────
		authed := api.Group("/auctions")
		authed.Use(jwtMW, writeRL)
		{
			authed.POST("", auctionH.Create)
			authed.POST("/:id/bids", auctionH.PlaceBid)
			authed.POST("/:id/end", auctionH.End)
			authed.POST("/:id/expire", auctionH.Expire)
			authed.POST("/:id/claim", auctionH.Claim)
			authed.POST("/:id/settlement", auctionH.Settle)
			authed.POST("/:id/transfer", auctionH.Transfer)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// Outside production all origins are allowed; in production only the
// configured ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() {
			// Development: allow any origin
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
