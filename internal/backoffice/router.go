package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/auction/internal/api/middleware"
	"github.com/evetabi/auction/internal/backoffice/handler"
	"github.com/evetabi/auction/internal/config"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	Verifier middleware.Verifier
	Store    handler.AdminStore
	Sweeps   handler.SweepRunner
	Hub      handler.ConnCounter // optional
	Cfg      *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine on the backoffice port.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	grace := deps.Cfg.Auction.GracePeriod
	dashH := handler.NewDashboardHandler(deps.Store, deps.Sweeps, deps.Hub, grace)
	auctionH := handler.NewAuctionAdminHandler(deps.Store, deps.Sweeps, grace)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.Verifier), middleware.BackofficeMiddleware())
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Auctions
		a := admin.Group("/auctions")
		{
			a.GET("", auctionH.List)
			a.GET("/:id", auctionH.Detail)
		}

		admin.GET("/reconciliation", auctionH.Reconciliation)
		admin.POST("/sweep", middleware.OperatorMiddleware(), auctionH.Sweep)
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if !allowed[clientIP] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_NOT_ALLOWED",
			})
			return
		}
		c.Next()
	}
}
