package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	commonmw "github.com/mitantsoa1/gns-preprod/common/middleware"
	"github.com/mitantsoa1/gns-preprod/controllers"
	"github.com/mitantsoa1/gns-preprod/middleware"
)

// Controllers bundles the HTTP handlers mounted by Register.
type Controllers struct {
	Webhook   *controllers.WebhookController
	Dashboard *controllers.DashboardController
	Admin     *controllers.AdminPaymentController
	Catalog   *controllers.CatalogController
}

// Register mounts every route. The Stripe webhook is public and rate limited
// per IP; dashboard and admin routes require an identity.
func Register(r *gin.Engine, c Controllers, jwtSecret string, webhookLimiter *commonmw.RateLimiter) {
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "OK", "service": "gns-payments"})
	})

	if c.Webhook != nil {
		webhook := r.Group("/stripe")
		if webhookLimiter != nil {
			webhook.Use(webhookLimiter.Middleware())
		}
		webhook.POST("/webhook", c.Webhook.StripeWebhook)
	}

	if c.Catalog != nil {
		r.GET("/products", c.Catalog.ListProducts)
	}

	if c.Dashboard != nil {
		dashboard := r.Group("/dashboard")
		dashboard.Use(middleware.Auth(jwtSecret))
		dashboard.GET("", c.Dashboard.GetDashboard)
		dashboard.GET("/payments/:id", c.Dashboard.GetPayment)
	}

	if c.Admin != nil {
		admin := r.Group("/admin")
		admin.Use(middleware.Auth(jwtSecret), middleware.AdminOnly())
		admin.GET("/payments", c.Admin.ListPayments)
		admin.GET("/payments/export", c.Admin.ExportPayments)
		admin.POST("/payments/export/archive", c.Admin.ArchiveExport)
	}
}
