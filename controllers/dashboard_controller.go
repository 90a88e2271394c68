package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mitantsoa1/gns-preprod/middleware"
	"github.com/mitantsoa1/gns-preprod/services"
)

// DashboardController serves the signed-in user's dashboard.
type DashboardController struct {
	dashboard services.DashboardService
}

func NewDashboardController(dashboard services.DashboardService) *DashboardController {
	return &DashboardController{dashboard: dashboard}
}

// GetDashboard handles GET /dashboard.
func (dc *DashboardController) GetDashboard(ctx *gin.Context) {
	data, svcErr := dc.dashboard.GetDashboard(ctx.Request.Context(), middleware.GetUserID(ctx))
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, data)
}

// GetPayment handles GET /dashboard/payments/:id.
func (dc *DashboardController) GetPayment(ctx *gin.Context) {
	payment, svcErr := dc.dashboard.GetPayment(ctx.Request.Context(), middleware.GetUserID(ctx), ctx.Param("id"))
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"payment": payment})
}
