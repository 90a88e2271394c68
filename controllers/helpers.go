package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cast"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

// paymentFilter reads page, limit, status and user_id from the query string.
// Unparseable numbers fall back to zero and get the service defaults.
func paymentFilter(ctx *gin.Context) repository.PaymentFilter {
	return repository.PaymentFilter{
		Status: models.PaymentStatus(ctx.Query("status")),
		UserID: ctx.Query("user_id"),
		Page:   cast.ToInt(ctx.Query("page")),
		Limit:  cast.ToInt(ctx.Query("limit")),
	}
}
