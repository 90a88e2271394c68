package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/services"
)

// ProductLister is satisfied by *services.CatalogService.
type ProductLister interface {
	List(ctx context.Context) ([]models.Product, *services.ServiceError)
}

type CatalogController struct {
	catalog ProductLister
}

func NewCatalogController(catalog ProductLister) *CatalogController {
	return &CatalogController{catalog: catalog}
}

// ListProducts handles GET /products.
func (cc *CatalogController) ListProducts(ctx *gin.Context) {
	products, svcErr := cc.catalog.List(ctx.Request.Context())
	if svcErr != nil {
		ctx.JSON(svcErr.StatusCode, gin.H{"error": svcErr.Message})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"products": products})
}
