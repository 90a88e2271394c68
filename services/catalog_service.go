package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/catalog"
	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

// CatalogService serves the product catalogue and resolves product names for
// the reconciler.
type CatalogService struct {
	products repository.ProductRepository
	logger   *zap.Logger
}

func NewCatalogService(products repository.ProductRepository, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{products: products, logger: logger}
}

// ProductName returns the name of product id, or "" when it is unknown.
func (s *CatalogService) ProductName(ctx context.Context, id string) (string, error) {
	p, err := s.products.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.Name, nil
}

func (s *CatalogService) List(ctx context.Context) ([]models.Product, *ServiceError) {
	products, err := s.products.List(ctx)
	if err != nil {
		s.logger.Error("failed to list products", zap.Error(err))
		return nil, errInternal("Failed to load products")
	}
	return products, nil
}

// Seed upserts the embedded catalogue.
func (s *CatalogService) Seed(ctx context.Context) error {
	services, products, err := catalog.Default()
	if err != nil {
		return err
	}
	if err := s.products.Seed(ctx, services, products); err != nil {
		return err
	}
	s.logger.Info("catalogue seeded", zap.Int("services", len(services)), zap.Int("products", len(products)))
	return nil
}
