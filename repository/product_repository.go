package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mitantsoa1/gns-preprod/models"
)

type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*models.Product, error)
	List(ctx context.Context) ([]models.Product, error)
	// Seed upserts services and products by primary key and rewrites each
	// product's service links.
	Seed(ctx context.Context, services []models.Service, products []models.Product) error
}

type gormProductRepo struct {
	db *gorm.DB
}

func NewGormProductRepo(db *gorm.DB) ProductRepository {
	return &gormProductRepo{db: db}
}

func (r *gormProductRepo) FindByID(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormProductRepo) List(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := r.db.WithContext(ctx).
		Preload("Services", func(db *gorm.DB) *gorm.DB { return db.Order("services.id ASC") }).
		Order("price ASC").
		Find(&products).Error
	return products, err
}

func (r *gormProductRepo) Seed(ctx context.Context, services []models.Service, products []models.Product) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(services) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "name_fr", "updated_at"}),
			}).Create(&services).Error; err != nil {
				return fmt.Errorf("seed services: %w", err)
			}
		}
		for i := range products {
			p := products[i]
			links := p.Services
			p.Services = nil
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "name_fr", "price", "delay", "updated_at"}),
			}).Create(&p).Error; err != nil {
				return fmt.Errorf("seed product %s: %w", p.ID, err)
			}
			if err := tx.Model(&p).Association("Services").Replace(links); err != nil {
				return fmt.Errorf("link services of %s: %w", p.ID, err)
			}
		}
		return nil
	})
}
