package services_test

import (
	"context"

	"github.com/google/uuid"

	"github.com/mitantsoa1/gns-preprod/models"
	"github.com/mitantsoa1/gns-preprod/repository"
)

// mockPaymentRepo implements repository.PaymentRepository over a slice kept
// newest first.
type mockPaymentRepo struct {
	payments []models.Payment
	err      error
	lists    int
}

func (m *mockPaymentRepo) FindByIdentifiers(context.Context, models.StripeIdentifiers) ([]models.Payment, error) {
	return nil, m.err
}

func (m *mockPaymentRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	if m.err != nil {
		return nil, m.err
	}
	for i := range m.payments {
		if m.payments[i].ID == id {
			p := m.payments[i]
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *mockPaymentRepo) Create(context.Context, *models.Payment) error { return m.err }
func (m *mockPaymentRepo) Update(context.Context, *models.Payment) error { return m.err }

func (m *mockPaymentRepo) List(_ context.Context, f repository.PaymentFilter) ([]models.Payment, int64, error) {
	m.lists++
	if m.err != nil {
		return nil, 0, m.err
	}
	var matched []models.Payment
	for _, p := range m.payments {
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		if f.UserID != "" && p.UserID != f.UserID {
			continue
		}
		matched = append(matched, p)
	}
	total := int64(len(matched))
	if f.Limit > 0 {
		start := (f.Page - 1) * f.Limit
		if start > len(matched) {
			start = len(matched)
		}
		end := start + f.Limit
		if end > len(matched) {
			end = len(matched)
		}
		matched = matched[start:end]
	}
	return matched, total, nil
}

func (m *mockPaymentRepo) ListByUser(_ context.Context, userID string) ([]models.Payment, error) {
	out, _, err := m.List(context.Background(), repository.PaymentFilter{UserID: userID})
	return out, err
}

type memoryDashboardCache struct {
	data map[string]*models.DashboardData
	gets int
}

func (c *memoryDashboardCache) Get(_ context.Context, userID string) (*models.DashboardData, error) {
	c.gets++
	return c.data[userID], nil
}

func (c *memoryDashboardCache) Set(_ context.Context, userID string, d *models.DashboardData) error {
	if c.data == nil {
		c.data = map[string]*models.DashboardData{}
	}
	c.data[userID] = d
	return nil
}
