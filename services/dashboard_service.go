package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mitantsoa1/gns-preprod/models"
	awspkg "github.com/mitantsoa1/gns-preprod/pkg/aws"
	"github.com/mitantsoa1/gns-preprod/reconciler"
	"github.com/mitantsoa1/gns-preprod/repository"
)

const (
	quoteValidity   = 30 * 24 * time.Hour
	recentActivity  = 5
	dateLayout      = "2006-01-02"
	defaultMethod   = "card"
	defaultCustomer = "Me"
	defaultProject  = "Quote"
)

// DashboardCache is satisfied by *cache.DashboardCache.
type DashboardCache interface {
	Get(ctx context.Context, userID string) (*models.DashboardData, error)
	Set(ctx context.Context, userID string, data *models.DashboardData) error
}

// DashboardService builds the per-user dashboard from the payment ledger.
type DashboardService interface {
	GetDashboard(ctx context.Context, userID string) (*models.DashboardData, *ServiceError)
	GetPayment(ctx context.Context, userID, paymentID string) (*models.Payment, *ServiceError)
}

type dashboardServiceImpl struct {
	payments repository.PaymentRepository
	cache    DashboardCache
	metrics  reconciler.Metrics
	logger   *zap.Logger
}

// NewDashboardService creates a DashboardService. cache and metrics may be nil.
func NewDashboardService(payments repository.PaymentRepository, cache DashboardCache, metrics reconciler.Metrics, logger *zap.Logger) DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &dashboardServiceImpl{payments: payments, cache: cache, metrics: metrics, logger: logger}
}

func (s *dashboardServiceImpl) count(ctx context.Context, name string) {
	if s.metrics != nil {
		_ = s.metrics.RecordCount(ctx, name, map[string]string{"Service": "gns-payments", "Cache": "dashboard"})
	}
}

func (s *dashboardServiceImpl) GetDashboard(ctx context.Context, userID string) (*models.DashboardData, *ServiceError) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("dashboard cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if cached != nil {
			s.count(ctx, awspkg.MetricCacheHits)
			return cached, nil
		}
		s.count(ctx, awspkg.MetricCacheMisses)
	}

	payments, err := s.payments.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Error("failed to list user payments", zap.String("user_id", userID), zap.Error(err))
		return nil, errInternal("Failed to load dashboard")
	}
	data := BuildDashboard(payments)

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, data); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return data, nil
}

func (s *dashboardServiceImpl) GetPayment(ctx context.Context, userID, paymentID string) (*models.Payment, *ServiceError) {
	id, err := uuid.Parse(paymentID)
	if err != nil {
		return nil, errBadRequest("Invalid payment id")
	}
	p, err := s.payments.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, errNotFound("Payment not found")
	}
	if err != nil {
		s.logger.Error("failed to load payment", zap.String("payment_id", paymentID), zap.Error(err))
		return nil, errInternal("Failed to load payment")
	}
	// Other users' payments are reported as missing.
	if p.UserID != userID {
		return nil, errNotFound("Payment not found")
	}
	return p, nil
}

// isPaid reports whether a payment counts as settled revenue. Every other
// payment is listed as a quote.
func isPaid(s models.PaymentStatus) bool {
	return s == models.PaymentStatusSucceeded || s == models.PaymentStatusPartiallyRefunded
}

// BuildDashboard aggregates payments, newest first, into the dashboard view.
// Revenue is totalled per currency; the headline figures use the currency of
// the most recent paid payment.
func BuildDashboard(payments []models.Payment) *models.DashboardData {
	data := &models.DashboardData{
		Payments:   []models.DashboardPayment{},
		Quotes:     []models.DashboardQuote{},
		Activities: []models.DashboardActivity{},
	}

	type bucket struct {
		minor int64
		count int
	}
	buckets := map[string]*bucket{}
	var order []string
	for i := range payments {
		p := &payments[i]
		if !isPaid(p.Status) {
			data.Quotes = append(data.Quotes, dashboardQuote(p))
			continue
		}
		data.Payments = append(data.Payments, dashboardPayment(p))
		cur := strings.ToLower(p.Currency)
		if cur == "" {
			cur = defaultCurrency
		}
		b, ok := buckets[cur]
		if !ok {
			b = &bucket{}
			buckets[cur] = b
			order = append(order, cur)
		}
		b.minor += p.NetAmount()
		b.count++
	}

	revenue := make([]models.CurrencyRevenue, 0, len(order))
	for _, cur := range order {
		b := buckets[cur]
		total := decimal.New(b.minor, -2)
		revenue = append(revenue, models.CurrencyRevenue{
			Currency:   strings.ToUpper(cur),
			Total:      formatDecimal(total, cur),
			TotalMinor: b.minor,
			Payments:   b.count,
			Average:    formatDecimal(total.Div(decimal.New(int64(b.count), 0)), cur),
		})
	}

	data.Stats = models.DashboardStats{
		TotalRevenue:      formatDecimal(decimal.Zero, ""),
		PendingQuotes:     len(data.Quotes),
		CompletedPayments: len(data.Payments),
		AveragePayment:    formatDecimal(decimal.Zero, ""),
		Revenue:           revenue,
	}
	if len(revenue) > 0 {
		head := revenue[0]
		data.Stats.TotalRevenue = head.Total
		data.Stats.TotalRevenueMinor = head.TotalMinor
		data.Stats.AveragePayment = head.Average
	}

	for i := range payments {
		if i == recentActivity {
			break
		}
		data.Activities = append(data.Activities, dashboardActivity(i, &payments[i]))
	}
	return data
}

func productLabel(p *models.Payment, fallback string) string {
	if p.ProductName != "" && p.ProductName != reconciler.UnknownProduct {
		return p.ProductName
	}
	if p.ProductID != "" {
		return p.ProductID
	}
	return fallback
}

func dashboardPayment(p *models.Payment) models.DashboardPayment {
	date := p.CreatedAt
	if p.PaidAt != nil {
		date = *p.PaidAt
	}
	method := p.PaymentMethod
	if method == "" {
		method = defaultMethod
	}
	return models.DashboardPayment{
		ID:      p.ID.String(),
		Product: productLabel(p, reconciler.UnknownProduct),
		Amount:  formatMinor(p.NetAmount(), p.Currency),
		Date:    date.UTC().Format(dateLayout),
		Status:  string(p.Status),
		Method:  method,
	}
}

func dashboardQuote(p *models.Payment) models.DashboardQuote {
	client := p.CustomerName
	if client == "" {
		client = defaultCustomer
	}
	return models.DashboardQuote{
		ID:         strings.ToUpper(p.ID.String()[:8]),
		PaymentID:  p.ID.String(),
		Client:     client,
		Project:    productLabel(p, defaultProject),
		Amount:     formatMinor(p.Amount, p.Currency),
		Date:       p.CreatedAt.UTC().Format(dateLayout),
		Status:     string(p.Status),
		ValidUntil: p.CreatedAt.Add(quoteValidity).UTC().Format(dateLayout),
	}
}

func dashboardActivity(i int, p *models.Payment) models.DashboardActivity {
	kind, title := "quote", "Quote created"
	switch {
	case isPaid(p.Status):
		kind, title = "delivery", "Payment completed"
	case p.Status == models.PaymentStatusRefunded:
		kind, title = "refund", "Payment refunded"
	case p.Status == models.PaymentStatusDisputed:
		kind, title = "dispute", "Payment disputed"
	}
	return models.DashboardActivity{
		ID:          i,
		Type:        kind,
		Title:       title,
		Description: productLabel(p, reconciler.UnknownProduct) + " - " + formatMinor(p.Amount, p.Currency),
		Time:        p.CreatedAt.UTC().Format(dateLayout),
	}
}
