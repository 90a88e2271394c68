package models

import "time"

// DashboardStats summarises the current user's payments. The headline totals
// are in the currency of the latest paid payment; Revenue has every currency.
type DashboardStats struct {
	TotalRevenue      string            `json:"total_revenue"`
	TotalRevenueMinor int64             `json:"total_revenue_minor"`
	PendingQuotes     int               `json:"pending_quotes"`
	CompletedPayments int               `json:"completed_payments"`
	AveragePayment    string            `json:"average_payment"`
	Revenue           []CurrencyRevenue `json:"revenue"`
}

// CurrencyRevenue is the paid revenue, net of refunds, in one currency.
type CurrencyRevenue struct {
	Currency   string `json:"currency"`
	Total      string `json:"total"`
	TotalMinor int64  `json:"total_minor"`
	Payments   int    `json:"payments"`
	Average    string `json:"average"`
}

// DashboardPayment is a paid row of the dashboard payments table.
type DashboardPayment struct {
	ID      string `json:"id"`
	Product string `json:"product"`
	Amount  string `json:"amount"`
	Date    string `json:"date"`
	Status  string `json:"status"`
	Method  string `json:"method"`
}

// DashboardQuote is a payment without settled revenue (pending, failed,
// refunded or disputed) shown as a quote.
type DashboardQuote struct {
	ID         string `json:"id"`
	PaymentID  string `json:"payment_id"`
	Client     string `json:"client"`
	Project    string `json:"project"`
	Amount     string `json:"amount"`
	Date       string `json:"date"`
	Status     string `json:"status"`
	ValidUntil string `json:"valid_until"`
}

// DashboardActivity is one entry of the recent activity timeline.
type DashboardActivity struct {
	ID          int    `json:"id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Time        string `json:"time"`
}

// DashboardData is the payload of GET /dashboard.
type DashboardData struct {
	Stats      DashboardStats      `json:"stats"`
	Payments   []DashboardPayment  `json:"payments"`
	Quotes     []DashboardQuote    `json:"quotes"`
	Activities []DashboardActivity `json:"activities"`
}

// PaymentListResponse is the paginated admin listing.
type PaymentListResponse struct {
	Payments []Payment `json:"payments"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	Limit    int       `json:"limit"`
}

// ExportArchive points at an export stored in object storage.
type ExportArchive struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
