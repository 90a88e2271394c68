package reconciler

import "github.com/mitantsoa1/gns-preprod/models"

// precedence ranks statuses by how much they say about a payment. The stored
// status only ever moves up this ladder, which makes the result independent of
// the order events arrive in.
var precedence = map[models.PaymentStatus]int{
	models.PaymentStatusPending:           0,
	models.PaymentStatusFailed:            1,
	models.PaymentStatusSucceeded:         2,
	models.PaymentStatusDisputed:          3,
	models.PaymentStatusPartiallyRefunded: 4,
	models.PaymentStatusRefunded:          5,
}

// Rank returns the precedence of s; unknown statuses rank below pending.
func Rank(s models.PaymentStatus) int {
	if r, ok := precedence[s]; ok {
		return r
	}
	return -1
}

// MaxStatus returns whichever of a and b ranks higher.
func MaxStatus(a, b models.PaymentStatus) models.PaymentStatus {
	if Rank(b) > Rank(a) {
		return b
	}
	return a
}

// RefundStatus classifies a refunded total against the payment amount. An
// unknown amount never counts as fully refunded.
func RefundStatus(amount, refunded int64) models.PaymentStatus {
	if refunded <= 0 {
		return ""
	}
	if amount > 0 && refunded >= amount {
		return models.PaymentStatusRefunded
	}
	return models.PaymentStatusPartiallyRefunded
}

// NextStatus derives the status of merged from its previous status, the
// event's candidate and the merged refund and dispute facts.
func NextStatus(current models.PaymentStatus, candidate models.PaymentStatus, merged *models.Payment) models.PaymentStatus {
	next := current
	if next == "" {
		next = models.PaymentStatusPending
	}
	next = MaxStatus(next, candidate)
	if merged.Disputed {
		next = MaxStatus(next, models.PaymentStatusDisputed)
	}
	return MaxStatus(next, RefundStatus(merged.Amount, merged.AmountRefunded))
}
