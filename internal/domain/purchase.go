package domain

import (
	"strings"
	"time"
	"unicode"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentExpired  PaymentStatus = "expired"
)

func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentApproved, PaymentRejected, PaymentExpired:
		return true
	}
	return false
}

type PurchaseSource string

const (
	SourceCheckout PurchaseSource = "checkout"
	SourceSpin     PurchaseSource = "spin"
)

type Buyer struct {
	Name  string
	Email string
	Phone string
}

// Key identifies a buyer across purchases: the normalised e-mail, or the phone digits.
func (b Buyer) Key() string {
	if email := strings.ToLower(strings.TrimSpace(b.Email)); email != "" {
		return email
	}
	return NormalizePhone(b.Phone)
}

func NormalizePhone(phone string) string {
	var sb strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Purchase owns Quantity numbers once reservation completes. Checkout purchases
// start pending; spin grants are created approved with no expiry.
type Purchase struct {
	ID         string
	RaffleID   string
	Buyer      Buyer
	BuyerKey   string
	Quantity   int
	TotalCents int64
	Status     PaymentStatus
	Source     PurchaseSource
	ExpiresAt  *time.Time
	ApprovedAt *time.Time
	ApprovedBy string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Due reports whether a pending purchase passed its deadline at now.
func (p Purchase) Due(now time.Time) bool {
	return p.Status == PaymentPending && p.ExpiresAt != nil && !p.ExpiresAt.After(now)
}

// StatusUpdate moves a pending purchase to a terminal status.
type StatusUpdate struct {
	Status     PaymentStatus
	At         time.Time
	ApprovedBy string
}

// NumberRecord is a claimed number. ConfirmedAt nil means reserved.
type NumberRecord struct {
	RaffleID    string
	Number      int
	PurchaseID  string
	ReservedAt  time.Time
	ConfirmedAt *time.Time
}

// Reservation is a purchase together with the numbers it currently owns.
type Reservation struct {
	Purchase Purchase
	Numbers  []int
}

// SweepResult summarises one expiry sweep.
type SweepResult struct {
	Expired  int
	Released int
}
