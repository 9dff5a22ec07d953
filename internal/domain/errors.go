package domain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrRaffleNotFound       = errors.New("raffle not found")
	ErrRaffleNotActive      = errors.New("raffle not active")
	ErrRaffleTitleRequired  = errors.New("raffle title required")
	ErrInvalidTotalNumbers  = errors.New("invalid total numbers")
	ErrInvalidPrice         = errors.New("invalid price")
	ErrInvalidRaffleStatus  = errors.New("invalid raffle status")
	ErrInvalidPaymentStatus = errors.New("invalid payment status")
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrPurchaseExpired      = errors.New("purchase expired")
	ErrPurchaseIncomplete   = errors.New("purchase has fewer numbers than its quantity")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInvalidNumber        = errors.New("invalid number")
	ErrBuyerRequired        = errors.New("buyer email or phone required")
	ErrBuyerNameRequired    = errors.New("buyer name required")
	ErrInvalidID            = errors.New("invalid id")
	ErrNoConfirmedNumbers   = errors.New("no confirmed numbers")
	ErrPixNotConfigured     = errors.New("pix key not configured for raffle")
	ErrInvalidSpinType      = errors.New("invalid spin type")
	ErrInvalidSpinGrant     = errors.New("invalid spin grant")
	ErrInvalidDrawRank      = errors.New("invalid draw rank")
	ErrApproverRequired     = errors.New("approver id required")
	ErrSpinBalanceNotFound  = errors.New("spin balance not found")
	ErrNumbersTaken         = errors.New("numbers already taken")

	// ErrInsufficientAvailability means the pool has fewer free numbers than requested.
	ErrInsufficientAvailability = errors.New("insufficient availability")
	// ErrCapacityExhausted means concurrent reservations kept winning the requested
	// numbers until the retry budget ran out. Callers may retry.
	ErrCapacityExhausted = errors.New("capacity exhausted, try again")
	// ErrInvalidStateTransition is returned for any operation on a purchase that
	// already left the pending state.
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrSpinQuotaExceeded      = errors.New("no spins available")
	ErrNoRetryCredit          = errors.New("no retry spin available")
)

// NumbersTakenError lists the numbers another purchase claimed first.
type NumbersTakenError struct {
	Numbers []int
}

func (e *NumbersTakenError) Error() string {
	nums := append([]int(nil), e.Numbers...)
	sort.Ints(nums)
	parts := make([]string, 0, len(nums))
	for _, n := range nums {
		parts = append(parts, strconv.Itoa(n))
	}
	return fmt.Sprintf("numbers already taken: %s", strings.Join(parts, ","))
}

func (e *NumbersTakenError) Unwrap() error {
	return ErrNumbersTaken
}
