package domain

import "time"

type SpinType string

const (
	SpinMain  SpinType = "main"
	SpinRetry SpinType = "retry"
)

func (t SpinType) Valid() bool {
	return t == SpinMain || t == SpinRetry
}

type PrizeKind string

const (
	PrizeFixed      PrizeKind = "fixed"
	PrizeMultiplier PrizeKind = "multiplier"
	PrizeRetry      PrizeKind = "retry"
	PrizeNothing    PrizeKind = "nothing"
)

func (k PrizeKind) Valid() bool {
	switch k {
	case PrizeFixed, PrizeMultiplier, PrizeRetry, PrizeNothing:
		return true
	}
	return false
}

type Prize struct {
	Kind   PrizeKind `json:"kind" toml:"kind"`
	Amount int       `json:"amount" toml:"amount"`
}

type WeightedPrize struct {
	Prize
	Weight float64 `json:"weight" toml:"weight"`
}

// SpinBalance counts main spins per buyer and raffle. UsedSpins never exceeds TotalSpins.
// RetryCredits are earned by main draws that land on a retry outcome.
type SpinBalance struct {
	RaffleID     string
	BuyerKey     string
	TotalSpins   int
	UsedSpins    int
	RetryCredits int
	UpdatedAt    time.Time
}

func (b SpinBalance) Remaining() int {
	return b.TotalSpins - b.UsedSpins
}

type SpinHistory struct {
	ID             string
	RaffleID       string
	BuyerKey       string
	SpinType       SpinType
	Prize          Prize
	GrantedNumbers []int
	PurchaseID     string
	CreatedAt      time.Time
}
