package domain

import "time"

type RaffleStatus string

const (
	RaffleStatusDraft     RaffleStatus = "draft"
	RaffleStatusActive    RaffleStatus = "active"
	RaffleStatusCompleted RaffleStatus = "completed"
	RaffleStatusCancelled RaffleStatus = "cancelled"
)

func (s RaffleStatus) Valid() bool {
	switch s {
	case RaffleStatusDraft, RaffleStatusActive, RaffleStatusCompleted, RaffleStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an operator may move a raffle from s to next.
func (s RaffleStatus) CanTransitionTo(next RaffleStatus) bool {
	switch s {
	case RaffleStatusDraft:
		return next == RaffleStatusActive || next == RaffleStatusCancelled
	case RaffleStatusActive:
		return next == RaffleStatusCompleted || next == RaffleStatusCancelled
	}
	return false
}

// Raffle is a numbered pool [1, TotalNumbers]. TotalNumbers never changes after creation.
type Raffle struct {
	ID               string
	Title            string
	Description      string
	PrizeDescription string
	TotalNumbers     int
	PriceCents       int64
	Status           RaffleStatus
	Pix              PixSettings
	DrawDate         *time.Time
	MainWinner       *Winner
	TopBuyerWinner   *Winner
	SecondTopWinner  *Winner
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type PixSettings struct {
	Key             string
	BeneficiaryName string
	City            string
}

type WinnerKind string

const (
	WinnerMain           WinnerKind = "main"
	WinnerTopBuyer       WinnerKind = "top_buyer"
	WinnerSecondTopBuyer WinnerKind = "second_top_buyer"
)

type Winner struct {
	Kind   WinnerKind
	Number int
	Name   string
}

// PoolStats is the occupancy of one raffle. Available is derived, never stored.
type PoolStats struct {
	Total     int
	Reserved  int
	Confirmed int
}

func (s PoolStats) Taken() int {
	return s.Reserved + s.Confirmed
}

func (s PoolStats) Available() int {
	return s.Total - s.Taken()
}

func (s PoolStats) Occupancy() float64 {
	if s.Total <= 0 {
		return 1
	}
	return float64(s.Taken()) / float64(s.Total)
}
