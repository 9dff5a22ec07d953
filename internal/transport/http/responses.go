package http

import (
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/app"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
)

type winnerResponse struct {
	Kind   string `json:"kind"`
	Number int    `json:"number"`
	Name   string `json:"name"`
}

type statsResponse struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Reserved  int `json:"reserved"`
	Confirmed int `json:"confirmed"`
}

type raffleResponse struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description,omitempty"`
	PrizeDescription string          `json:"prize_description,omitempty"`
	TotalNumbers     int             `json:"total_numbers"`
	PriceCents       int64           `json:"price_cents"`
	Status           string          `json:"status"`
	PixConfigured    bool            `json:"pix_configured"`
	DrawDate         *time.Time      `json:"draw_date,omitempty"`
	MainWinner       *winnerResponse `json:"main_winner,omitempty"`
	TopBuyerWinner   *winnerResponse `json:"top_buyer_winner,omitempty"`
	SecondTopWinner  *winnerResponse `json:"second_top_buyer_winner,omitempty"`
	Stats            *statsResponse  `json:"stats,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type purchaseResponse struct {
	ID         string     `json:"id"`
	RaffleID   string     `json:"raffle_id"`
	BuyerName  string     `json:"buyer_name"`
	BuyerEmail string     `json:"buyer_email,omitempty"`
	BuyerPhone string     `json:"buyer_phone,omitempty"`
	Quantity   int        `json:"quantity"`
	TotalCents int64      `json:"total_cents"`
	Status     string     `json:"status"`
	Source     string     `json:"source"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	Numbers    []int      `json:"numbers,omitempty"`
}

type balanceResponse struct {
	RaffleID     string `json:"raffle_id"`
	TotalSpins   int    `json:"total_spins"`
	UsedSpins    int    `json:"used_spins"`
	Remaining    int    `json:"remaining"`
	RetryCredits int    `json:"retry_credits"`
}

type spinHistoryResponse struct {
	SpinType       string       `json:"spin_type"`
	Prize          domain.Prize `json:"prize"`
	GrantedNumbers []int        `json:"granted_numbers,omitempty"`
	PurchaseID     string       `json:"purchase_id,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

type spinResponse struct {
	Prize          domain.Prize    `json:"prize"`
	GrantedNumbers []int           `json:"granted_numbers,omitempty"`
	PurchaseID     string          `json:"purchase_id,omitempty"`
	RetryOffered   bool            `json:"retry_offered"`
	Balance        balanceResponse `json:"balance"`
}

type pixResponse struct {
	PurchaseID  string `json:"purchase_id"`
	AmountCents int64  `json:"amount_cents"`
	Payload     string `json:"payload"`
	QRCodePNG   string `json:"qr_code_png"`
}

type sweepResponse struct {
	Expired  int `json:"expired"`
	Released int `json:"released"`
}

func toWinnerResponse(w *domain.Winner) *winnerResponse {
	if w == nil {
		return nil
	}
	return &winnerResponse{Kind: string(w.Kind), Number: w.Number, Name: w.Name}
}

func toStatsResponse(s domain.PoolStats) *statsResponse {
	return &statsResponse{
		Total:     s.Total,
		Available: s.Available(),
		Reserved:  s.Reserved,
		Confirmed: s.Confirmed,
	}
}

func toRaffleResponse(r domain.Raffle) raffleResponse {
	return raffleResponse{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		PrizeDescription: r.PrizeDescription,
		TotalNumbers:     r.TotalNumbers,
		PriceCents:       r.PriceCents,
		Status:           string(r.Status),
		PixConfigured:    r.Pix.Key != "",
		DrawDate:         r.DrawDate,
		MainWinner:       toWinnerResponse(r.MainWinner),
		TopBuyerWinner:   toWinnerResponse(r.TopBuyerWinner),
		SecondTopWinner:  toWinnerResponse(r.SecondTopWinner),
		CreatedAt:        r.CreatedAt,
	}
}

func toPurchaseResponse(p domain.Purchase, numbers []int) purchaseResponse {
	return purchaseResponse{
		ID:         p.ID,
		RaffleID:   p.RaffleID,
		BuyerName:  p.Buyer.Name,
		BuyerEmail: p.Buyer.Email,
		BuyerPhone: p.Buyer.Phone,
		Quantity:   p.Quantity,
		TotalCents: p.TotalCents,
		Status:     string(p.Status),
		Source:     string(p.Source),
		ExpiresAt:  p.ExpiresAt,
		ApprovedAt: p.ApprovedAt,
		ApprovedBy: p.ApprovedBy,
		CreatedAt:  p.CreatedAt,
		Numbers:    numbers,
	}
}

func toBalanceResponse(b domain.SpinBalance) balanceResponse {
	return balanceResponse{
		RaffleID:     b.RaffleID,
		TotalSpins:   b.TotalSpins,
		UsedSpins:    b.UsedSpins,
		Remaining:    b.Remaining(),
		RetryCredits: b.RetryCredits,
	}
}

func toSpinResponse(res app.SpinResult) spinResponse {
	return spinResponse{
		Prize:          res.Prize,
		GrantedNumbers: res.GrantedNumbers,
		PurchaseID:     res.PurchaseID,
		RetryOffered:   res.RetryOffered,
		Balance:        toBalanceResponse(res.Balance),
	}
}
