package http

import (
	"context"
	"net/http"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/app"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type SpinService interface {
	GrantSpins(ctx context.Context, raffleID, buyerKey string, spins int) (domain.SpinBalance, error)
	Balance(ctx context.Context, raffleID string, buyer domain.Buyer) (domain.SpinBalance, error)
	History(ctx context.Context, raffleID string, buyer domain.Buyer) ([]domain.SpinHistory, error)
	Spin(ctx context.Context, raffleID string, buyer domain.Buyer, spinType domain.SpinType) (app.SpinResult, error)
}

type grantSpinsRequest struct {
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,min=8,max=20"`
	Spins int    `json:"spins" validate:"required,min=1,max=1000"`
}

type spinRequest struct {
	Name  string `json:"name" validate:"max=120"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,min=8,max=20"`
	Type  string `json:"type" validate:"omitempty,oneof=main retry"`
}

type spinStatusResponse struct {
	Balance balanceResponse       `json:"balance"`
	History []spinHistoryResponse `json:"history"`
}

// HandleGrantSpins credits main spins to a buyer identified by email or phone.
func HandleGrantSpins(svc SpinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req grantSpinsRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		buyer := domain.Buyer{Email: req.Email, Phone: req.Phone}

		balance, err := svc.GrantSpins(r.Context(), chi.URLParam(r, "raffleID"), buyer.Key(), req.Spins)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toBalanceResponse(balance))
	}
}

// HandleSpinStatus returns the buyer's balance and spin history for GET /raffles/{raffleID}/spins.
func HandleSpinStatus(svc SpinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raffleID := chi.URLParam(r, "raffleID")
		q := r.URL.Query()
		buyer := domain.Buyer{Email: q.Get("email"), Phone: q.Get("phone")}

		balance, err := svc.Balance(r.Context(), raffleID, buyer)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		history, err := svc.History(r.Context(), raffleID, buyer)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := spinStatusResponse{
			Balance: toBalanceResponse(balance),
			History: make([]spinHistoryResponse, 0, len(history)),
		}
		for _, h := range history {
			resp.History = append(resp.History, spinHistoryResponse{
				SpinType:       string(h.SpinType),
				Prize:          h.Prize,
				GrantedNumbers: h.GrantedNumbers,
				PurchaseID:     h.PurchaseID,
				CreatedAt:      h.CreatedAt,
			})
		}
		render.JSON(w, r, resp)
	}
}

// HandleSpin returns an HTTP handler for POST /raffles/{raffleID}/spin. Type defaults to main.
func HandleSpin(svc SpinService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req spinRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		spinType := domain.SpinMain
		if req.Type != "" {
			spinType = domain.SpinType(req.Type)
		}

		res, err := svc.Spin(r.Context(), chi.URLParam(r, "raffleID"), domain.Buyer{
			Name:  req.Name,
			Email: req.Email,
			Phone: req.Phone,
		}, spinType)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toSpinResponse(res))
	}
}
