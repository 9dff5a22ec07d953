package http

import (
	"context"
	"net/http"
	"time"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/app"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// RaffleAdmin is the minimal interface needed for raffle management endpoints.
type RaffleAdmin interface {
	CreateRaffle(ctx context.Context, in app.CreateRaffleInput) (domain.Raffle, error)
	ListRaffles(ctx context.Context) ([]domain.Raffle, error)
	GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error)
	UpdateRaffleStatus(ctx context.Context, raffleID string, to domain.RaffleStatus) (domain.Raffle, error)
	Stats(ctx context.Context, raffleID string) (domain.PoolStats, error)
	ListPurchases(ctx context.Context, raffleID string, status domain.PaymentStatus) ([]domain.Purchase, error)
}

type createRaffleRequest struct {
	Title            string     `json:"title" validate:"required,max=200"`
	Description      string     `json:"description"`
	PrizeDescription string     `json:"prize_description"`
	TotalNumbers     int        `json:"total_numbers" validate:"required,min=1"`
	PriceCents       int64      `json:"price_cents" validate:"required,min=1"`
	PixKey           string     `json:"pix_key" validate:"max=77"`
	PixName          string     `json:"pix_beneficiary_name"`
	PixCity          string     `json:"pix_city"`
	DrawDate         *time.Time `json:"draw_date"`
	Status           string     `json:"status" validate:"omitempty,oneof=draft active"`
}

type updateRaffleStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=draft active completed cancelled"`
}

// HandleCreateRaffle returns an HTTP handler for POST /admin/raffles.
func HandleCreateRaffle(svc RaffleAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRaffleRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		raffle, err := svc.CreateRaffle(r.Context(), app.CreateRaffleInput{
			Title:            req.Title,
			Description:      req.Description,
			PrizeDescription: req.PrizeDescription,
			TotalNumbers:     req.TotalNumbers,
			PriceCents:       req.PriceCents,
			Pix: domain.PixSettings{
				Key:             req.PixKey,
				BeneficiaryName: req.PixName,
				City:            req.PixCity,
			},
			DrawDate: req.DrawDate,
			Status:   domain.RaffleStatus(req.Status),
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, toRaffleResponse(raffle))
	}
}

// HandleListRaffles returns an HTTP handler for GET /admin/raffles.
func HandleListRaffles(svc RaffleAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raffles, err := svc.ListRaffles(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp := make([]raffleResponse, 0, len(raffles))
		for _, raffle := range raffles {
			resp = append(resp, toRaffleResponse(raffle))
		}
		render.JSON(w, r, resp)
	}
}

// HandleGetRaffle returns the raffle together with its pool occupancy.
func HandleGetRaffle(svc RaffleAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raffleID := chi.URLParam(r, "raffleID")

		raffle, err := svc.GetRaffle(r.Context(), raffleID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		stats, err := svc.Stats(r.Context(), raffleID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		resp := toRaffleResponse(raffle)
		resp.Stats = toStatsResponse(stats)
		render.JSON(w, r, resp)
	}
}

// HandleUpdateRaffleStatus returns an HTTP handler for PATCH /admin/raffles/{raffleID}/status.
func HandleUpdateRaffleStatus(svc RaffleAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req updateRaffleStatusRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		raffle, err := svc.UpdateRaffleStatus(r.Context(), chi.URLParam(r, "raffleID"), domain.RaffleStatus(req.Status))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toRaffleResponse(raffle))
	}
}

// HandleListPurchases returns an HTTP handler for GET /admin/raffles/{raffleID}/purchases.
func HandleListPurchases(svc RaffleAdmin) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := domain.PaymentStatus(r.URL.Query().Get("status"))

		purchases, err := svc.ListPurchases(r.Context(), chi.URLParam(r, "raffleID"), status)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp := make([]purchaseResponse, 0, len(purchases))
		for _, p := range purchases {
			resp = append(resp, toPurchaseResponse(p, nil))
		}
		render.JSON(w, r, resp)
	}
}
