package http

import (
	"context"
	"net/http"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

type Drawer interface {
	DrawMainWinner(ctx context.Context, raffleID string) (domain.Winner, error)
	DrawTopBuyerWinner(ctx context.Context, raffleID string, rank int) (domain.Winner, error)
}

type drawRequest struct {
	Kind string `json:"kind" validate:"required,oneof=main top_buyer second_top_buyer"`
}

// HandleDraw returns an HTTP handler for POST /admin/raffles/{raffleID}/draw.
func HandleDraw(svc Drawer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req drawRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		raffleID := chi.URLParam(r, "raffleID")

		var (
			winner domain.Winner
			err    error
		)
		switch domain.WinnerKind(req.Kind) {
		case domain.WinnerMain:
			winner, err = svc.DrawMainWinner(r.Context(), raffleID)
		case domain.WinnerTopBuyer:
			winner, err = svc.DrawTopBuyerWinner(r.Context(), raffleID, 1)
		case domain.WinnerSecondTopBuyer:
			winner, err = svc.DrawTopBuyerWinner(r.Context(), raffleID, 2)
		}
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toWinnerResponse(&winner))
	}
}
