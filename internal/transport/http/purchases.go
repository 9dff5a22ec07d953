package http

import (
	"context"
	"net/http"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/app"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// PurchaseLedger is the minimal interface needed for the reservation endpoints.
type PurchaseLedger interface {
	BuyNumbers(ctx context.Context, in app.BuyNumbersInput) (domain.Reservation, error)
	GetReservation(ctx context.Context, purchaseID string) (domain.Reservation, error)
	ReserveNumbers(ctx context.Context, purchaseID string, numbers []int) error
	Release(ctx context.Context, purchaseID string) (domain.Purchase, error)
	Approve(ctx context.Context, purchaseID, approverID string) (domain.Purchase, error)
	Reject(ctx context.Context, purchaseID string) (domain.Purchase, error)
	ExpireSweep(ctx context.Context) (domain.SweepResult, error)
}

// PaymentCoder builds the PIX code shown to a buyer at checkout.
type PaymentCoder interface {
	PaymentCode(ctx context.Context, purchaseID string) (app.PaymentCode, error)
}

type buyNumbersRequest struct {
	Buyer    buyerRequest `json:"buyer"`
	Quantity int          `json:"quantity" validate:"gte=0,lte=10000"`
	Numbers  []int        `json:"numbers" validate:"max=10000"`
}

type reserveNumbersRequest struct {
	Numbers []int `json:"numbers" validate:"required,min=1,max=10000"`
}

type approveRequest struct {
	ApproverID string `json:"approver_id" validate:"required,max=120"`
}

// HandleBuyNumbers returns an HTTP handler for POST /raffles/{raffleID}/purchases.
// Buyers either pick numbers or ask for a quantity drawn at random.
func HandleBuyNumbers(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req buyNumbersRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		res, err := svc.BuyNumbers(r.Context(), app.BuyNumbersInput{
			RaffleID: chi.URLParam(r, "raffleID"),
			Buyer:    req.Buyer.toDomain(),
			Quantity: req.Quantity,
			Numbers:  req.Numbers,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, toPurchaseResponse(res.Purchase, res.Numbers))
	}
}

// HandleGetPurchase returns an HTTP handler for GET /purchases/{purchaseID}.
func HandleGetPurchase(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.GetReservation(r.Context(), chi.URLParam(r, "purchaseID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toPurchaseResponse(res.Purchase, res.Numbers))
	}
}

// HandleReserveNumbers returns an HTTP handler for POST /purchases/{purchaseID}/numbers.
func HandleReserveNumbers(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reserveNumbersRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		purchaseID := chi.URLParam(r, "purchaseID")

		if err := svc.ReserveNumbers(r.Context(), purchaseID, req.Numbers); err != nil {
			writeDomainError(w, r, err)
			return
		}
		res, err := svc.GetReservation(r.Context(), purchaseID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toPurchaseResponse(res.Purchase, res.Numbers))
	}
}

// HandleReleasePurchase lets a buyer give up a pending purchase before it expires.
func HandleReleasePurchase(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purchase, err := svc.Release(r.Context(), chi.URLParam(r, "purchaseID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toPurchaseResponse(purchase, nil))
	}
}

// HandleApprovePurchase returns an HTTP handler for POST /admin/purchases/{purchaseID}/approve.
func HandleApprovePurchase(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req approveRequest
		if !decodeRequest(w, r, &req) {
			return
		}

		purchase, err := svc.Approve(r.Context(), chi.URLParam(r, "purchaseID"), req.ApproverID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toPurchaseResponse(purchase, nil))
	}
}

// HandleRejectPurchase returns an HTTP handler for POST /admin/purchases/{purchaseID}/reject.
func HandleRejectPurchase(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		purchase, err := svc.Reject(r.Context(), chi.URLParam(r, "purchaseID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, toPurchaseResponse(purchase, nil))
	}
}

// HandleExpireSweep runs one expiry sweep on demand.
func HandleExpireSweep(svc PurchaseLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.ExpireSweep(r.Context())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, sweepResponse{Expired: res.Expired, Released: res.Released})
	}
}

// HandlePaymentCode returns an HTTP handler for GET /purchases/{purchaseID}/pix.
func HandlePaymentCode(svc PaymentCoder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := svc.PaymentCode(r.Context(), chi.URLParam(r, "purchaseID"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		render.JSON(w, r, pixResponse{
			PurchaseID:  code.PurchaseID,
			AmountCents: code.AmountCents,
			Payload:     code.Payload,
			QRCodePNG:   code.QRCodePNG,
		})
	}
}
