package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/lib/logger/sl"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/pix"
	"github.com/go-chi/render"
	"golang.org/x/exp/slog"
)

const (
	codeMethodNotAllowed         = "method_not_allowed"
	codeNotFound                 = "not_found"
	codeInvalidRequestBody       = "invalid_request_body"
	codeValidationFailed         = "validation_failed"
	codeInvalidID                = "invalid_id"
	codeRaffleNotFound           = "raffle_not_found"
	codeRaffleNotActive          = "raffle_not_active"
	codeInvalidRaffle            = "invalid_raffle"
	codePurchaseNotFound         = "purchase_not_found"
	codePurchaseExpired          = "purchase_expired"
	codePurchaseIncomplete       = "purchase_incomplete"
	codeInvalidStateTransition   = "invalid_state_transition"
	codeInvalidQuantity          = "invalid_quantity"
	codeInvalidNumber            = "invalid_number"
	codeNumbersTaken             = "numbers_taken"
	codeBuyerRequired            = "buyer_required"
	codeInsufficientAvailability = "insufficient_availability"
	codeCapacityExhausted        = "capacity_exhausted"
	codeSpinQuotaExceeded        = "spin_quota_exceeded"
	codeNoRetryCredit            = "no_retry_credit"
	codeInvalidSpin              = "invalid_spin"
	codeNoConfirmedNumbers       = "no_confirmed_numbers"
	codeInvalidDrawRank          = "invalid_draw_rank"
	codePixNotConfigured         = "pix_not_configured"
	codePixPayload               = "pix_payload_invalid"
	codeForbidden                = "forbidden"
	codeInternalError            = "internal_error"
)

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Numbers []int  `json:"numbers,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg, Code: code})
}

type errorMapping struct {
	err    error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{domain.ErrInvalidID, http.StatusNotFound, codeInvalidID},
	{domain.ErrRaffleNotFound, http.StatusNotFound, codeRaffleNotFound},
	{domain.ErrPurchaseNotFound, http.StatusNotFound, codePurchaseNotFound},
	{domain.ErrRaffleNotActive, http.StatusConflict, codeRaffleNotActive},
	{domain.ErrPurchaseExpired, http.StatusConflict, codePurchaseExpired},
	{domain.ErrPurchaseIncomplete, http.StatusConflict, codePurchaseIncomplete},
	{domain.ErrInvalidStateTransition, http.StatusConflict, codeInvalidStateTransition},
	{domain.ErrInsufficientAvailability, http.StatusConflict, codeInsufficientAvailability},
	{domain.ErrSpinQuotaExceeded, http.StatusConflict, codeSpinQuotaExceeded},
	{domain.ErrNoRetryCredit, http.StatusConflict, codeNoRetryCredit},
	{domain.ErrNoConfirmedNumbers, http.StatusConflict, codeNoConfirmedNumbers},
	{domain.ErrPixNotConfigured, http.StatusConflict, codePixNotConfigured},
	{domain.ErrNumbersTaken, http.StatusConflict, codeNumbersTaken},
	{domain.ErrCapacityExhausted, http.StatusServiceUnavailable, codeCapacityExhausted},
	{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
	{domain.ErrInvalidNumber, http.StatusBadRequest, codeInvalidNumber},
	{domain.ErrBuyerRequired, http.StatusBadRequest, codeBuyerRequired},
	{domain.ErrBuyerNameRequired, http.StatusBadRequest, codeBuyerRequired},
	{domain.ErrRaffleTitleRequired, http.StatusBadRequest, codeInvalidRaffle},
	{domain.ErrInvalidTotalNumbers, http.StatusBadRequest, codeInvalidRaffle},
	{domain.ErrInvalidPrice, http.StatusBadRequest, codeInvalidRaffle},
	{domain.ErrInvalidRaffleStatus, http.StatusBadRequest, codeInvalidRaffle},
	{domain.ErrInvalidPaymentStatus, http.StatusBadRequest, codeValidationFailed},
	{domain.ErrInvalidSpinType, http.StatusBadRequest, codeInvalidSpin},
	{domain.ErrInvalidSpinGrant, http.StatusBadRequest, codeInvalidSpin},
	{domain.ErrInvalidDrawRank, http.StatusBadRequest, codeInvalidDrawRank},
	{domain.ErrApproverRequired, http.StatusBadRequest, codeValidationFailed},
	{pix.ErrPayloadFormat, http.StatusUnprocessableEntity, codePixPayload},
}

// writeDomainError maps service errors to a status and code. Anything unknown is
// logged and reported as a 500 without its message.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var taken *domain.NumbersTakenError
	if errors.As(err, &taken) {
		render.Status(r, http.StatusConflict)
		render.JSON(w, r, errorResponse{Error: taken.Error(), Code: codeNumbersTaken, Numbers: taken.Numbers})
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			writeError(w, r, m.status, m.code, m.err.Error())
			return
		}
	}

	logFrom(r.Context()).Error("request failed", sl.Err(err))
	writeError(w, r, http.StatusInternalServerError, codeInternalError, "internal error")
}

func logFrom(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return log
	}
	return sl.Discard()
}
