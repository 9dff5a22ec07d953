package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// decodeRequest reads a JSON body into dst and validates its struct tags. On failure
// the 400 response is already written and false is returned.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, r, http.StatusBadRequest, codeInvalidRequestBody, "empty request body")
			return false
		}
		writeError(w, r, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeError(w, r, http.StatusBadRequest, codeValidationFailed, validationMessage(verrs))
			return false
		}
		writeError(w, r, http.StatusBadRequest, codeValidationFailed, err.Error())
		return false
	}
	return true
}

func validationMessage(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		switch err.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is required", err.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be a valid email", err.Field()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s", err.Field(), err.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s", err.Field(), err.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of [%s]", err.Field(), err.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is invalid", err.Field()))
		}
	}
	return strings.Join(msgs, ", ")
}

// buyerRequest leaves the email-or-phone rule to the services.
type buyerRequest struct {
	Name  string `json:"name" validate:"required,max=120"`
	Email string `json:"email" validate:"omitempty,email"`
	Phone string `json:"phone" validate:"omitempty,min=8,max=20"`
}

func (b buyerRequest) toDomain() domain.Buyer {
	return domain.Buyer{Name: b.Name, Email: b.Email, Phone: b.Phone}
}
