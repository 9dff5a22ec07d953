package app

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/domain"
	"github.com/OdivalPereira/rifa-f-cil-sub000/internal/pix"
)

type PaymentRepository interface {
	GetRaffle(ctx context.Context, raffleID string) (domain.Raffle, error)
	GetPurchase(ctx context.Context, purchaseID string) (domain.Purchase, error)
}

const (
	pixTxIDLen = 25
	pixRefLen  = 6
	qrSize     = 256
)

type PaymentService struct {
	repo PaymentRepository
}

func NewPaymentService(repo PaymentRepository) *PaymentService {
	return &PaymentService{repo: repo}
}

type PaymentCode struct {
	PurchaseID  string
	AmountCents int64
	Payload     string
	// QRCodePNG is the base64 encoded PNG of Payload.
	QRCodePNG string
}

// PaymentCode builds the PIX copy-and-paste payload for a pending purchase.
func (s *PaymentService) PaymentCode(ctx context.Context, purchaseID string) (PaymentCode, error) {
	purchase, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		return PaymentCode{}, err
	}
	if purchase.Status != domain.PaymentPending {
		return PaymentCode{}, fmt.Errorf("%w: purchase is %s", domain.ErrInvalidStateTransition, purchase.Status)
	}
	raffle, err := s.repo.GetRaffle(ctx, purchase.RaffleID)
	if err != nil {
		return PaymentCode{}, err
	}
	if raffle.Pix.Key == "" {
		return PaymentCode{}, domain.ErrPixNotConfigured
	}

	payload, err := pix.Encode(pix.Payload{
		Key:             raffle.Pix.Key,
		Amount:          float64(purchase.TotalCents) / 100,
		BeneficiaryName: raffle.Pix.BeneficiaryName,
		City:            raffle.Pix.City,
		Description: fmt.Sprintf("RIFA|%s|%dcotas|#%s",
			reference(raffle.ID, pixRefLen), purchase.Quantity, reference(purchase.ID, pixRefLen)),
		TxID: reference(purchase.ID, pixTxIDLen),
	})
	if err != nil {
		return PaymentCode{}, err
	}

	png, err := pix.QRCode(payload, qrSize)
	if err != nil {
		return PaymentCode{}, err
	}

	return PaymentCode{
		PurchaseID:  purchase.ID,
		AmountCents: purchase.TotalCents,
		Payload:     payload,
		QRCodePNG:   base64.StdEncoding.EncodeToString(png),
	}, nil
}

// reference keeps the first n ASCII letters and digits of id, upper-cased.
func reference(id string, n int) string {
	var b strings.Builder
	for _, r := range id {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() == n {
			break
		}
	}
	return b.String()
}
