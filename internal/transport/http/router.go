package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"
)

// Services groups everything the router exposes.
type Services struct {
	Admin    RaffleAdmin
	Ledger   PurchaseLedger
	Payments PaymentCoder
	Spins    SpinService
	Draws    Drawer
}

func NewRouter(log *slog.Logger, svc Services, corsOrigins []string) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(RequestLogger(log))
	router.Use(middleware.Recoverer)
	router.Use(CORS(corsOrigins))

	router.NotFound(NotFoundHandler())
	router.MethodNotAllowed(MethodNotAllowedHandler())

	router.Get("/health", HealthHandler)

	router.Route("/raffles/{raffleID}", func(r chi.Router) {
		r.Get("/", HandleGetRaffle(svc.Admin))
		r.Post("/purchases", HandleBuyNumbers(svc.Ledger))
		r.Get("/spins", HandleSpinStatus(svc.Spins))
		r.Post("/spin", HandleSpin(svc.Spins))
	})

	router.Route("/purchases/{purchaseID}", func(r chi.Router) {
		r.Get("/", HandleGetPurchase(svc.Ledger))
		r.Post("/numbers", HandleReserveNumbers(svc.Ledger))
		r.Post("/release", HandleReleasePurchase(svc.Ledger))
		r.Get("/pix", HandlePaymentCode(svc.Payments))
	})

	router.Route("/admin", func(r chi.Router) {
		r.Post("/raffles", HandleCreateRaffle(svc.Admin))
		r.Get("/raffles", HandleListRaffles(svc.Admin))
		r.Patch("/raffles/{raffleID}/status", HandleUpdateRaffleStatus(svc.Admin))
		r.Get("/raffles/{raffleID}/purchases", HandleListPurchases(svc.Admin))
		r.Post("/raffles/{raffleID}/spins", HandleGrantSpins(svc.Spins))
		r.Post("/raffles/{raffleID}/draw", HandleDraw(svc.Draws))
		r.Post("/purchases/{purchaseID}/approve", HandleApprovePurchase(svc.Ledger))
		r.Post("/purchases/{purchaseID}/reject", HandleRejectPurchase(svc.Ledger))
		r.Post("/sweep", HandleExpireSweep(svc.Ledger))
	})

	return router
}
