package api

import (
	"log"
	"net/http"
	"os"
	"time"

	"github.com/basisdesk/BasisDesk-server/service/booking"
	"github.com/basisdesk/BasisDesk-server/service/notify"
	"github.com/basisdesk/BasisDesk-server/service/order"
	"github.com/basisdesk/BasisDesk-server/service/payment"
	"github.com/basisdesk/BasisDesk-server/service/scheduler"
	"github.com/basisdesk/BasisDesk-server/service/signup"
	"github.com/basisdesk/BasisDesk-server/service/slot"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
	stop    chan struct{}
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
		stop:    make(chan struct{}),
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	gateway := payment.NewRazorpayGateway()
	notifier := notify.NewService(s.db)
	slotStore := slot.NewStore(s.db)

	slotHandler := slot.NewSlotHandler(slotStore)
	slotHandler.RegisterRoutes(subrouter)

	bookingEngine := booking.NewEngine(s.db, slotStore, gateway)
	bookingHandler := booking.NewBookingHandler(bookingEngine)
	bookingHandler.RegisterRoutes(subrouter)

	statusMachine := order.NewStatusMachine(s.db)
	orderHandler := order.NewOrderHandler(s.db, statusMachine)
	orderHandler.RegisterRoutes(subrouter)

	escrowService := payment.NewEscrowService(s.db, notifier)
	paymentHandler := payment.NewPaymentHandler(s.db, escrowService, gateway)
	paymentHandler.RegisterRoutes(subrouter)

	deviceHandler := notify.NewDeviceHandler(notifier)
	deviceHandler.RegisterRoutes(subrouter)

	signupCache := signup.NewCache(signup.DefaultTTL)
	signupHandler := signup.NewSignupHandler(s.db, signupCache)
	signupHandler.RegisterRoutes(subrouter)

	s.startBackgroundJobs(slotStore, gateway, notifier)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address,
		handlers.RecoveryHandler()(handlers.LoggingHandler(os.Stdout, router)))
}

// startBackgroundJobs launches the expired slot reaper and the payout
// scheduler. Both run until Shutdown closes the stop channel.
func (s *APIServer) startBackgroundJobs(slotStore *slot.Store, gateway payment.Gateway, notifier *notify.Service) {
	reaper := scheduler.NewReaper(slotStore)
	go reaper.Run(time.Hour, s.stop)

	payouts := scheduler.NewPayoutScheduler(s.db, gateway, notifier)
	go payouts.Run(6*time.Hour, s.stop)
}

func (s *APIServer) Shutdown() {
	close(s.stop)
}
