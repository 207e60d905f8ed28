package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"fixnearby-server/cache"
	"fixnearby-server/models"
	"fixnearby-server/razorpay"
)

// fakeGateway signs with a fixed secret and records orders and payouts
type fakeGateway struct {
	mu        sync.Mutex
	secret    string
	orders    int
	payouts   []razorpay.PayoutRequest
	payoutErr error
	orderErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{secret: "test_secret"}
}

func (g *fakeGateway) KeyID() string { return "rzp_test_key" }

func (g *fakeGateway) CreateOrder(_ context.Context, req razorpay.OrderRequest) (*razorpay.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.orderErr != nil {
		return nil, g.orderErr
	}
	g.orders++
	return &razorpay.Order{ID: fmt.Sprintf("order_%d", g.orders), Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, req razorpay.PayoutRequest) (*razorpay.Payout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.payoutErr != nil {
		return nil, g.payoutErr
	}
	g.payouts = append(g.payouts, req)
	return &razorpay.Payout{ID: fmt.Sprintf("pout_%d", len(g.payouts)), Status: "processing"}, nil
}

func (g *fakeGateway) VerifyPaymentSignature(orderID, paymentID, signature string) bool {
	return signature == razorpay.Sign([]byte(orderID+"|"+paymentID), g.secret)
}

func (g *fakeGateway) VerifyWebhookSignature(body []byte, signature string) bool {
	return signature == razorpay.Sign(body, g.secret)
}

func (g *fakeGateway) sign(orderID, paymentID string) string {
	return razorpay.Sign([]byte(orderID+"|"+paymentID), g.secret)
}

func (g *fakeGateway) signBody(body []byte) string {
	return razorpay.Sign(body, g.secret)
}

// world wires the services over in-memory fakes
type world struct {
	t         *testing.T
	ctx       context.Context
	store     *memStore
	otpStore  *cache.MemoryStore
	codes     *codeCapture
	events    *recordingPublisher
	gateway   *fakeGateway
	otp       *OTPService
	lifecycle *LifecycleService
	payments  *PaymentService
	chat      *ChatService
	notes     *NotificationService
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		t:        t,
		ctx:      context.Background(),
		store:    newMemStore(),
		otpStore: cache.NewMemoryStore(),
		codes:    newCodeCapture(),
		events:   &recordingPublisher{},
		gateway:  newFakeGateway(),
	}
	w.otp = NewOTPService(w.otpStore, w.codes, OTPSettings{MaxAttempts: 3})
	w.lifecycle = NewLifecycleService(w.store, w.otp, w.events, LifecycleSettings{RejectionFee: 150, Currency: "INR"})
	w.payments = NewPaymentService(w.store, w.gateway, w.events, PaymentSettings{CommissionPercent: 10})
	w.chat = NewChatService(w.store, w.events)
	w.notes = NewNotificationService(w.store, nil)
	return w
}

func (w *world) customer(phone string) models.Session {
	w.t.Helper()
	u := &models.User{FullName: "Asha Rao", Phone: phone, Email: "asha@example.com", Pincode: "560001", IsActive: true}
	if err := w.store.CreateUser(w.ctx, u); err != nil {
		w.t.Fatalf("create user: %v", err)
	}
	return models.UserSession(u.ID)
}

func (w *world) repairer(phone, pincode string, services ...string) models.Session {
	w.t.Helper()
	r := &models.Repairer{
		FullName:    "Ravi Kumar",
		Phone:       phone,
		Email:       "ravi@example.com",
		Pincode:     pincode,
		UPIID:       "ravi@okbank",
		IsActive:    true,
		IsAvailable: true,
		Preferences: models.DefaultRepairerPreferences(),
	}
	for _, s := range services {
		r.Services = append(r.Services, models.RepairerService{Name: s, VisitingCharge: 200})
	}
	if err := w.store.CreateRepairer(w.ctx, r); err != nil {
		w.t.Fatalf("create repairer: %v", err)
	}
	return models.RepairerSession(r.ID)
}

func (w *world) request(customer models.Session) *models.ServiceRequest {
	w.t.Helper()
	req, err := w.lifecycle.Create(w.ctx, customer, models.ServiceRequestCreate{
		Title:        "Leaking kitchen tap",
		Category:     "plumbing",
		Issue:        "Tap leaks",
		Address:      "12 MG Road",
		Pincode:      "560001",
		ContactPhone: "9876543210",
	})
	if err != nil {
		w.t.Fatalf("create request: %v", err)
	}
	return req
}

// accepted runs a request to the accepted state at the given price
func (w *world) accepted(customer, repairer models.Session, price float64) *models.ServiceRequest {
	w.t.Helper()
	req := w.request(customer)
	if _, err := w.lifecycle.AcceptLead(w.ctx, repairer, req.ID); err != nil {
		w.t.Fatalf("accept lead: %v", err)
	}
	if _, err := w.lifecycle.SubmitQuote(w.ctx, repairer, req.ID, price, false); err != nil {
		w.t.Fatalf("submit quote: %v", err)
	}
	out, err := w.lifecycle.AcceptQuote(w.ctx, customer, req.ID)
	if err != nil {
		w.t.Fatalf("accept quote: %v", err)
	}
	return out
}

// awaitingPayment runs a request through completion verification
func (w *world) awaitingPayment(customer, repairer models.Session, price float64) (*models.ServiceRequest, *models.Payment) {
	w.t.Helper()
	req := w.accepted(customer, repairer, price)
	if _, err := w.lifecycle.MarkComplete(w.ctx, repairer, req.ID); err != nil {
		w.t.Fatalf("mark complete: %v", err)
	}
	u, _ := w.store.GetUser(w.ctx, customer.SubjectID())
	code := w.codes.code(PurposeCompletion, u.Phone)
	out, payment, err := w.lifecycle.VerifyCompletionOTP(w.ctx, customer, req.ID, code)
	if err != nil {
		w.t.Fatalf("verify completion: %v", err)
	}
	return out, payment
}

func (w *world) status(id uint) models.RequestStatus {
	w.t.Helper()
	req, err := w.store.GetServiceRequest(w.ctx, id)
	if err != nil {
		w.t.Fatalf("get request: %v", err)
	}
	return req.Status
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func mustErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
