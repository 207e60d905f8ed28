package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fixnearby-server/events"
	"fixnearby-server/logging"
	"fixnearby-server/metrics"
	"fixnearby-server/models"
	"fixnearby-server/utils"
)

// LifecycleSettings configures the service request workflow
type LifecycleSettings struct {
	RejectionFee float64
	Currency     string
}

// LifecycleService drives a service request through its status graph.
// Every status change goes through models.Transition and a conditional store update.
type LifecycleService struct {
	store  Store
	otp    *OTPService
	events Publisher
	cfg    LifecycleSettings
	now    func() time.Time
}

// NewLifecycleService creates the lifecycle service
func NewLifecycleService(store Store, otp *OTPService, publisher Publisher, cfg LifecycleSettings) *LifecycleService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if cfg.RejectionFee == 0 {
		cfg.RejectionFee = 150
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &LifecycleService{store: store, otp: otp, events: publisher, cfg: cfg, now: time.Now}
}

// Create files a new request for the customer and notifies matching repairers.
// Without matches the request is kept and flagged as awaiting a repairer.
func (l *LifecycleService) Create(ctx context.Context, s models.Session, in models.ServiceRequestCreate) (*models.ServiceRequest, error) {
	customerID, ok := s.UserID()
	if !ok {
		return nil, ErrForbidden
	}
	customer, err := l.store.GetUser(ctx, customerID)
	if err != nil {
		return nil, err
	}

	if in.Quotation != nil && !models.ValidPrice(*in.Quotation) {
		return nil, fieldErr("quotation", ErrInvalidQuote)
	}

	req := &models.ServiceRequest{
		CustomerID:    customerID,
		Title:         strings.TrimSpace(in.Title),
		Category:      canonicalCategory(in.Category),
		Issue:         strings.TrimSpace(in.Issue),
		Description:   strings.TrimSpace(in.Description),
		Address:       strings.TrimSpace(in.Address),
		Pincode:       in.Pincode,
		Latitude:      in.Latitude,
		Longitude:     in.Longitude,
		CaptureMethod: in.CaptureMethod,
		PreferredDate: in.PreferredDate,
		PreferredTime: in.PreferredTime,
		Urgency:       in.Urgency,
		Status:        models.StatusRequested,
		Quotation:     in.Quotation,
		ContactName:   strings.TrimSpace(in.ContactName),
		ContactPhone:  in.ContactPhone,
	}
	if req.CaptureMethod == "" {
		req.CaptureMethod = models.CaptureManual
	}
	if req.Urgency == "" {
		req.Urgency = models.UrgencyMedium
	}
	if req.ContactName == "" {
		req.ContactName = customer.FullName
	}

	matches, err := l.MatchRepairers(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Quotation == nil {
		req.Quotation = averageCharge(matches, req.Category)
	}
	req.AwaitingRepairer = len(matches) == 0

	if err := l.store.CreateServiceRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create service request: %w", err)
	}

	ev := events.ForRequest(events.RequestCreated, req)
	ev.Recipients = repairerIDs(matches)
	l.publish(ctx, ev)

	logging.Ctx(ctx).Info().
		Uint("service_request_id", req.ID).
		Str("category", req.Category).
		Int("matches", len(matches)).
		Msg("Service request created")
	return req, nil
}

// MatchRepairers returns available repairers offering the request's category
// who serve its pincode or are within their service radius of it.
func (l *LifecycleService) MatchRepairers(ctx context.Context, req *models.ServiceRequest) ([]models.Repairer, error) {
	candidates, err := l.store.ListAvailableRepairers(ctx, req.Category)
	if err != nil {
		return nil, fmt.Errorf("list repairers: %w", err)
	}
	var out []models.Repairer
	for i := range candidates {
		if serves(&candidates[i], req) {
			out = append(out, candidates[i])
		}
	}
	return out, nil
}

func serves(r *models.Repairer, req *models.ServiceRequest) bool {
	if !r.IsActive || !r.Offers(req.Category) {
		return false
	}
	if r.ServesPincode(req.Pincode) {
		return true
	}
	from, ok1 := utils.NewLocation(r.Latitude, r.Longitude)
	to, ok2 := utils.NewLocation(req.Latitude, req.Longitude)
	return ok1 && ok2 && r.Preferences.ServiceRadiusKm > 0 && from.DistanceKm(to) <= r.Preferences.ServiceRadiusKm
}

func averageCharge(repairers []models.Repairer, category string) *float64 {
	var sum float64
	var n int
	for i := range repairers {
		if c, ok := repairers[i].VisitingCharge(category); ok && c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := float64(int64(sum/float64(n)*100+0.5)) / 100
	return &avg
}

func repairerIDs(rs []models.Repairer) []uint {
	ids := make([]uint, len(rs))
	for i := range rs {
		ids[i] = rs[i].ID
	}
	return ids
}

// MatchAwaiting retries matching for requests that found no repairer at creation.
// It returns how many requests found repairers.
func (l *LifecycleService) MatchAwaiting(ctx context.Context) (int, error) {
	waiting, err := l.store.ListAwaitingRequests(ctx)
	if err != nil {
		return 0, err
	}

	matched := 0
	for i := range waiting {
		req := &waiting[i]
		repairers, err := l.MatchRepairers(ctx, req)
		if err != nil {
			return matched, err
		}
		if len(repairers) == 0 {
			continue
		}

		no := false
		updated, err := l.store.UpdateServiceRequest(ctx, req.ID, models.StatusRequested, models.RequestChanges{AwaitingRepairer: &no})
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return matched, err
		}

		ev := events.ForRequest(events.RepairersAvailable, updated)
		ev.Recipients = repairerIDs(repairers)
		l.publish(ctx, ev)
		matched++
	}
	return matched, nil
}

// AcceptLead assigns an open request to the calling repairer
func (l *LifecycleService) AcceptLead(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	repairerID, err := repairerOf(s)
	if err != nil {
		return nil, err
	}
	req, err := l.store.GetServiceRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	repairer, err := l.store.GetRepairer(ctx, repairerID)
	if err != nil {
		return nil, err
	}
	if !repairer.IsActive || !repairer.Offers(req.Category) {
		return nil, ErrForbidden
	}

	now := l.now()
	no := false
	updated, err := l.transition(ctx, req, models.StatusPendingQuote, models.RequestChanges{
		RepairerID:       &repairerID,
		AssignedAt:       &now,
		AwaitingRepairer: &no,
	})
	if err != nil {
		return nil, err
	}

	l.publish(ctx, events.ForRequest(events.LeadAccepted, updated))
	return updated, nil
}

// SubmitQuote records the repairer's binding price. A quote already sent
// can only be replaced when revise is set.
func (l *LifecycleService) SubmitQuote(ctx context.Context, s models.Session, id uint, price float64, revise bool) (*models.ServiceRequest, error) {
	req, err := l.assignedRequest(ctx, s, id)
	if err != nil {
		return nil, err
	}
	if !models.ValidPrice(price) {
		return nil, fieldErr("estimated_price", ErrInvalidQuote)
	}

	now := l.now()
	changes := models.RequestChanges{EstimatedPrice: &price, QuotedAt: &now}

	var updated *models.ServiceRequest
	switch req.Status {
	case models.StatusPendingQuote:
		updated, err = l.transition(ctx, req, models.StatusQuoted, changes)
	case models.StatusQuoted:
		if !revise {
			return nil, ErrQuoteAlreadySubmitted
		}
		updated, err = l.store.UpdateServiceRequest(ctx, req.ID, models.StatusQuoted, changes)
	default:
		return nil, &models.TransitionError{From: req.Status, To: models.StatusQuoted}
	}
	if err != nil {
		return nil, err
	}

	ev := events.ForRequest(events.QuoteSubmitted, updated)
	ev.Amount = price
	l.publish(ctx, ev)
	return updated, nil
}

// AcceptQuote is the customer agreeing to the quoted price
func (l *LifecycleService) AcceptQuote(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	req, err := l.ownedRequest(ctx, s, id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	updated, err := l.transition(ctx, req, models.StatusAccepted, models.RequestChanges{AcceptedAt: &now})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, events.ForRequest(events.QuoteAccepted, updated))
	return updated, nil
}

// RejectQuote ends the request and creates the rejection fee payment in the same transaction
func (l *LifecycleService) RejectQuote(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, *models.Payment, error) {
	req, err := l.ownedRequest(ctx, s, id)
	if err != nil {
		return nil, nil, err
	}
	if err := models.Transition(req.Status, models.StatusRejected); err != nil {
		return nil, nil, err
	}

	var (
		updated *models.ServiceRequest
		payment *models.Payment
	)
	err = l.store.WithinTx(ctx, func(tx Store) error {
		var err error
		updated, err = l.transitionIn(ctx, tx, req, models.StatusRejected, models.RequestChanges{})
		if err != nil {
			return err
		}
		payment = &models.Payment{
			ServiceRequestID: req.ID,
			PaymentMethod:    models.MethodRejectionFee,
			CustomerID:       req.CustomerID,
			RepairerID:       req.RepairerID,
			Amount:           l.cfg.RejectionFee,
			Currency:         l.cfg.Currency,
			Status:           models.PaymentCreated,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return fmt.Errorf("create rejection fee: %w", err)
		}
		return l.endChat(ctx, tx, req.ID)
	})
	if err != nil {
		return nil, nil, err
	}

	metrics.Payments.WithLabelValues(string(payment.PaymentMethod), string(payment.Status)).Inc()
	ev := events.ForRequest(events.QuoteRejected, updated)
	ev.Amount = payment.Amount
	l.publish(ctx, ev)
	return updated, payment, nil
}

// StartWork marks the job as started on site
func (l *LifecycleService) StartWork(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	req, err := l.assignedRequest(ctx, s, id)
	if err != nil {
		return nil, err
	}
	now := l.now()
	updated, err := l.transition(ctx, req, models.StatusInProgress, models.RequestChanges{StartedAt: &now})
	if err != nil {
		return nil, err
	}
	l.publish(ctx, events.ForRequest(events.WorkStarted, updated))
	return updated, nil
}

// MarkComplete moves the job to pending_otp and sends the customer a completion code.
// Calling it again while pending_otp sends a fresh code.
func (l *LifecycleService) MarkComplete(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	req, err := l.assignedRequest(ctx, s, id)
	if err != nil {
		return nil, err
	}
	resend := req.Status == models.StatusPendingOTP
	if !resend {
		if err := models.Transition(req.Status, models.StatusPendingOTP); err != nil {
			return nil, err
		}
	}

	customer, err := l.store.GetUser(ctx, req.CustomerID)
	if err != nil {
		return nil, err
	}
	contact := customer.Contact()
	if req.ContactName != "" {
		contact.Name = req.ContactName
	}
	if err := l.otp.Issue(ctx, completionKey(req.ID), contact, PurposeCompletion); err != nil {
		return nil, err
	}

	now := l.now()
	changes := models.RequestChanges{OTPIssuedAt: &now}
	var updated *models.ServiceRequest
	if resend {
		updated, err = l.store.UpdateServiceRequest(ctx, req.ID, models.StatusPendingOTP, changes)
	} else {
		updated, err = l.transition(ctx, req, models.StatusPendingOTP, changes)
	}
	if err != nil {
		if !resend {
			_ = l.otp.store.Delete(ctx, completionKey(req.ID))
		}
		return nil, err
	}

	l.publish(ctx, events.ForRequest(events.CompletionOTPIssued, updated))
	return updated, nil
}

// VerifyCompletionOTP checks the customer's completion code, moves the request
// to pending_payment and returns its standard payment. A wrong code leaves the
// request unchanged.
func (l *LifecycleService) VerifyCompletionOTP(ctx context.Context, s models.Session, id uint, code string) (*models.ServiceRequest, *models.Payment, error) {
	req, err := l.ownedRequest(ctx, s, id)
	if err != nil {
		return nil, nil, err
	}

	if req.Status == models.StatusPendingPayment {
		payment, err := l.store.GetPaymentForRequest(ctx, req.ID, models.MethodStandard)
		if err != nil {
			return nil, nil, err
		}
		return req, payment, nil
	}
	if err := models.Transition(req.Status, models.StatusPendingPayment); err != nil {
		return nil, nil, err
	}

	state, err := req.State()
	if err != nil {
		return nil, nil, err
	}
	pending := state.(models.PendingOTP)

	if err := l.otp.Verify(ctx, completionKey(req.ID), code, PurposeCompletion); err != nil {
		return nil, nil, fieldErr("otp", err)
	}

	var (
		updated *models.ServiceRequest
		payment *models.Payment
	)
	err = l.store.WithinTx(ctx, func(tx Store) error {
		var err error
		updated, err = l.transitionIn(ctx, tx, req, models.StatusPendingPayment, models.RequestChanges{})
		if err != nil {
			return err
		}
		payment, err = tx.GetPaymentForRequest(ctx, req.ID, models.MethodStandard)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		repairerID := pending.RepairerID
		payment = &models.Payment{
			ServiceRequestID: req.ID,
			PaymentMethod:    models.MethodStandard,
			CustomerID:       req.CustomerID,
			RepairerID:       &repairerID,
			Amount:           pending.EstimatedPrice,
			Currency:         l.cfg.Currency,
			Status:           models.PaymentCreated,
		}
		return tx.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, nil, err
	}

	ev := events.ForRequest(events.PaymentDue, updated)
	ev.Amount = payment.Amount
	l.publish(ctx, ev)
	return updated, payment, nil
}

// Cancel ends a request before work. Customers may cancel only while no repairer
// is assigned; admins may cancel up to acceptance.
func (l *LifecycleService) Cancel(ctx context.Context, s models.Session, id uint, reason string) (*models.ServiceRequest, error) {
	req, err := l.store.GetServiceRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	switch {
	case s.IsAdmin():
		switch req.Status {
		case models.StatusRequested, models.StatusPendingQuote, models.StatusQuoted, models.StatusAccepted:
		default:
			return nil, &models.TransitionError{From: req.Status, To: models.StatusCancelled}
		}
	case s.Role() == models.RoleUser:
		if req.CustomerID != s.SubjectID() {
			return nil, ErrForbidden
		}
		if req.Status != models.StatusRequested {
			return nil, &models.TransitionError{From: req.Status, To: models.StatusCancelled}
		}
	default:
		return nil, ErrForbidden
	}

	now := l.now()
	by := s.Role()
	reason = strings.TrimSpace(reason)
	var updated *models.ServiceRequest
	err = l.store.WithinTx(ctx, func(tx Store) error {
		var err error
		updated, err = l.transitionIn(ctx, tx, req, models.StatusCancelled, models.RequestChanges{
			CancelledAt:  &now,
			CancelledBy:  &by,
			CancelReason: &reason,
		})
		if err != nil {
			return err
		}
		return l.endChat(ctx, tx, req.ID)
	})
	if err != nil {
		return nil, err
	}

	ev := events.ForRequest(events.RequestCancelled, updated)
	ev.Actor = by
	ev.Text = reason
	l.publish(ctx, ev)
	return updated, nil
}

// Rate records the customer's rating of a completed job, once
func (l *LifecycleService) Rate(ctx context.Context, s models.Session, id uint, stars int, review string) (*models.ServiceRequest, error) {
	req, err := l.ownedRequest(ctx, s, id)
	if err != nil {
		return nil, err
	}
	state, err := req.State()
	if err != nil {
		return nil, err
	}
	done, ok := state.(models.Completed)
	if !ok {
		return nil, fmt.Errorf("%w: only completed jobs can be rated", ErrForbidden)
	}
	if req.Rating != nil {
		return nil, ErrAlreadyRated
	}
	if stars < 1 || stars > 5 {
		return nil, fieldErr("rating", fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation))
	}

	review = strings.TrimSpace(review)
	err = l.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.SetRating(ctx, req.ID, stars, review); err != nil {
			if errors.Is(err, ErrConflict) {
				return ErrAlreadyRated
			}
			return err
		}
		return tx.AddRepairerRating(ctx, done.RepairerID, stars)
	})
	if err != nil {
		return nil, err
	}
	req.Rating = &stars
	req.Review = review

	ev := events.ForRequest(events.RequestRated, req)
	ev.Rating = stars
	l.publish(ctx, ev)
	return req, nil
}

// Get returns a request visible to the session: its customer, its repairer,
// an admin, or any matching repairer while it is still an open lead.
func (l *LifecycleService) Get(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	req, err := l.store.GetServiceRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.IsAdmin() {
		return req, nil
	}
	if uid, ok := s.UserID(); ok && req.CustomerID == uid {
		return req, nil
	}
	if rid, ok := s.RepairerID(); ok {
		if req.IsAssignedTo(rid) {
			return req, nil
		}
		if req.Status == models.StatusRequested {
			repairer, err := l.store.GetRepairer(ctx, rid)
			if err != nil {
				return nil, err
			}
			if serves(repairer, req) {
				return req, nil
			}
		}
	}
	return nil, ErrForbidden
}

// ListForCustomer returns the calling customer's requests, newest first
func (l *LifecycleService) ListForCustomer(ctx context.Context, s models.Session, statuses []models.RequestStatus) ([]models.ServiceRequest, error) {
	uid, ok := s.UserID()
	if !ok {
		return nil, ErrForbidden
	}
	return l.store.ListServiceRequests(ctx, RequestFilter{CustomerID: &uid, Statuses: statuses})
}

// ListLeads returns open requests the calling repairer could accept
func (l *LifecycleService) ListLeads(ctx context.Context, s models.Session) ([]models.ServiceRequest, error) {
	repairerID, err := repairerOf(s)
	if err != nil {
		return nil, err
	}
	repairer, err := l.store.GetRepairer(ctx, repairerID)
	if err != nil {
		return nil, err
	}

	open, err := l.store.ListServiceRequests(ctx, RequestFilter{Statuses: []models.RequestStatus{models.StatusRequested}})
	if err != nil {
		return nil, err
	}
	leads := make([]models.ServiceRequest, 0, len(open))
	for i := range open {
		if serves(repairer, &open[i]) {
			leads = append(leads, open[i])
		}
	}
	return leads, nil
}

// ActiveRepairerStatuses are the statuses of jobs a repairer is still working on
var ActiveRepairerStatuses = []models.RequestStatus{
	models.StatusPendingQuote,
	models.StatusQuoted,
	models.StatusAccepted,
	models.StatusInProgress,
	models.StatusPendingOTP,
	models.StatusPendingPayment,
}

// ListForRepairer returns requests assigned to repairerID. Repairers may only list their own.
func (l *LifecycleService) ListForRepairer(ctx context.Context, s models.Session, repairerID uint, statuses []models.RequestStatus) ([]models.ServiceRequest, error) {
	if !s.IsAdmin() {
		rid, err := repairerOf(s)
		if err != nil {
			return nil, err
		}
		if rid != repairerID {
			return nil, ErrForbidden
		}
	}
	if len(statuses) == 0 {
		statuses = ActiveRepairerStatuses
	}
	return l.store.ListServiceRequests(ctx, RequestFilter{RepairerID: &repairerID, Statuses: statuses})
}

// ListAll returns requests for the admin console
func (l *LifecycleService) ListAll(ctx context.Context, s models.Session, f RequestFilter) ([]models.ServiceRequest, error) {
	if !s.IsAdmin() {
		return nil, ErrForbidden
	}
	return l.store.ListServiceRequests(ctx, f)
}

func (l *LifecycleService) ownedRequest(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	uid, ok := s.UserID()
	if !ok {
		return nil, ErrForbidden
	}
	req, err := l.store.GetServiceRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != uid {
		return nil, ErrForbidden
	}
	return req, nil
}

func (l *LifecycleService) assignedRequest(ctx context.Context, s models.Session, id uint) (*models.ServiceRequest, error) {
	repairerID, err := repairerOf(s)
	if err != nil {
		return nil, err
	}
	req, err := l.store.GetServiceRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.IsAssignedTo(repairerID) {
		return nil, ErrForbidden
	}
	return req, nil
}

func repairerOf(s models.Session) (uint, error) {
	id, ok := s.RepairerID()
	if !ok || id == 0 {
		return 0, ErrMissingRepairer
	}
	return id, nil
}

func (l *LifecycleService) transition(ctx context.Context, req *models.ServiceRequest, to models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error) {
	return l.transitionIn(ctx, l.store, req, to, changes)
}

// transitionIn validates req.Status → to against the graph and writes it only
// if the stored status is still req.Status.
func (l *LifecycleService) transitionIn(ctx context.Context, store Store, req *models.ServiceRequest, to models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error) {
	if err := models.Transition(req.Status, to); err != nil {
		return nil, err
	}

	updated, err := store.TransitionServiceRequest(ctx, req.ID, []models.RequestStatus{req.Status}, to, changes)
	if errors.Is(err, ErrConflict) {
		metrics.TransitionConflicts.Inc()
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("update service request %d: %w", req.ID, err)
	}

	metrics.RequestTransitions.WithLabelValues(string(req.Status), string(to)).Inc()
	logging.Ctx(ctx).Info().
		Uint("service_request_id", req.ID).
		Str("from", string(req.Status)).
		Str("to", string(to)).
		Msg("Service request status changed")
	return updated, nil
}

func (l *LifecycleService) endChat(ctx context.Context, store Store, requestID uint) error {
	if _, err := store.DeactivateConversation(ctx, requestID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (l *LifecycleService) publish(ctx context.Context, e events.Event) {
	if err := l.events.Publish(ctx, e); err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("kind", string(e.Kind)).Msg("Failed to publish lifecycle event")
	}
}
