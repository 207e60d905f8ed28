package services

import (
	"context"
	"errors"
	"fmt"

	"fixnearby-server/events"
	"fixnearby-server/logging"
	"fixnearby-server/models"
)

// NotificationService stores notices produced by lifecycle events and pushes them to live clients
type NotificationService struct {
	store  Store
	pusher Pusher
}

// NewNotificationService creates the notification service. pusher may be nil.
func NewNotificationService(store Store, pusher Pusher) *NotificationService {
	return &NotificationService{store: store, pusher: pusher}
}

// SetPusher attaches the realtime transport
func (n *NotificationService) SetPusher(p Pusher) {
	n.pusher = p
}

func customer(e events.Event) models.Participant {
	return models.Participant{ID: e.CustomerID, Role: models.RoleUser}
}

func repairer(id uint) models.Participant {
	return models.Participant{ID: id, Role: models.RoleRepairer}
}

// HandleEvent turns a lifecycle event into notifications
func (n *NotificationService) HandleEvent(ctx context.Context, e events.Event) error {
	ref := &e.RequestID
	var errs []error
	add := func(to models.Participant, t models.NotificationType, msg string) {
		if err := n.Notify(ctx, to, t, msg, ref); err != nil {
			errs = append(errs, err)
		}
	}

	switch e.Kind {
	case events.RequestCreated:
		for _, id := range e.Recipients {
			add(repairer(id), models.NotifyNewJobRequest, fmt.Sprintf("New job request: %s", e.Title))
		}
	case events.RepairersAvailable:
		add(customer(e), models.NotifySystemUpdate, fmt.Sprintf("Repairers are now available for \"%s\"", e.Title))
		for _, id := range e.Recipients {
			add(repairer(id), models.NotifyNewJobRequest, fmt.Sprintf("New job request: %s", e.Title))
		}
	case events.LeadAccepted:
		add(customer(e), models.NotifyJobAccepted, fmt.Sprintf("A repairer accepted \"%s\" and will send a quote soon", e.Title))
	case events.QuoteSubmitted:
		add(customer(e), models.NotifyQuoteProvided, fmt.Sprintf("You received a quote of ₹%.2f for \"%s\"", e.Amount, e.Title))
	case events.QuoteAccepted:
		add(repairer(e.RepairerID), models.NotifyJobAccepted, fmt.Sprintf("The customer accepted your quote for \"%s\"", e.Title))
	case events.QuoteRejected:
		add(repairer(e.RepairerID), models.NotifyJobCancelled, fmt.Sprintf("The customer declined your quote for \"%s\"", e.Title))
	case events.WorkStarted:
		add(customer(e), models.NotifyJobInProgress, fmt.Sprintf("Work has started on \"%s\"", e.Title))
	case events.CompletionOTPIssued:
		add(customer(e), models.NotifySystemUpdate, fmt.Sprintf("Your repairer marked \"%s\" complete. Check your email for the completion code", e.Title))
	case events.PaymentDue:
		add(customer(e), models.NotifySystemUpdate, fmt.Sprintf("Job confirmed. Please pay ₹%.2f for \"%s\"", e.Amount, e.Title))
	case events.PaymentCaptured:
		if e.RepairerID != 0 {
			add(repairer(e.RepairerID), models.NotifyPaymentReceived, fmt.Sprintf("Payment of ₹%.2f received for \"%s\"", e.Amount, e.Title))
		}
	case events.RequestCancelled:
		msg := fmt.Sprintf("\"%s\" was cancelled", e.Title)
		if e.Actor == models.RoleAdmin {
			add(customer(e), models.NotifyJobCancelled, msg)
		}
		if e.RepairerID != 0 {
			add(repairer(e.RepairerID), models.NotifyJobCancelled, msg)
		}
	case events.RequestRated:
		add(repairer(e.RepairerID), models.NotifyRatingReceived, fmt.Sprintf("You received a %d-star rating for \"%s\"", e.Rating, e.Title))
	case events.MessageSent:
		to := repairer(e.RepairerID)
		if e.Actor == models.RoleRepairer {
			to = customer(e)
		}
		if n.pusher != nil && n.pusher.IsOnline(to) {
			return nil
		}
		add(to, models.NotifyNewMessage, e.Text)
	}
	return errors.Join(errs...)
}

// Notify stores a notification unless the recipient turned that kind off, then pushes it
func (n *NotificationService) Notify(ctx context.Context, to models.Participant, t models.NotificationType, message string, requestID *uint) error {
	if to.ID == 0 {
		return nil
	}
	if to.Role == models.RoleRepairer {
		wanted, err := n.repairerWants(ctx, to.ID, t)
		if err != nil {
			return err
		}
		if !wanted {
			return nil
		}
	}

	note := &models.Notification{
		RecipientID:      to.ID,
		RecipientRole:    to.Role,
		Type:             t,
		Message:          message,
		ServiceRequestID: requestID,
	}
	if err := n.store.CreateNotification(ctx, note); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	if n.pusher != nil {
		n.pusher.PushNotification(to, note)
	}
	logging.Ctx(ctx).Debug().Str("type", string(t)).Uint("recipient_id", to.ID).Str("role", string(to.Role)).Msg("Notification created")
	return nil
}

func (n *NotificationService) repairerWants(ctx context.Context, id uint, t models.NotificationType) (bool, error) {
	r, err := n.store.GetRepairer(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch t {
	case models.NotifyNewJobRequest:
		return r.Preferences.NotifyNewJobs, nil
	case models.NotifyNewMessage:
		return r.Preferences.NotifyMessages, nil
	case models.NotifyPaymentReceived:
		return r.Preferences.NotifyPayments, nil
	}
	return true, nil
}

func recipientOf(s models.Session) (models.Participant, error) {
	if s.IsAnonymous() {
		return models.Participant{}, ErrForbidden
	}
	return models.Participant{ID: s.SubjectID(), Role: s.Role()}, nil
}

// List returns the session's notifications, newest first
func (n *NotificationService) List(ctx context.Context, s models.Session, limit int) ([]models.Notification, error) {
	to, err := recipientOf(s)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return n.store.ListNotifications(ctx, to, limit)
}

// UnreadCount returns how many notifications the session has not read
func (n *NotificationService) UnreadCount(ctx context.Context, s models.Session) (int64, error) {
	to, err := recipientOf(s)
	if err != nil {
		return 0, err
	}
	return n.store.CountUnread(ctx, to)
}

// MarkRead marks one of the session's notifications read
func (n *NotificationService) MarkRead(ctx context.Context, s models.Session, id uint) error {
	to, err := recipientOf(s)
	if err != nil {
		return err
	}
	return n.store.MarkNotificationRead(ctx, to, id)
}

// MarkAllRead marks every notification of the session read
func (n *NotificationService) MarkAllRead(ctx context.Context, s models.Session) (int64, error) {
	to, err := recipientOf(s)
	if err != nil {
		return 0, err
	}
	return n.store.MarkAllNotificationsRead(ctx, to)
}
