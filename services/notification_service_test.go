package services

import (
	"sync"
	"testing"

	"fixnearby-server/events"
	"fixnearby-server/models"
)

type fakePusher struct {
	mu     sync.Mutex
	online map[models.Participant]bool
	pushed []models.Notification
}

func (p *fakePusher) PushNotification(_ models.Participant, n *models.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, *n)
}

func (p *fakePusher) IsOnline(to models.Participant) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[to]
}

func TestNotificationsFromEvents(t *testing.T) {
	w := newWorld(t)
	pusher := &fakePusher{online: map[models.Participant]bool{}}
	w.notes.SetPusher(pusher)
	customer := w.customer("9876543210")
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	req := w.request(customer)

	created, _ := w.events.last(events.RequestCreated)
	if err := w.notes.HandleEvent(w.ctx, created); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	list, _ := w.notes.List(w.ctx, repairer, 0)
	if len(list) != 1 || list[0].Type != models.NotifyNewJobRequest {
		t.Fatalf("expected new job notification, got %+v", list)
	}
	if len(pusher.pushed) != 1 {
		t.Errorf("expected notification to be pushed, got %d", len(pusher.pushed))
	}

	w.lifecycle.AcceptLead(w.ctx, repairer, req.ID)
	accepted, _ := w.events.last(events.LeadAccepted)
	w.notes.HandleEvent(w.ctx, accepted)
	w.lifecycle.SubmitQuote(w.ctx, repairer, req.ID, 499, false)
	quoted, _ := w.events.last(events.QuoteSubmitted)
	w.notes.HandleEvent(w.ctx, quoted)

	n, err := w.notes.UnreadCount(w.ctx, customer)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 unread for customer, got %d (%v)", n, err)
	}
	list, _ = w.notes.List(w.ctx, customer, 0)
	if list[0].Type != models.NotifyQuoteProvided {
		t.Errorf("expected newest first, got %s", list[0].Type)
	}

	if err := w.notes.MarkRead(w.ctx, customer, list[0].ID); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	mustErr(t, w.notes.MarkRead(w.ctx, repairer, list[1].ID), ErrNotFound)

	marked, _ := w.notes.MarkAllRead(w.ctx, customer)
	if marked != 1 {
		t.Errorf("expected 1 marked, got %d", marked)
	}
	if n, _ := w.notes.UnreadCount(w.ctx, customer); n != 0 {
		t.Errorf("expected no unread, got %d", n)
	}
}

func TestNotificationPreferences(t *testing.T) {
	w := newWorld(t)
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	r, _ := w.store.GetRepairer(w.ctx, repairer.SubjectID())
	r.Preferences.NotifyNewJobs = false
	w.store.SaveRepairer(w.ctx, r)

	to := models.Participant{ID: r.ID, Role: models.RoleRepairer}
	w.notes.Notify(w.ctx, to, models.NotifyNewJobRequest, "new job", nil)
	w.notes.Notify(w.ctx, to, models.NotifyJobCancelled, "cancelled", nil)

	list, _ := w.notes.List(w.ctx, repairer, 0)
	if len(list) != 1 || list[0].Type != models.NotifyJobCancelled {
		t.Errorf("disabled notifications must be skipped, got %+v", list)
	}
}

func TestMessageNotificationOnlyWhenOffline(t *testing.T) {
	w := newWorld(t)
	customer := w.customer("9876543210")
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	pusher := &fakePusher{online: map[models.Participant]bool{
		{ID: repairer.SubjectID(), Role: models.RoleRepairer}: true,
	}}
	w.notes.SetPusher(pusher)

	ev := events.Event{
		Kind:       events.MessageSent,
		CustomerID: customer.SubjectID(),
		RepairerID: repairer.SubjectID(),
		Actor:      models.RoleUser,
		Text:       "hi",
	}
	w.notes.HandleEvent(w.ctx, ev)
	if list, _ := w.notes.List(w.ctx, repairer, 0); len(list) != 0 {
		t.Error("online recipient should not get a message notification")
	}

	ev.Actor = models.RoleRepairer
	w.notes.HandleEvent(w.ctx, ev)
	list, _ := w.notes.List(w.ctx, customer, 0)
	if len(list) != 1 || list[0].Type != models.NotifyNewMessage {
		t.Errorf("offline customer should be notified, got %+v", list)
	}
}

func TestAdminCancelNotifiesCustomer(t *testing.T) {
	w := newWorld(t)
	customer := w.customer("9876543210")
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	req := w.accepted(customer, repairer, 400)

	w.lifecycle.Cancel(w.ctx, models.AdminSession(1), req.ID, "duplicate")
	ev, _ := w.events.last(events.RequestCancelled)
	if err := w.notes.HandleEvent(w.ctx, ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	for _, s := range []models.Session{customer, repairer} {
		list, _ := w.notes.List(w.ctx, s, 0)
		if len(list) != 1 || list[0].Type != models.NotifyJobCancelled {
			t.Errorf("expected cancellation notice for %v, got %+v", s.Role(), list)
		}
	}
}
