package services

import (
	"strings"
	"testing"

	"fixnearby-server/events"
	"fixnearby-server/models"
)

func TestConversationLifecycle(t *testing.T) {
	w := newWorld(t)
	customer := w.customer("9876543210")
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	other := w.repairer("9123456781", "560001", "Plumbing")
	req := w.request(customer)

	_, err := w.chat.GetOrCreateConversation(w.ctx, customer, req.ID)
	mustErr(t, err, ErrForbidden)

	w.lifecycle.AcceptLead(w.ctx, repairer, req.ID)
	conv, err := w.chat.GetOrCreateConversation(w.ctx, customer, req.ID)
	if err != nil {
		t.Fatalf("GetOrCreateConversation: %v", err)
	}
	same, err := w.chat.GetOrCreateConversation(w.ctx, repairer, req.ID)
	if err != nil || same.ID != conv.ID {
		t.Fatalf("expected the same conversation, got %v (%v)", same, err)
	}
	stored, _ := w.store.GetServiceRequest(w.ctx, req.ID)
	if stored.ConversationID == nil || *stored.ConversationID != conv.ID {
		t.Error("request must reference its conversation")
	}

	_, err = w.chat.GetOrCreateConversation(w.ctx, other, req.ID)
	mustErr(t, err, ErrForbidden)
	_, _, err = w.chat.Join(w.ctx, other, conv.ID)
	mustErr(t, err, ErrForbidden)

	if _, _, err := w.chat.Send(w.ctx, customer, conv.ID, "Hello, when can you come?"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	msg, _, err := w.chat.Send(w.ctx, repairer, conv.ID, "  Tomorrow 10am  ")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Text != "Tomorrow 10am" || msg.SenderModel != models.SenderRepairer {
		t.Errorf("unexpected message %+v", msg)
	}
	ev, ok := w.events.last(events.MessageSent)
	if !ok || ev.Actor != models.RoleRepairer || ev.ConversationID != conv.ID {
		t.Errorf("unexpected message event %+v", ev)
	}

	_, backlog, err := w.chat.Join(w.ctx, customer, conv.ID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if len(backlog) != 2 || backlog[0].SenderModel != models.SenderUser {
		t.Errorf("expected two messages oldest first, got %+v", backlog)
	}

	if _, err := w.lifecycle.Cancel(w.ctx, models.AdminSession(1), req.ID, ""); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	_, _, err = w.chat.Send(w.ctx, customer, conv.ID, "still there?")
	mustErr(t, err, ErrChatClosed)
	_, _, err = w.chat.Join(w.ctx, repairer, conv.ID)
	mustErr(t, err, ErrChatClosed)

	history, err := w.chat.Messages(w.ctx, customer, conv.ID, 0)
	if err != nil || len(history) != 2 {
		t.Errorf("closed chat history must stay readable, got %d (%v)", len(history), err)
	}
}

func TestSendValidation(t *testing.T) {
	w := newWorld(t)
	customer := w.customer("9876543210")
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	req := w.request(customer)
	w.lifecycle.AcceptLead(w.ctx, repairer, req.ID)
	conv, _ := w.chat.GetOrCreateConversation(w.ctx, customer, req.ID)

	for _, text := range []string{"", "   ", strings.Repeat("a", MaxMessageLength+1)} {
		_, _, err := w.chat.Send(w.ctx, customer, conv.ID, text)
		mustErr(t, err, ErrValidation)
	}
	if _, _, err := w.chat.Send(w.ctx, customer, conv.ID, strings.Repeat("ā", MaxMessageLength)); err != nil {
		t.Errorf("message at the limit should be accepted: %v", err)
	}
}

func TestConversationForTerminalRequest(t *testing.T) {
	w := newWorld(t)
	customer := w.customer("9876543210")
	repairer := w.repairer("9123456780", "560001", "Plumbing")
	req := w.request(customer)
	w.lifecycle.AcceptLead(w.ctx, repairer, req.ID)
	w.lifecycle.SubmitQuote(w.ctx, repairer, req.ID, 300, false)
	w.lifecycle.RejectQuote(w.ctx, customer, req.ID)

	_, err := w.chat.GetOrCreateConversation(w.ctx, customer, req.ID)
	mustErr(t, err, ErrChatClosed)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("x", 100)
	if got := preview(long); len([]rune(got)) != 81 {
		t.Errorf("expected 80 runes plus ellipsis, got %d", len([]rune(got)))
	}
	if got := preview("short"); got != "short" {
		t.Errorf("short text must be unchanged, got %q", got)
	}
}
