package authz

import (
	"testing"

	"fixnearby-server/models"
)

func TestEnforcer(t *testing.T) {
	e, err := NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}

	tests := []struct {
		name     string
		session  models.Session
		resource string
		action   string
		want     bool
	}{
		{"customer creates request", models.UserSession(1), ResServiceRequest, "create", true},
		{"repairer cannot create request", models.RepairerSession(1), ResServiceRequest, "create", false},
		{"repairer accepts lead", models.RepairerSession(1), ResLead, "accept", true},
		{"customer cannot accept lead", models.UserSession(1), ResLead, "accept", false},
		{"customer chats via participant role", models.UserSession(1), ResConversation, "chat", true},
		{"repairer chats via participant role", models.RepairerSession(1), ResConversation, "chat", true},
		{"admin wildcard", models.AdminSession(1), ResServiceRequest, "cancel", true},
		{"admin is not a chat participant", models.AdminSession(1), ResConversation, "chat", false},
		{"anonymous has nothing", models.Anonymous(), ResServiceRequest, "read", false},
		{"customer pays", models.UserSession(1), ResPayment, "pay", true},
		{"repairer does not pay", models.RepairerSession(1), ResPayment, "pay", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Allowed(tt.session, tt.resource, tt.action)
			if err != nil {
				t.Fatalf("Allowed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Allowed(%s, %s, %s) = %v, want %v", tt.session.Role(), tt.resource, tt.action, got, tt.want)
			}
		})
	}
}
