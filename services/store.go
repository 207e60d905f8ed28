package services

import (
	"context"
	"time"

	"fixnearby-server/models"
)

// RequestFilter narrows service request listings
type RequestFilter struct {
	CustomerID *uint
	RepairerID *uint
	Statuses   []models.RequestStatus
	Pincode    string
	Category   string
	Limit      int
	Offset     int
}

// Store is the persistence boundary of the services.
// Lookups return ErrNotFound when nothing matches.
type Store interface {
	// WithinTx runs fn against a store bound to a single transaction
	WithinTx(ctx context.Context, fn func(Store) error) error

	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.User, error)

	CreateRepairer(ctx context.Context, r *models.Repairer) error
	GetRepairer(ctx context.Context, id uint) (*models.Repairer, error)
	GetRepairerByPhone(ctx context.Context, phone string) (*models.Repairer, error)
	SaveRepairer(ctx context.Context, r *models.Repairer) error
	// ListAvailableRepairers returns active, available repairers offering category
	ListAvailableRepairers(ctx context.Context, category string) ([]models.Repairer, error)
	ListRepairers(ctx context.Context, limit, offset int) ([]models.Repairer, error)
	// AddRepairerRating folds stars into the repairer's rating aggregate
	AddRepairerRating(ctx context.Context, repairerID uint, stars int) error

	GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error)

	CreateServiceRequest(ctx context.Context, r *models.ServiceRequest) error
	GetServiceRequest(ctx context.Context, id uint) (*models.ServiceRequest, error)
	ListServiceRequests(ctx context.Context, f RequestFilter) ([]models.ServiceRequest, error)
	// TransitionServiceRequest moves a request from one of the from statuses to to,
	// applying changes in the same write. ErrConflict if the status no longer matches.
	TransitionServiceRequest(ctx context.Context, id uint, from []models.RequestStatus, to models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error)
	// UpdateServiceRequest writes changes without a status change, guarded by the expected status
	UpdateServiceRequest(ctx context.Context, id uint, status models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error)
	SetConversation(ctx context.Context, requestID, conversationID uint) error
	SetRating(ctx context.Context, requestID uint, stars int, review string) error
	ListAwaitingRequests(ctx context.Context) ([]models.ServiceRequest, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, id uint) (*models.Payment, error)
	GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error)
	GetPaymentByPayout(ctx context.Context, payoutID string) (*models.Payment, error)
	GetPaymentForRequest(ctx context.Context, requestID uint, method models.PaymentMethod) (*models.Payment, error)
	ListPayments(ctx context.Context, status models.PaymentStatus, limit int) ([]models.Payment, error)
	// AdvancePayment moves a payment from one of the from statuses, ErrConflict otherwise
	AdvancePayment(ctx context.Context, id uint, from []models.PaymentStatus, changes models.PaymentChanges) (*models.Payment, error)

	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id uint) (*models.Conversation, error)
	GetConversationByRequest(ctx context.Context, requestID uint) (*models.Conversation, error)
	ListConversations(ctx context.Context, s models.Session) ([]models.Conversation, error)
	DeactivateConversation(ctx context.Context, requestID uint) (*models.Conversation, error)
	AppendMessage(ctx context.Context, m *models.Message) error
	ListMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error)

	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, recipient models.Participant, limit int) ([]models.Notification, error)
	CountUnread(ctx context.Context, recipient models.Participant) (int64, error)
	MarkNotificationRead(ctx context.Context, recipient models.Participant, id uint) error
	MarkAllNotificationsRead(ctx context.Context, recipient models.Participant) (int64, error)

	CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}
