package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"fixnearby-server/models"
	"fixnearby-server/services"
)

// Store is the Postgres implementation of services.Store
type Store struct {
	db *gorm.DB
}

// NewStore wraps a connected gorm handle
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ services.Store = (*Store)(nil)

// mapErr translates gorm errors into the service sentinels
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return services.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", services.ErrConflict, err)
	}
	return err
}

func (s *Store) with(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Ping checks the connection
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithinTx runs fn against a store bound to one database transaction
func (s *Store) WithinTx(ctx context.Context, fn func(services.Store) error) error {
	return s.with(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// CreateUser inserts a customer account
func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	return mapErr(s.with(ctx).Create(u).Error)
}

// GetUser loads a customer by id
func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.with(ctx).First(&u, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// GetUserByPhone loads a customer by phone number
func (s *Store) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	var u models.User
	if err := s.with(ctx).Where("phone = ?", phone).First(&u).Error; err != nil {
		return nil, mapErr(err)
	}
	return &u, nil
}

// ListUsers pages through customers, newest first
func (s *Store) ListUsers(ctx context.Context, limit, offset int) ([]models.User, error) {
	var users []models.User
	err := s.with(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&users).Error
	return users, mapErr(err)
}

// CreateRepairer inserts a repairer account
func (s *Store) CreateRepairer(ctx context.Context, r *models.Repairer) error {
	return mapErr(s.with(ctx).Create(r).Error)
}

// GetRepairer loads a repairer by id
func (s *Store) GetRepairer(ctx context.Context, id uint) (*models.Repairer, error) {
	var r models.Repairer
	if err := s.with(ctx).First(&r, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

// GetRepairerByPhone loads a repairer by phone number
func (s *Store) GetRepairerByPhone(ctx context.Context, phone string) (*models.Repairer, error) {
	var r models.Repairer
	if err := s.with(ctx).Where("phone = ?", phone).First(&r).Error; err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

// SaveRepairer writes every field of an existing repairer
func (s *Store) SaveRepairer(ctx context.Context, r *models.Repairer) error {
	res := s.with(ctx).Save(r)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	return nil
}

// ListAvailableRepairers returns active, available repairers offering category
func (s *Store) ListAvailableRepairers(ctx context.Context, category string) ([]models.Repairer, error) {
	var out []models.Repairer
	err := s.with(ctx).
		Where("is_active = ? AND is_available = ?", true, true).
		Where("EXISTS (SELECT 1 FROM jsonb_array_elements(services) AS svc WHERE lower(svc->>'name') = lower(?))", category).
		Order("rating DESC, id").
		Find(&out).Error
	return out, mapErr(err)
}

// ListRepairers pages through repairers, newest first
func (s *Store) ListRepairers(ctx context.Context, limit, offset int) ([]models.Repairer, error) {
	var out []models.Repairer
	err := s.with(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, mapErr(err)
}

// AddRepairerRating folds stars into the repairer's rating aggregate
func (s *Store) AddRepairerRating(ctx context.Context, repairerID uint, stars int) error {
	res := s.with(ctx).Model(&models.Repairer{}).Where("id = ?", repairerID).Updates(map[string]interface{}{
		"rating":       gorm.Expr("ROUND((rating * rating_count + ?) / (rating_count + 1), 2)", stars),
		"rating_count": gorm.Expr("rating_count + 1"),
	})
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return services.ErrNotFound
	}
	return nil
}

// GetAdminByEmail loads an admin by email
func (s *Store) GetAdminByEmail(ctx context.Context, email string) (*models.Admin, error) {
	var a models.Admin
	if err := s.with(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

// CreateAdmin inserts a back-office account
func (s *Store) CreateAdmin(ctx context.Context, a *models.Admin) error {
	return mapErr(s.with(ctx).Create(a).Error)
}

// CreateServiceRequest inserts a new service request
func (s *Store) CreateServiceRequest(ctx context.Context, r *models.ServiceRequest) error {
	return mapErr(s.with(ctx).Omit("Customer", "Repairer").Create(r).Error)
}

// GetServiceRequest loads a service request by id
func (s *Store) GetServiceRequest(ctx context.Context, id uint) (*models.ServiceRequest, error) {
	var r models.ServiceRequest
	if err := s.with(ctx).First(&r, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

// ListServiceRequests returns requests matching f, newest first
func (s *Store) ListServiceRequests(ctx context.Context, f services.RequestFilter) ([]models.ServiceRequest, error) {
	q := s.with(ctx).Model(&models.ServiceRequest{})
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.RepairerID != nil {
		q = q.Where("repairer_id = ?", *f.RepairerID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Pincode != "" {
		q = q.Where("pincode = ?", f.Pincode)
	}
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var out []models.ServiceRequest
	err := q.Order("created_at DESC").Find(&out).Error
	return out, mapErr(err)
}

// guardedUpdate applies cols to the row matching where, or reports why nothing matched
func (s *Store) guardedUpdate(ctx context.Context, model interface{}, id uint, cols map[string]interface{}, where string, args ...interface{}) error {
	cols["updated_at"] = time.Now()
	res := s.with(ctx).Model(model).Where("id = ?", id).Where(where, args...).Updates(cols)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := s.with(ctx).Model(model).Where("id = ?", id).Count(&n).Error; err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return services.ErrNotFound
	}
	return services.ErrConflict
}

// TransitionServiceRequest moves a request to to only while its status is one of from
func (s *Store) TransitionServiceRequest(ctx context.Context, id uint, from []models.RequestStatus, to models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error) {
	cols := changes.Columns()
	cols["status"] = to
	if err := s.guardedUpdate(ctx, &models.ServiceRequest{}, id, cols, "status IN ?", from); err != nil {
		return nil, err
	}
	return s.GetServiceRequest(ctx, id)
}

// UpdateServiceRequest writes changes only while the request is still in status
func (s *Store) UpdateServiceRequest(ctx context.Context, id uint, status models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error) {
	if err := s.guardedUpdate(ctx, &models.ServiceRequest{}, id, changes.Columns(), "status = ?", status); err != nil {
		return nil, err
	}
	return s.GetServiceRequest(ctx, id)
}

// SetConversation links a conversation to its request
func (s *Store) SetConversation(ctx context.Context, requestID, conversationID uint) error {
	res := s.with(ctx).Model(&models.ServiceRequest{}).Where("id = ?", requestID).Update("conversation_id", conversationID)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return services.ErrNotFound
	}
	return nil
}

// SetRating stores the customer's rating once
func (s *Store) SetRating(ctx context.Context, requestID uint, stars int, review string) error {
	return s.guardedUpdate(ctx, &models.ServiceRequest{}, requestID, map[string]interface{}{
		"rating": stars,
		"review": review,
	}, "rating IS NULL")
}

// ListAwaitingRequests returns open requests that found no repairer yet
func (s *Store) ListAwaitingRequests(ctx context.Context) ([]models.ServiceRequest, error) {
	var out []models.ServiceRequest
	err := s.with(ctx).
		Where("awaiting_repairer = ? AND status = ?", true, models.StatusRequested).
		Order("created_at").
		Find(&out).Error
	return out, mapErr(err)
}

// CreatePayment inserts a payment record
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	return mapErr(s.with(ctx).Create(p).Error)
}

// GetPayment loads a payment by id
func (s *Store) GetPayment(ctx context.Context, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := s.with(ctx).First(&p, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// GetPaymentByOrder finds the payment holding a gateway order id
func (s *Store) GetPaymentByOrder(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.with(ctx).Where("gateway_order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// GetPaymentByPayout finds the payment holding a gateway payout id
func (s *Store) GetPaymentByPayout(ctx context.Context, payoutID string) (*models.Payment, error) {
	var p models.Payment
	if err := s.with(ctx).Where("payout_id = ?", payoutID).First(&p).Error; err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// GetPaymentForRequest finds the payment of method for a request
func (s *Store) GetPaymentForRequest(ctx context.Context, requestID uint, method models.PaymentMethod) (*models.Payment, error) {
	var p models.Payment
	err := s.with(ctx).Where("service_request_id = ? AND payment_method = ?", requestID, method).First(&p).Error
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

// ListPayments returns payments, optionally filtered by status, least recently updated first
func (s *Store) ListPayments(ctx context.Context, status models.PaymentStatus, limit int) ([]models.Payment, error) {
	q := s.with(ctx).Order("updated_at")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Payment
	err := q.Find(&out).Error
	return out, mapErr(err)
}

// AdvancePayment applies changes only while the payment status is one of from
func (s *Store) AdvancePayment(ctx context.Context, id uint, from []models.PaymentStatus, changes models.PaymentChanges) (*models.Payment, error) {
	if err := s.guardedUpdate(ctx, &models.Payment{}, id, changes.Columns(), "status IN ?", from); err != nil {
		return nil, err
	}
	return s.GetPayment(ctx, id)
}

// CreateConversation inserts a conversation
func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	return mapErr(s.with(ctx).Omit("ServiceRequest").Create(c).Error)
}

// GetConversation loads a conversation by id
func (s *Store) GetConversation(ctx context.Context, id uint) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.with(ctx).First(&c, id).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// GetConversationByRequest finds the conversation of a request
func (s *Store) GetConversationByRequest(ctx context.Context, requestID uint) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.with(ctx).Where("service_request_id = ?", requestID).First(&c).Error; err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

// ListConversations returns the conversations the session takes part in
func (s *Store) ListConversations(ctx context.Context, session models.Session) ([]models.Conversation, error) {
	q := s.with(ctx).Preload("ServiceRequest")
	switch session.Role() {
	case models.RoleUser:
		q = q.Where("customer_id = ?", session.SubjectID())
	case models.RoleRepairer:
		q = q.Where("repairer_id = ?", session.SubjectID())
	default:
		return nil, services.ErrForbidden
	}
	var out []models.Conversation
	err := q.Order("last_message_at DESC NULLS LAST, created_at DESC").Find(&out).Error
	return out, mapErr(err)
}

// DeactivateConversation closes the conversation of a request
func (s *Store) DeactivateConversation(ctx context.Context, requestID uint) (*models.Conversation, error) {
	res := s.with(ctx).Model(&models.Conversation{}).
		Where("service_request_id = ?", requestID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, services.ErrNotFound
	}
	return s.GetConversationByRequest(ctx, requestID)
}

// AppendMessage adds a message and updates the conversation summary
func (s *Store) AppendMessage(ctx context.Context, m *models.Message) error {
	return s.with(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return mapErr(err)
		}
		return mapErr(tx.Model(&models.Conversation{}).Where("id = ?", m.ConversationID).Updates(map[string]interface{}{
			"last_message":    m.Text,
			"last_message_at": m.CreatedAt,
			"updated_at":      m.CreatedAt,
		}).Error)
	})
}

// ListMessages returns the latest limit messages in send order
func (s *Store) ListMessages(ctx context.Context, conversationID uint, limit int) ([]models.Message, error) {
	var out []models.Message
	// newest page, returned oldest first
	inner := s.with(ctx).Model(&models.Message{}).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit)
	err := s.with(ctx).Table("(?) AS page", inner).Order("created_at, id").Find(&out).Error
	return out, mapErr(err)
}

func (s *Store) recipient(ctx context.Context, to models.Participant) *gorm.DB {
	return s.with(ctx).Model(&models.Notification{}).Where("recipient_id = ? AND recipient_role = ?", to.ID, to.Role)
}

// CreateNotification inserts a notification
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	return mapErr(s.with(ctx).Create(n).Error)
}

// ListNotifications returns a recipient's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, to models.Participant, limit int) ([]models.Notification, error) {
	var out []models.Notification
	err := s.recipient(ctx, to).Order("created_at DESC, id DESC").Limit(limit).Find(&out).Error
	return out, mapErr(err)
}

// CountUnread counts a recipient's unread notifications
func (s *Store) CountUnread(ctx context.Context, to models.Participant) (int64, error) {
	var n int64
	err := s.recipient(ctx, to).Where("read = ?", false).Count(&n).Error
	return n, mapErr(err)
}

// MarkNotificationRead marks one of the recipient's notifications read
func (s *Store) MarkNotificationRead(ctx context.Context, to models.Participant, id uint) error {
	res := s.recipient(ctx, to).Where("id = ?", id).Update("read", true)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return services.ErrNotFound
	}
	return nil
}

// MarkAllNotificationsRead marks every notification of the recipient read
func (s *Store) MarkAllNotificationsRead(ctx context.Context, to models.Participant) (int64, error) {
	res := s.recipient(ctx, to).Where("read = ?", false).Update("read", true)
	return res.RowsAffected, mapErr(res.Error)
}

// CreateRefreshToken stores a refresh token
func (s *Store) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	return mapErr(s.with(ctx).Create(t).Error)
}

// GetRefreshToken loads a refresh token by its value
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	if err := s.with(ctx).Where("token = ?", token).First(&rt).Error; err != nil {
		return nil, mapErr(err)
	}
	return &rt, nil
}

// RevokeRefreshToken revokes a refresh token
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	res := s.with(ctx).Model(&models.RefreshToken{}).Where("token = ?", token).Update("is_revoked", true)
	if res.Error != nil {
		return mapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return services.ErrNotFound
	}
	return nil
}

// DeleteExpiredRefreshTokens removes tokens that expired before the given time
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	res := s.with(ctx).Where("expires_at < ? OR is_revoked = ?", before, true).Delete(&models.RefreshToken{})
	return res.RowsAffected, mapErr(res.Error)
}
