package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"fixnearby-server/events"
	"fixnearby-server/models"
)

// memStore is an in-memory Store for service tests
type memStore struct {
	mu sync.Mutex

	nextID        uint
	users         map[uint]models.User
	repairers     map[uint]models.Repairer
	admins        map[uint]models.Admin
	requests      map[uint]models.ServiceRequest
	payments      map[uint]models.Payment
	conversations map[uint]models.Conversation
	messages      []models.Message
	notifications map[uint]models.Notification
	tokens        map[string]models.RefreshToken

	// beforeTransition runs inside TransitionServiceRequest before the status check
	beforeTransition func(id uint)
}

func newMemStore() *memStore {
	return &memStore{
		users:         map[uint]models.User{},
		repairers:     map[uint]models.Repairer{},
		admins:        map[uint]models.Admin{},
		requests:      map[uint]models.ServiceRequest{},
		payments:      map[uint]models.Payment{},
		conversations: map[uint]models.Conversation{},
		notifications: map[uint]models.Notification{},
		tokens:        map[string]models.RefreshToken{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

type memSnapshot struct {
	nextID        uint
	users         map[uint]models.User
	repairers     map[uint]models.Repairer
	requests      map[uint]models.ServiceRequest
	payments      map[uint]models.Payment
	conversations map[uint]models.Conversation
	messages      []models.Message
	notifications map[uint]models.Notification
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		nextID:        m.nextID,
		users:         copyMap(m.users),
		repairers:     copyMap(m.repairers),
		requests:      copyMap(m.requests),
		payments:      copyMap(m.payments),
		conversations: copyMap(m.conversations),
		messages:      append([]models.Message(nil), m.messages...),
		notifications: copyMap(m.notifications),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID = s.nextID
	m.users = s.users
	m.repairers = s.repairers
	m.requests = s.requests
	m.payments = s.payments
	m.conversations = s.conversations
	m.messages = s.messages
	m.notifications = s.notifications
}

func (m *memStore) WithinTx(ctx context.Context, fn func(Store) error) error {
	snap := m.snapshot()
	if err := fn(m); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Phone == u.Phone {
			return ErrConflict
		}
	}
	u.ID = m.id()
	m.users[u.ID] = *u
	return nil
}

func (m *memStore) GetUser(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *memStore) GetUserByPhone(_ context.Context, phone string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListUsers(_ context.Context, limit, offset int) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memStore) CreateRepairer(_ context.Context, r *models.Repairer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.repairers {
		if existing.Phone == r.Phone {
			return ErrConflict
		}
	}
	r.ID = m.id()
	m.repairers[r.ID] = *r
	return nil
}

func (m *memStore) GetRepairer(_ context.Context, id uint) (*models.Repairer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repairers[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Services = append([]models.RepairerService(nil), r.Services...)
	return &r, nil
}

func (m *memStore) GetRepairerByPhone(_ context.Context, phone string) (*models.Repairer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.repairers {
		if r.Phone == phone {
			r := r
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) SaveRepairer(_ context.Context, r *models.Repairer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repairers[r.ID]; !ok {
		return ErrNotFound
	}
	m.repairers[r.ID] = *r
	return nil
}

func (m *memStore) ListAvailableRepairers(_ context.Context, category string) ([]models.Repairer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Repairer
	for _, r := range m.repairers {
		if r.IsActive && r.IsAvailable && r.Offers(category) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) ListRepairers(_ context.Context, limit, offset int) ([]models.Repairer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Repairer
	for _, r := range m.repairers {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) AddRepairerRating(_ context.Context, id uint, stars int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repairers[id]
	if !ok {
		return ErrNotFound
	}
	total := r.Rating*float64(r.RatingCount) + float64(stars)
	r.RatingCount++
	r.Rating = total / float64(r.RatingCount)
	m.repairers[id] = r
	return nil
}

func (m *memStore) GetAdminByEmail(_ context.Context, email string) (*models.Admin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.admins {
		if a.Email == email {
			a := a
			return &a, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) CreateServiceRequest(_ context.Context, r *models.ServiceRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = m.id()
	r.CreatedAt = time.Now()
	m.requests[r.ID] = *r
	return nil
}

func (m *memStore) GetServiceRequest(_ context.Context, id uint) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *memStore) ListServiceRequests(_ context.Context, f RequestFilter) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if f.CustomerID != nil && r.CustomerID != *f.CustomerID {
			continue
		}
		if f.RepairerID != nil && !r.IsAssignedTo(*f.RepairerID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func containsStatus(list []models.RequestStatus, s models.RequestStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (m *memStore) TransitionServiceRequest(_ context.Context, id uint, from []models.RequestStatus, to models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error) {
	if m.beforeTransition != nil {
		m.beforeTransition(id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !containsStatus(from, r.Status) {
		return nil, ErrConflict
	}
	changes.Apply(&r)
	r.Status = to
	m.requests[id] = r
	return &r, nil
}

func (m *memStore) UpdateServiceRequest(_ context.Context, id uint, status models.RequestStatus, changes models.RequestChanges) (*models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != status {
		return nil, ErrConflict
	}
	changes.Apply(&r)
	m.requests[id] = r
	return &r, nil
}

func (m *memStore) SetConversation(_ context.Context, requestID, conversationID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	r.ConversationID = &conversationID
	m.requests[requestID] = r
	return nil
}

func (m *memStore) SetRating(_ context.Context, requestID uint, stars int, review string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	if r.Rating != nil {
		return ErrConflict
	}
	r.Rating = &stars
	r.Review = review
	m.requests[requestID] = r
	return nil
}

func (m *memStore) ListAwaitingRequests(_ context.Context) ([]models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ServiceRequest
	for _, r := range m.requests {
		if r.AwaitingRepairer && r.Status == models.StatusRequested {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CreatePayment(_ context.Context, p *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.payments {
		if existing.ServiceRequestID == p.ServiceRequestID && existing.PaymentMethod == p.PaymentMethod {
			return ErrConflict
		}
	}
	p.ID = m.id()
	m.payments[p.ID] = *p
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id uint) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *memStore) findPayment(match func(models.Payment) bool) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if match(p) {
			p := p
			return &p, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetPaymentByOrder(_ context.Context, orderID string) (*models.Payment, error) {
	return m.findPayment(func(p models.Payment) bool {
		return p.GatewayOrderID != nil && *p.GatewayOrderID == orderID
	})
}

func (m *memStore) GetPaymentByPayout(_ context.Context, payoutID string) (*models.Payment, error) {
	return m.findPayment(func(p models.Payment) bool {
		return p.PayoutID != nil && *p.PayoutID == payoutID
	})
}

func (m *memStore) GetPaymentForRequest(_ context.Context, requestID uint, method models.PaymentMethod) (*models.Payment, error) {
	return m.findPayment(func(p models.Payment) bool {
		return p.ServiceRequestID == requestID && p.PaymentMethod == method
	})
}

func (m *memStore) ListPayments(_ context.Context, status models.PaymentStatus, limit int) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) AdvancePayment(_ context.Context, id uint, from []models.PaymentStatus, changes models.PaymentChanges) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if p.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return nil, ErrConflict
	}
	changes.Apply(&p)
	m.payments[id] = p
	return &p, nil
}

func (m *memStore) CreateConversation(_ context.Context, c *models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.conversations {
		if existing.ServiceRequestID == c.ServiceRequestID {
			return ErrConflict
		}
	}
	c.ID = m.id()
	m.conversations[c.ID] = *c
	return nil
}

func (m *memStore) GetConversation(_ context.Context, id uint) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) GetConversationByRequest(_ context.Context, requestID uint) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.conversations {
		if c.ServiceRequestID == requestID {
			c := c
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListConversations(_ context.Context, s models.Session) ([]models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(s) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memStore) DeactivateConversation(_ context.Context, requestID uint) (*models.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.conversations {
		if c.ServiceRequestID == requestID {
			c.IsActive = false
			m.conversations[id] = c
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) AppendMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	msg.CreatedAt = time.Now()
	m.messages = append(m.messages, *msg)
	c := m.conversations[msg.ConversationID]
	c.LastMessage = msg.Text
	c.LastMessageAt = &msg.CreatedAt
	m.conversations[msg.ConversationID] = c
	return nil
}

func (m *memStore) ListMessages(_ context.Context, conversationID uint, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.id()
	n.CreatedAt = time.Now()
	m.notifications[n.ID] = *n
	return nil
}

func (m *memStore) notificationsFor(to models.Participant) []models.Notification {
	var out []models.Notification
	for _, n := range m.notifications {
		if n.RecipientID == to.ID && n.RecipientRole == to.Role {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memStore) ListNotifications(_ context.Context, to models.Participant, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.notificationsFor(to)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) CountUnread(_ context.Context, to models.Participant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, note := range m.notificationsFor(to) {
		if !note.Read {
			n++
		}
	}
	return n, nil
}

func (m *memStore) MarkNotificationRead(_ context.Context, to models.Participant, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.RecipientID != to.ID || n.RecipientRole != to.Role {
		return ErrNotFound
	}
	n.Read = true
	m.notifications[id] = n
	return nil
}

func (m *memStore) MarkAllNotificationsRead(_ context.Context, to models.Participant) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for id, n := range m.notifications {
		if n.RecipientID == to.ID && n.RecipientRole == to.Role && !n.Read {
			n.Read = true
			m.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (m *memStore) CreateRefreshToken(_ context.Context, t *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = m.id()
	m.tokens[t.Token] = *t
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, token string) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[token]
	if !ok {
		return ErrNotFound
	}
	t.IsRevoked = true
	m.tokens[token] = t
	return nil
}

func (m *memStore) DeleteExpiredRefreshTokens(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, t := range m.tokens {
		if t.ExpiresAt.Before(before) {
			delete(m.tokens, k)
			n++
		}
	}
	return n, nil
}

// recordingPublisher captures published events
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, len(p.events))
	for i, e := range p.events {
		out[i] = e.Kind
	}
	return out
}

func (p *recordingPublisher) last(kind events.Kind) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Kind == kind {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

// codeCapture records the last code sent per phone
type codeCapture struct {
	mu    sync.Mutex
	codes map[string]string
	fail  error
}

func newCodeCapture() *codeCapture {
	return &codeCapture{codes: map[string]string{}}
}

func (c *codeCapture) SendOTP(_ context.Context, to models.Contact, code, purpose string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.codes[purpose+":"+to.Phone] = code
	return nil
}

func (c *codeCapture) code(purpose OTPPurpose, phone string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[string(purpose)+":"+phone]
}
