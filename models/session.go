package models

// Role identifies which kind of principal a session belongs to
type Role string

const (
	RoleAnonymous Role = ""
	RoleUser      Role = "user"
	RoleRepairer  Role = "repairer"
	RoleAdmin     Role = "admin"
)

// IsValid checks if the role names a signed-in principal
func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleRepairer, RoleAdmin:
		return true
	default:
		return false
	}
}

// SenderModel returns the chat sender model tag for the role
func (r Role) SenderModel() string {
	if r == RoleRepairer {
		return SenderRepairer
	}
	return SenderUser
}

// Session is the authenticated principal of a request.
// Exactly one role is held at a time; the zero value is anonymous.
type Session struct {
	role      Role
	subjectID uint
}

// Anonymous returns the session of an unauthenticated caller
func Anonymous() Session {
	return Session{}
}

// NewSession returns a session for the given role and account id.
// Unknown roles or a zero id yield an anonymous session.
func NewSession(role Role, subjectID uint) Session {
	if !role.IsValid() || subjectID == 0 {
		return Anonymous()
	}
	return Session{role: role, subjectID: subjectID}
}

// UserSession returns a customer session
func UserSession(id uint) Session { return NewSession(RoleUser, id) }

// RepairerSession returns a repairer session
func RepairerSession(id uint) Session { return NewSession(RoleRepairer, id) }

// AdminSession returns an admin session
func AdminSession(id uint) Session { return NewSession(RoleAdmin, id) }

// Role returns the session role
func (s Session) Role() Role { return s.role }

// SubjectID returns the account id of the session, zero when anonymous
func (s Session) SubjectID() uint { return s.subjectID }

// IsAnonymous reports whether nobody is signed in
func (s Session) IsAnonymous() bool { return s.role == RoleAnonymous }

// UserID returns the customer id when the session is a customer
func (s Session) UserID() (uint, bool) {
	return s.subjectID, s.role == RoleUser
}

// RepairerID returns the repairer id when the session is a repairer
func (s Session) RepairerID() (uint, bool) {
	return s.subjectID, s.role == RoleRepairer
}

// IsAdmin reports whether the session is an admin
func (s Session) IsAdmin() bool {
	return s.role == RoleAdmin
}
