// Package person is the Identity & Access Gate: the minimal identity
// contract every domain operation checks before it touches a Part,
// Attachment, Service or Activity.
package person

import "tendabike.dev/engine/internal/domain/tberr"

// ID identifies an account in the engine.
type ID int64

// Person is the identity a caller authenticates as. Every mutating domain
// operation takes a Person rather than a bare ID so that admin override
// and future identity sources (service accounts, shared garages) have one
// seam to extend.
type Person interface {
	// UserID returns the identity's own id.
	UserID() ID
	// IsAdmin reports whether this identity may act on any owner's data.
	IsAdmin() bool
}

// CheckOwner returns nil if user owns the resource owned by owner, or is
// an admin. Otherwise it returns a not-found error: ownership failures are
// reported as absence, never as "forbidden", so a probing caller cannot
// distinguish "not yours" from "does not exist".
func CheckOwner(user Person, owner ID, msg string) error {
	if user.UserID() == owner || user.IsAdmin() {
		return nil
	}
	return tberr.NotFound(msg)
}

// HasReadAccess reports whether user may read a resource owned by owner.
// Read access follows the same rule as ownership: owner or admin only.
func HasReadAccess(user Person, owner ID) bool {
	return user.UserID() == owner || user.IsAdmin()
}
