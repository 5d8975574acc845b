package domain

import "strings"

// Identity is the authenticated owner a backup is produced for or applied to.
// It is supplied by the session layer (PASETO access token claims).
type Identity struct {
	UserID string `json:"user_id" validate:"required"`
	Phone  string `json:"phone,omitempty"`
}

// IsZero reports whether the identity carries no user.
func (i Identity) IsZero() bool {
	return strings.TrimSpace(i.UserID) == ""
}

// Matches reports whether other names the same owner.
// Both the user ID and the phone must match; phone formatting is ignored.
func (i Identity) Matches(other Identity) bool {
	return strings.TrimSpace(i.UserID) == strings.TrimSpace(other.UserID) &&
		normalizePhone(i.Phone) == normalizePhone(other.Phone)
}

// normalizePhone strips formatting characters so "+55 (11) 9999-0000" and
// "+551199990000" compare equal.
func normalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r == '+' || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
