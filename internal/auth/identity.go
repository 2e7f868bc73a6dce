package auth

// Identity is the sanitized user record attached to authenticated
// requests. It never carries passwordHash, passwordSalt, or lastIp
// (§3, §8 invariant).
type Identity struct {
	UserID      string   `json:"userId"`
	Username    string   `json:"username"`
	Permissions []string `json:"permissions"`
}

// User is the full persisted user record (store-side); Sanitize strips it
// down to an Identity for anything that crosses an API boundary.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	PasswordSalt string
	LastIP       string
	LastToken    string
	Permissions  []string
}

// Sanitize converts a User into the identity envelope that is safe to
// attach to a request or serialize to a client.
func (u User) Sanitize() Identity {
	perms := make([]string, len(u.Permissions))
	copy(perms, u.Permissions)
	return Identity{UserID: u.ID, Username: u.Username, Permissions: perms}
}
