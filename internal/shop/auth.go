package shop

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/zot/shopsync/internal/config"
	"github.com/zot/shopsync/internal/local"
)

const (
	credentialsKey = "user-credentials"
	sessionKey     = "current-user-session"
)

var (
	ErrInvalidCredentials = errors.New("shop: invalid username or password")
	ErrNotLoggedIn        = errors.New("shop: not logged in")
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCustomer Role = "customer"
)

// AdminUser is one seed entry of shop.admin_users.
type AdminUser struct {
	Password string
	Name     string
	Role     Role
}

// Credentials is a stored login.
type Credentials struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
}

// User is the logged-in identity.
type User struct {
	ID       string
	Username string
	Name     string
	Role     Role
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// ParseAdminUsers reads "user:password:name:role|...". Incomplete entries
// are skipped.
func ParseAdminUsers(s string) map[string]AdminUser {
	users := make(map[string]AdminUser)
	for _, entry := range strings.Split(s, "|") {
		parts := strings.Split(entry, ":")
		if len(parts) < 4 || parts[0] == "" || parts[1] == "" || parts[2] == "" || parts[3] == "" {
			continue
		}
		users[parts[0]] = AdminUser{Password: parts[1], Name: parts[2], Role: Role(parts[3])}
	}
	return users
}

// HashPassword returns the hex SHA-256 of password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Auth is a local credential table with one current session. It is a
// convenience gate for the back office, not a security boundary.
type Auth struct {
	config *config.Config
	store  *local.Store
}

// NewAuth seeds missing credentials from cfg.Shop.AdminUsers.
func NewAuth(cfg *config.Config, store *local.Store) *Auth {
	a := &Auth{config: cfg, store: store}
	seeds := ParseAdminUsers(cfg.Shop.AdminUsers)
	if len(seeds) == 0 {
		cfg.Log(0, "shop: no admin users configured, set SHOPSYNC_ADMIN_USERS")
		return a
	}

	creds := a.credentials()
	changed := false
	for username, seed := range seeds {
		if _, ok := creds[username]; ok {
			continue
		}
		creds[username] = Credentials{
			Username:     username,
			PasswordHash: HashPassword(seed.Password),
			Name:         seed.Name,
			Role:         seed.Role,
		}
		changed = true
	}
	if changed {
		if err := store.Write(credentialsKey, creds); err != nil {
			cfg.Log(0, "shop: error seeding credentials: %v", err)
		}
	}
	return a
}

func (a *Auth) credentials() map[string]Credentials {
	creds := make(map[string]Credentials)
	a.store.ReadInto(credentialsKey, &creds)
	return creds
}

// Login checks the password and starts a session.
func (a *Auth) Login(username, password string) (User, error) {
	cred, ok := a.credentials()[username]
	if !ok || cred.PasswordHash != HashPassword(password) {
		a.config.Log(1, "shop: failed login for %q", username)
		return User{}, ErrInvalidCredentials
	}
	if err := a.store.Write(sessionKey, username); err != nil {
		return User{}, err
	}
	return userFor(username, cred), nil
}

func userFor(username string, cred Credentials) User {
	return User{ID: strings.ToLower(username), Username: cred.Username, Name: cred.Name, Role: cred.Role}
}

func (a *Auth) Logout() {
	a.store.Remove(sessionKey)
}

// Current returns the session's user. A session whose credentials are
// gone is cleared.
func (a *Auth) Current() (User, bool) {
	var username string
	if !a.store.ReadInto(sessionKey, &username) || username == "" {
		return User{}, false
	}
	cred, ok := a.credentials()[username]
	if !ok {
		a.Logout()
		return User{}, false
	}
	return userFor(username, cred), true
}

// ChangePassword replaces the current user's password.
func (a *Auth) ChangePassword(newPassword string) error {
	user, ok := a.Current()
	if !ok {
		return ErrNotLoggedIn
	}
	creds := a.credentials()
	cred := creds[user.Username]
	cred.PasswordHash = HashPassword(newPassword)
	creds[user.Username] = cred
	return a.store.Write(credentialsKey, creds)
}
