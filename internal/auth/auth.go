// Package auth implements the credential store and token flow guarding the
// dashboard: bcrypt password verification and HS256 JWTs carried in a cookie
// or bearer header.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const bcryptCost = 10

// User is one registered dashboard account.
type User struct {
	Email        string
	PasswordHash string // bcrypt
}

// UserStore holds registered users in memory. Accounts seeded from
// configuration survive for the process lifetime only; there is no
// persistence.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]User // keyed by lowercased email
}

// NewUserStore creates a store seeded with the given users.
func NewUserStore(seed []User) *UserStore {
	s := &UserStore{users: make(map[string]User, len(seed))}
	for _, u := range seed {
		s.users[normalizeEmail(u.Email)] = u
	}
	return s
}

// Lookup returns the user for email, if registered.
func (s *UserStore) Lookup(email string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[normalizeEmail(email)]
	return u, ok
}

// Register hashes the password and adds a new user. Returns ErrUserExists
// when the email is already taken.
func (s *UserStore) Register(email, password string) (User, error) {
	key := normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[key]; exists {
		return User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{Email: key, PasswordHash: string(hash)}
	s.users[key] = u
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Authenticator verifies credentials against the store and issues and
// verifies JWTs.
type Authenticator struct {
	store    *UserStore
	secret   []byte
	tokenTTL time.Duration
}

// NewAuthenticator creates an Authenticator signing tokens with secret and
// expiring them after tokenTTL.
func NewAuthenticator(store *UserStore, secret string, tokenTTL time.Duration) *Authenticator {
	return &Authenticator{
		store:    store,
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

// Login verifies email and password and returns a signed token. Unknown
// users and wrong passwords are indistinguishable to the caller.
func (a *Authenticator) Login(email, password string) (string, error) {
	user, ok := a.store.Lookup(email)
	if !ok {
		return "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return a.IssueToken(user.Email)
}

// IssueToken signs a fresh HS256 token for email.
func (a *Authenticator) IssueToken(email string) (string, error) {
	claims := jwt.MapClaims{
		"email": normalizeEmail(email),
		"exp":   time.Now().Add(a.tokenTTL).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token and returns the email claim.
func (a *Authenticator) Verify(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	email, ok := claims["email"].(string)
	if !ok || email == "" {
		return "", ErrInvalidToken
	}
	return email, nil
}
