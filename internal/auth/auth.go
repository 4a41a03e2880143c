package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"perepiska/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

// UserCredentials is the persisted identity record: the public user
// plus the bcrypt password hash.
type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
}

// CredentialStore persists credentials between restarts.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}
	return nil
}

// Service verifies opaque bearer tokens and resolves them to user IDs.
// The rest of the system trusts the resolved ID without re-verifying
// credentials.
type Service struct {
	Config
	store      CredentialStore
	users      *geche.Locker[string, *UserCredentials]
	liveTokens geche.Geche[string, string]
	now        func() time.Time

	mu   sync.RWMutex
	byID map[string]models.User
}

func NewService(ctx context.Context, config Config, store CredentialStore) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Service{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
		byID:       make(map[string]models.User),
	}

	creds, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := s.users.Lock()
	defer tx.Unlock()
	for i := range creds {
		c := creds[i]
		tx.Set(c.UserName, &c)
		s.byID[c.ID] = c.User
	}

	return s, nil
}

// AddUser registers a new user and persists their credentials.
func (s *Service) AddUser(username, displayName, password string, admin bool) (models.User, error) {
	tx := s.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.User{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	creds := UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: displayName,
			Admin:       admin,
			Status:      models.UserStatusActive,
		},
		PasswordHash: string(hash),
	}
	if err := s.store.UpsertCredentials(creds); err != nil {
		return models.User{}, fmt.Errorf("failed to persist credentials: %w", err)
	}
	tx.Set(username, &creds)

	s.mu.Lock()
	s.byID[creds.ID] = creds.User
	s.mu.Unlock()

	return creds.User, nil
}

func (s *Service) Login(req LoginRequest) (LoginResponse, string) {
	now := s.now()
	tx := s.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	token, err := s.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return LoginResponse{
			Success: false,
			Message: "internal error",
		}, ""
	}

	s.liveTokens.Set(token, user.ID)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(s.TokenExpiry.Seconds()),
	}, user.ID
}

func (s *Service) Logoff(token string) error {
	return s.liveTokens.Del(token)
}

// GetUserID resolves a live token to the verified user ID.
func (s *Service) GetUserID(token string) (string, error) {
	return s.liveTokens.Get(token)
}

// GetUser returns the public user record for an ID.
func (s *Service) GetUser(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	return u, ok
}

// IsAdmin reports whether the user belongs to the administrative actor
// class allowed to bypass delete-window and authorship checks.
func (s *Service) IsAdmin(userID string) bool {
	u, ok := s.GetUser(userID)
	return ok && u.Admin
}

// ListUsers returns all registered users sorted by display name.
func (s *Service) ListUsers() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.byID))
	for _, u := range s.byID {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users
}

func (s *Service) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
