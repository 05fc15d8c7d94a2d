//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_presence.go -package=mocks
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const searchLimit = 20

var validate = validator.New()

// PresenceStore holds the online flag and last-seen time of users.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, at time.Time) error
	SetOffline(ctx context.Context, userID string, at time.Time) error
	Get(ctx context.Context, userIDs ...string) (map[string]Presence, error)
}

type Service struct {
	repo      Repo
	presence  PresenceStore
	jwtSecret []byte
	tokenTTL  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

type MyJWTClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

func NewService(repo Repo, presence PresenceStore, secret string, tokenTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		presence:  presence,
		jwtSecret: []byte(secret),
		tokenTTL:  tokenTTL,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*AuthResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	if req.Password != req.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}

	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Email:     req.Email,
		Password:  string(hashedPwd),
		CreatedAt: s.now(),
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return s.issue(ctx, u)
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validate.Struct(req); err != nil {
		return nil, err
	}

	u, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, u)
}

func (s *Service) issue(ctx context.Context, u *User) (*AuthResponse, error) {
	token, err := s.IssueToken(u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, User: s.decorate(ctx, []User{*u})[0]}, nil
}

func (s *Service) IssueToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "whchat",
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(s.now().Add(s.tokenTTL)),
		},
	})
	return token.SignedString(s.jwtSecret)
}

// ValidateToken returns the authenticated user id carried by the token.
func (s *Service) ValidateToken(tokenString string) (string, error) {
	claims := &MyJWTClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.UserID == "" {
		return "", errors.New("invalid token")
	}
	return claims.UserID, nil
}

// ---------------------------------------------
// Directory
// ---------------------------------------------

func (s *Service) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := s.repo.GetUserByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	u, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := s.decorate(ctx, []User{*u})[0]
	return &p, nil
}

// GetProfiles resolves many ids at once; unknown ids are absent from the map.
func (s *Service) GetProfiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	users, err := s.repo.GetUsersByIDs(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Profile, len(users))
	for _, p := range s.decorate(ctx, users) {
		out[p.ID] = p
	}
	return out, nil
}

func (s *Service) ListContacts(ctx context.Context, userID string) ([]Profile, error) {
	users, err := s.repo.ListUsers(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, users), nil
}

func (s *Service) Search(ctx context.Context, userID, query string) ([]Profile, error) {
	req := SearchRequest{Query: strings.TrimSpace(query)}
	if err := validate.Struct(req); err != nil {
		return nil, err
	}
	users, err := s.repo.SearchUsers(ctx, userID, req.Query, searchLimit)
	if err != nil {
		return nil, err
	}
	return s.decorate(ctx, users), nil
}

func (s *Service) SetOnline(ctx context.Context, userID string) error {
	return s.presence.SetOnline(ctx, userID, s.now())
}

func (s *Service) SetOffline(ctx context.Context, userID string) error {
	return s.presence.SetOffline(ctx, userID, s.now())
}

// decorate merges presence into profiles. A presence outage degrades to
// everyone offline rather than failing the lookup.
func (s *Service) decorate(ctx context.Context, users []User) []Profile {
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	presence, err := s.presence.Get(ctx, ids...)
	if err != nil {
		s.log.Warn("presence lookup failed", slog.Any("error", err))
		presence = nil
	}

	profiles := make([]Profile, len(users))
	for i, u := range users {
		profiles[i] = Profile{ID: u.ID, Name: u.Name, Email: u.Email}
		if p, ok := presence[u.ID]; ok {
			profiles[i].IsOnline = p.Online
			if !p.LastSeen.IsZero() {
				seen := p.LastSeen
				profiles[i].LastSeen = &seen
			}
		}
	}
	return profiles
}

// ValidationMessage turns validator errors into one readable line.
func ValidationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "min":
			parts = append(parts, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
		case "max":
			parts = append(parts, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		case "email":
			parts = append(parts, fmt.Sprintf("%s must be a valid email", fe.Field()))
		case "oneof":
			parts = append(parts, fmt.Sprintf("%s must be one of %s", fe.Field(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, ", ")
}

// IsValidation reports whether err came from request validation.
func IsValidation(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs) || errors.Is(err, ErrPasswordMismatch)
}
