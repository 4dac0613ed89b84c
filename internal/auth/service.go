package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/junseo/bidwatcher/internal/config"
	"github.com/junseo/bidwatcher/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidCreds = errors.New("invalid credentials")
)

type SignupRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	BusinessNo string `json:"business_no,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type Service struct {
	db     *pgxpool.Pool
	secret []byte
	ttl    time.Duration
}

func NewService(db *pgxpool.Pool, cfg config.AuthConfig, log *zap.Logger) (*Service, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate JWT fallback secret: %w", err)
		}
		secret = base64.RawURLEncoding.EncodeToString(buf)
		log.Warn("jwt secret is not set; using ephemeral in-memory fallback secret")
	}
	return &Service{db: db, secret: []byte(secret), ttl: cfg.TokenTTL}, nil
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM users WHERE email = $1 OR username = $2)",
		req.Email, req.Username).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	var user models.User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, business_no)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		RETURNING user_id, username, email, COALESCE(business_no, ''), created_at, updated_at
	`, req.Username, req.Email, string(hash), models.NormalizeBizNo(req.BusinessNo)).Scan(
		&user.UserID, &user.Username, &user.Email, &user.BusinessNo, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	token, err := s.generateToken(user.UserID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{Token: token, User: user}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user models.User
	err := s.db.QueryRow(ctx, `
		SELECT user_id, username, email, password_hash, COALESCE(business_no, ''), created_at, updated_at
		FROM users WHERE email = $1
	`, req.Email).Scan(
		&user.UserID, &user.Username, &user.Email, &user.PasswordHash, &user.BusinessNo, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := s.generateToken(user.UserID)
	if err != nil {
		return nil, err
	}

	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: user}, nil
}

// GetUser loads a user by id; nil when absent.
func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.QueryRow(ctx, `
		SELECT user_id, username, email, COALESCE(business_no, ''), created_at, updated_at
		FROM users WHERE user_id = $1
	`, userID).Scan(&user.UserID, &user.Username, &user.Email, &user.BusinessNo, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Service) generateToken(userID uuid.UUID) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
