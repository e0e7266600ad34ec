package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/akontos/tradeledger/internal/domain"
)

// Handler handles registration and login
type Handler struct {
	repo        *Repository
	secret      []byte
	tokenExpiry time.Duration
	log         zerolog.Logger
}

// NewHandler creates a new auth handler
func NewHandler(repo *Repository, secret string, tokenExpiry time.Duration, log zerolog.Logger) *Handler {
	return &Handler{
		repo:        repo,
		secret:      []byte(secret),
		tokenExpiry: tokenExpiry,
		log:         log.With().Str("handler", "auth").Logger(),
	}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleRegister handles POST /api/auth/register
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !strings.Contains(creds.Email, "@") || len(creds.Password) < 8 {
		http.Error(w, "Email and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	existing, err := h.repo.GetByEmail(creds.Email)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to look up user")
		http.Error(w, "Registration failed", http.StatusInternalServerError)
		return
	}
	if existing != nil {
		http.Error(w, "Email already registered", http.StatusConflict)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to hash password")
		http.Error(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	user, err := h.repo.Create(creds.Email, string(hash))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create user")
		http.Error(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	h.writeToken(w, user)
}

// HandleLogin handles POST /api/auth/login
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var creds credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := h.repo.GetByEmail(creds.Email)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to look up user")
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)) != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	h.writeToken(w, user)
}

func (h *Handler) writeToken(w http.ResponseWriter, user *domain.User) {
	token, err := h.signToken(user)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to sign token")
		http.Error(w, "Token signing failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse{Token: token})
}

// signToken creates a signed HMAC-SHA256 JWT for the given user.
func (h *Handler) signToken(user *domain.User) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   user.ID,
		"email": user.Email,
		"iss":   "tradeledger",
		"iat":   now.Unix(),
		"exp":   now.Add(h.tokenExpiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(h.secret)
}

// validateToken parses and validates a JWT token string.
func validateToken(tokenString string, secret []byte) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
