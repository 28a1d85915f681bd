package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"portfolio-chat/internal/config"
	"portfolio-chat/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const UserContextKey contextKey = "user"

// ErrInvalidCredentials is returned for any failed login
var ErrInvalidCredentials = errors.New("invalid credentials")

type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// SendError sends a standardized JSON error response
func SendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

// Authenticator issues and checks operator tokens for the single configured admin
type Authenticator struct {
	config config.AdminConfig
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator
func NewAuthenticator(adminConfig config.AdminConfig) *Authenticator {
	return &Authenticator{config: adminConfig, now: time.Now}
}

// CheckCredentials verifies username and password against the configured bcrypt hash
func (a *Authenticator) CheckCredentials(username, password string) error {
	if a.config.PasswordHash == "" {
		return ErrInvalidCredentials
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(a.config.Username)) != 1 {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.config.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (a *Authenticator) GenerateToken(username string) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.config.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.config.JWTSecret)
}

func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.config.JWTSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, jwt.ErrSignatureInvalid
}

// LoginHandler authenticates the operator and returns a JWT token
func (a *Authenticator) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		SendError(w, http.StatusMethodNotAllowed, "Method not allowed", nil)
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Username == "" || req.Password == "" {
		SendError(w, http.StatusBadRequest, "Username and password are required", nil)
		return
	}

	if err := a.CheckCredentials(req.Username, req.Password); err != nil {
		logger.Log.WithField("username", req.Username).Warn("Admin login failed")
		SendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := a.GenerateToken(req.Username)
	if err != nil {
		logger.Log.WithError(err).Error("Error generating token")
		SendError(w, http.StatusInternalServerError, "Error generating token", nil)
		return
	}

	logger.Log.WithField("username", req.Username).Info("Admin logged in successfully")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{Token: token})
}

func (a *Authenticator) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			SendError(w, http.StatusUnauthorized, "Missing authorization header", nil)
			return
		}

		bearerToken := strings.Split(authHeader, " ")
		if len(bearerToken) != 2 || bearerToken[0] != "Bearer" {
			SendError(w, http.StatusUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := a.ValidateToken(bearerToken[1])
		if err != nil {
			SendError(w, http.StatusUnauthorized, "Invalid token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}
