package main

import (
	"context"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/NeilG112/LocalLoop/apperr"
)

// UserIDKey is the key type for storing user ID in context
type UserIDKey string

const userIDKey UserIDKey = "userID"

const minPasswordLength = 8

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *credentials) normalize() error {
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Password = strings.TrimSpace(c.Password)
	if c.Email == "" || c.Password == "" {
		return errors.New("missing_fields")
	}
	return nil
}

func registerHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := req.normalize(); err != nil {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}
		if _, err := mail.ParseAddress(req.Email); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_email")
			return
		}
		if len(req.Password) < minPasswordLength {
			writeError(w, http.StatusBadRequest, "weak_password")
			return
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			a.log.Error("hash password", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "hash_error")
			return
		}

		acc, err := a.accounts.CreateAccount(r.Context(), req.Email, string(hashedPassword))
		if err != nil {
			if apperr.IsCode(err, apperr.CodeAlreadyExists) {
				writeError(w, http.StatusConflict, "email_exists")
				return
			}
			writeAppError(w, a.log, err)
			return
		}

		tokenString, err := issueToken(acc.ID, a.tokenTTL)
		if err != nil {
			a.log.Error("sign token", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"token": tokenString, "id": acc.ID})
	}
}

func loginHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req credentials
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
		if err := req.normalize(); err != nil {
			writeError(w, http.StatusBadRequest, "missing_fields")
			return
		}

		acc, err := a.accounts.AccountByEmail(r.Context(), req.Email)
		if apperr.IsCode(err, apperr.CodeNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		} else if err != nil {
			writeAppError(w, a.log, err)
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(req.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		tokenString, err := issueToken(acc.ID, a.tokenTTL)
		if err != nil {
			a.log.Error("sign token", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "token_generation_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"token": tokenString, "id": acc.ID})
	}
}

func issueToken(userID string, ttl time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(ttl).Unix(),
	})
	return token.SignedString(jwtSecret)
}

// parseUserIDFromJWT validates signature and expiry and returns the
// user_id claim.
func parseUserIDFromJWT(tokenStr string) (string, bool) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", false
	}
	id, ok := claims["user_id"].(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

func getUserIDFromBearer(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", false
	}
	return parseUserIDFromJWT(strings.TrimPrefix(auth, "Bearer "))
}

// getUserIDFromRequest also accepts ?token= because browsers cannot set
// headers on websocket upgrades.
func getUserIDFromRequest(r *http.Request) (string, bool) {
	if id, ok := getUserIDFromBearer(r); ok {
		return id, true
	}
	if q := r.URL.Query().Get("token"); q != "" {
		return parseUserIDFromJWT(q)
	}
	return "", false
}

func authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := getUserIDFromBearer(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func currentUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}
