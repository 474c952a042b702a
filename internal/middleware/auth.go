package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const ConversationIDKey contextKey = "conversation_id"

// WidgetAuth issues and validates the anonymous widget tokens that bind
// a browser to its conversation. There are no user accounts; the token
// only proves the caller minted this conversation id here.
type WidgetAuth struct {
	Secret []byte
}

func NewWidgetAuth(secret string) *WidgetAuth {
	return &WidgetAuth{Secret: []byte(secret)}
}

// GenerateWidgetToken creates a long-lived token for one conversation.
// Widgets live in anonymous browser sessions, so the expiry matches the
// storage TTL rather than a login session.
func (a *WidgetAuth) GenerateWidgetToken(conversationID string) (string, error) {
	claims := jwt.MapClaims{
		"conversation_id": conversationID,
		"exp":             time.Now().Add(30 * 24 * time.Hour).Unix(),
		"iat":             time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.Secret)
}

// Middleware validates the widget token and attaches its conversation id
// to the request context.
func (a *WidgetAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authorization header", r)
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format", r)
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.Secret, nil
		})
		if err != nil {
			if strings.Contains(err.Error(), "expired") {
				writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
			} else {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
			}
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token claims", r)
			return
		}

		conversationID, ok := claims["conversation_id"].(string)
		if !ok || conversationID == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid conversation id in token", r)
			return
		}

		ctx := context.WithValue(r.Context(), ConversationIDKey, conversationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetConversationID extracts the conversation id from request context.
func GetConversationID(ctx context.Context) string {
	id, _ := ctx.Value(ConversationIDKey).(string)
	return id
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
