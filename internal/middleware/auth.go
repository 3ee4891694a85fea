// Package middleware содержит HTTP middleware маркетплейса доставки еды.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const actorIDKey contextKey = "actorID"

const (
	actorCookieName = "actor_token"
	actorCookieTTL  = 365 * 24 * time.Hour
)

// ActorMiddleware проверяет подписанный cookie с идентификатором актора.
// Выпуск токенов принадлежит внешней системе аутентификации с тем же
// секретом; здесь токен только проверяется.
type ActorMiddleware struct {
	secretKey []byte
}

// NewActorMiddleware создаёт новый экземпляр ActorMiddleware с указанным секретным ключом.
func NewActorMiddleware(secret string) *ActorMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &ActorMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie актора и добавляет его идентификатор в контекст запроса.
func (a *ActorMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(actorCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		actorID, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), actorIDKey, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SetActorCookie устанавливает cookie для указанного идентификатора актора.
func (a *ActorMiddleware) SetActorCookie(w http.ResponseWriter, actorID int64) {
	value := a.signActorID(strconv.FormatInt(actorID, 10))

	cookie := &http.Cookie{
		Name:     actorCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(actorCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

func (a *ActorMiddleware) signActorID(idStr string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(idStr))
	signature := mac.Sum(nil)
	return idStr + "." + hex.EncodeToString(signature)
}

func (a *ActorMiddleware) parseCookie(cookieValue string) (int64, bool) {
	parts := strings.Split(cookieValue, ".")
	if len(parts) != 2 {
		return 0, false
	}

	idStr := parts[0]
	signature := parts[1]

	expected := a.signActorID(idStr)
	expectedParts := strings.Split(expected, ".")
	if len(expectedParts) != 2 {
		return 0, false
	}

	if !hmac.Equal([]byte(signature), []byte(expectedParts[1])) {
		return 0, false
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, false
	}

	return id, true
}

// GetActorIDFromContext извлекает идентификатор актора из контекста запроса.
func GetActorIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(actorIDKey).(int64)
	return id, ok
}
