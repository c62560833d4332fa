// Package middleware содержит HTTP middleware: восстановление после
// паник, логирование запросов, CORS и аутентификацию оператора.
package middleware

import (
	"net/http"
	"strings"

	"gridbot/pkg/crypto"
)

// Auth проверяет токен оператора из заголовка Authorization
//
// Токен сравнивается с bcrypt-хешем из конфигурации. Если хеш не
// задан, аутентификация отключена - режим локального развертывания
// для одного пользователя.
//
// Формат заголовка: Authorization: Bearer <token>
func Auth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			token := strings.TrimPrefix(header, "Bearer ")
			if token == header || token == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := crypto.VerifyToken(token, tokenHash); err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
