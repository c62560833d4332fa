package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"gridbot/pkg/crypto"
)

func TestAuth(t *testing.T) {
	hash, err := crypto.HashToken("operator-token")
	if err != nil {
		t.Fatalf("HashToken failed: %v", err)
	}

	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		tokenHash  string
		header     string
		wantStatus int
	}{
		{"disabled when hash empty", "", "", http.StatusOK},
		{"valid token", hash, "Bearer operator-token", http.StatusOK},
		{"wrong token", hash, "Bearer wrong-token", http.StatusUnauthorized},
		{"missing header", hash, "", http.StatusUnauthorized},
		{"no bearer prefix", hash, "operator-token", http.StatusUnauthorized},
		{"empty bearer token", hash, "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Auth(tt.tokenHash)(okHandler)

			req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
