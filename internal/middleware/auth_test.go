package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bryanwahyu/qr-biometric/internal/middleware"
)

func echoDevice() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(middleware.GetDeviceFromContext(r.Context())))
	})
}

func TestDeviceKeys(t *testing.T) {
	keys := middleware.DeviceKeys([]string{"kiosk: abc ", "lonely", "empty:", " door :xyz"})
	assert.Equal(t, map[string]string{
		"kiosk":    "abc",
		"device-1": "lonely",
		"door":     "xyz",
	}, keys)
}

func TestDeviceKeyAuth(t *testing.T) {
	h := middleware.DeviceKeyAuth(map[string]string{"kiosk": "s3cret"})(echoDevice())

	testCases := []struct {
		name   string
		path   string
		header string
		code   int
		body   string
	}{
		{"bearer", "/v1/scans", "Bearer s3cret", http.StatusOK, "kiosk"},
		{"raw key", "/v1/scans", "s3cret", http.StatusOK, "kiosk"},
		{"missing", "/v1/scans", "", http.StatusUnauthorized, ""},
		{"blank bearer", "/v1/scans", "Bearer ", http.StatusUnauthorized, ""},
		{"wrong", "/v1/scans", "Bearer nope", http.StatusUnauthorized, ""},
		{"health is public", "/health", "", http.StatusOK, ""},
		{"metrics is public", "/metrics", "", http.StatusOK, ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
			if tc.code == http.StatusOK {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestDeviceKeyAuth_DisabledWithoutKeys(t *testing.T) {
	h := middleware.DeviceKeyAuth(nil)(echoDevice())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/scans", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}
