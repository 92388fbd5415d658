package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
)

type contextKey string

const DeviceKey contextKey = "device"

// DeviceKeyAuth validates the device key from the Authorization header.
// keys maps device name to its key. An empty map disables the check.
func DeviceKeyAuth(keys map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 || isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			// Support both "Bearer <key>" and "<key>" formats
			key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if key == "" {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			// constant-time compare, jangan bocorkan timing
			var device string
			for name, k := range keys {
				if subtle.ConstantTimeCompare([]byte(key), []byte(k)) == 1 {
					device = name
					break
				}
			}
			if device == "" {
				http.Error(w, "invalid device key", http.StatusUnauthorized)
				return
			}

			if rw, ok := w.(*responseWriter); ok {
				rw.device = device
			}
			ctx := context.WithValue(r.Context(), DeviceKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DeviceKeys turns "name:key" entries into a lookup map. Entries without a
// name are keyed by their index.
func DeviceKeys(entries []string) map[string]string {
	out := make(map[string]string, len(entries))
	for i, e := range entries {
		name, key, ok := strings.Cut(e, ":")
		if !ok {
			name, key = "device-"+strconv.Itoa(i), e
		}
		if key = strings.TrimSpace(key); key != "" {
			out[strings.TrimSpace(name)] = key
		}
	}
	return out
}

// GetDeviceFromContext extracts the authenticated device name.
func GetDeviceFromContext(ctx context.Context) string {
	if d, ok := ctx.Value(DeviceKey).(string); ok {
		return d
	}
	return ""
}

func isPublicPath(p string) bool {
	return p == "/health" || p == "/metrics"
}
