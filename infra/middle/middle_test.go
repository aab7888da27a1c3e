package middle

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"
)

func TestAuthMiddleware(t *testing.T) {
	// Set test API key
	os.Setenv("API_KEY", "test-api-key")
	defer os.Unsetenv("API_KEY")

	middleware := AuthMiddleware()

	// Test handler
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}))

	tests := []struct {
		name           string
		authHeader     string
		expectedStatus int
	}{
		{
			name:           "Valid API key",
			authHeader:     "Bearer test-api-key",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Invalid API key",
			authHeader:     "Bearer wrong-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Missing Authorization header",
			authHeader:     "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid format",
			authHeader:     "Basic test-api-key",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Empty Bearer token",
			authHeader:     "Bearer ",
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   2,
		window:  time.Second,
	}

	key := "stripe|192.168.1.1"

	if !rl.Allow(key) {
		t.Error("First request should be allowed")
	}
	if !rl.Allow(key) {
		t.Error("Second request should be allowed")
	}
	if rl.Allow(key) {
		t.Error("Third request should be blocked")
	}

	// another provider behind the same egress IP keeps its own budget
	if !rl.Allow("paypal|192.168.1.1") {
		t.Error("Different provider key should be allowed")
	}

	// the window resets
	time.Sleep(time.Second + 100*time.Millisecond)
	if !rl.Allow(key) {
		t.Error("Request after window should be allowed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   1,
		window:  time.Second,
	}

	middleware := RateLimitMiddleware(rl)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}))

	req1 := httptest.NewRequest("POST", "/webhooks/stripe", nil)
	req1.RemoteAddr = "192.168.1.1:12345"
	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req1)

	if rr1.Code != http.StatusOK {
		t.Errorf("First request should succeed, got status %d", rr1.Code)
	}

	// a new connection from the same IP shares the bucket
	req2 := httptest.NewRequest("POST", "/webhooks/stripe", nil)
	req2.RemoteAddr = "192.168.1.1:12346"
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)

	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request should be rate limited, got status %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on rejection")
	}
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	middleware := SecurityHeadersMiddleware()
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options":    "nosniff",
		"X-Frame-Options":           "DENY",
		"X-XSS-Protection":          "1; mode=block",
		"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
		"Referrer-Policy":           "strict-origin-when-cross-origin",
	}

	for header, expectedValue := range expectedHeaders {
		if rr.Header().Get(header) != expectedValue {
			t.Errorf("Expected %s: %s, got: %s", header, expectedValue, rr.Header().Get(header))
		}
	}
}

func TestIPWhitelistMiddleware(t *testing.T) {
	// Test with whitelist enabled
	os.Setenv("IP_WHITELIST", "127.0.0.1,192.168.1.100")
	defer os.Unsetenv("IP_WHITELIST")

	middleware := IPWhitelistMiddleware()
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}))

	tests := []struct {
		name           string
		clientIP       string
		expectedStatus int
	}{
		{
			name:           "Whitelisted IP",
			clientIP:       "127.0.0.1",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Another whitelisted IP",
			clientIP:       "192.168.1.100",
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Non-whitelisted IP",
			clientIP:       "10.0.0.50",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.clientIP + ":12345"

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestRequestValidationMiddleware(t *testing.T) {
	middleware := RequestValidationMiddleware()
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	}))

	tests := []struct {
		name           string
		method         string
		path           string
		contentType    string
		contentLength  int64
		expectedStatus int
	}{
		{
			name:           "Valid JSON POST",
			method:         "POST",
			path:           "/test",
			contentType:    "application/json",
			contentLength:  100,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Form POST to webhook endpoint",
			method:         "POST",
			path:           "/webhooks/paypal",
			contentType:    "application/x-www-form-urlencoded",
			contentLength:  100,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Form POST to API endpoint",
			method:         "POST",
			path:           "/test",
			contentType:    "application/x-www-form-urlencoded",
			contentLength:  100,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "GET request without content type",
			method:         "GET",
			path:           "/test",
			contentType:    "",
			contentLength:  0,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST with unsupported content type",
			method:         "POST",
			path:           "/test",
			contentType:    "text/plain",
			contentLength:  100,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "Request too large",
			method:         "POST",
			path:           "/test",
			contentType:    "application/json",
			contentLength:  11 * 1024 * 1024, // 11MB
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("test body"))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			req.ContentLength = tt.contentLength

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d", tt.expectedStatus, rr.Code)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	middleware := RequestIDMiddleware()

	var seenID string
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))

	// Generated when absent
	req := httptest.NewRequest("GET", "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seenID == "" {
		t.Error("Expected request ID to be generated")
	}
	if rr.Header().Get("X-Request-ID") != seenID {
		t.Error("Expected request ID to be echoed in response")
	}

	// Preserved when present
	req2 := httptest.NewRequest("GET", "/test", nil)
	req2.Header.Set("X-Request-ID", "existing-id")
	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req2)

	if seenID != "existing-id" {
		t.Errorf("Expected existing request ID to be preserved, got %q", seenID)
	}
	if rr2.Header().Get("X-Request-ID") != "existing-id" {
		t.Error("Expected existing request ID to be echoed in response")
	}
}
