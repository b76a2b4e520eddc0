package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// rollEcho writes the roll number found in the context, or "anonymous".
var rollEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	roll, ok := RollFromContext(r.Context())
	if !ok {
		roll = "anonymous"
	}
	_, _ = w.Write([]byte(roll))
})

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Generate("23040401014")
	expired, _ := ts.GenerateWithDuration("23040401014", -time.Second)

	tests := []struct {
		name     string
		setup    func(r *http.Request)
		wantCode int
		wantBody string
	}{
		{
			name:     "cookie",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: valid}) },
			wantCode: http.StatusOK,
			wantBody: "23040401014",
		},
		{
			name:     "bearer header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			wantCode: http.StatusOK,
			wantBody: "23040401014",
		},
		{
			name:     "no token",
			setup:    func(r *http.Request) {},
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "expired token",
			setup:    func(r *http.Request) { r.AddCookie(&http.Cookie{Name: CookieName, Value: expired}) },
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "malformed header",
			setup:    func(r *http.Request) { r.Header.Set("Authorization", "Basic abc") },
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()

			RequireAuth(ts)(rollEcho).ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	ts := newTestTokenService(t)
	valid, _ := ts.Generate("G-000055")

	req := httptest.NewRequest(http.MethodGet, "/api/navigate", nil)
	rec := httptest.NewRecorder()
	OptionalAuth(ts)(rollEcho).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
		t.Errorf("anonymous: status = %d body = %q", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/navigate", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: valid})
	rec = httptest.NewRecorder()
	OptionalAuth(ts)(rollEcho).ServeHTTP(rec, req)
	if rec.Body.String() != "G-000055" {
		t.Errorf("authenticated: body = %q, want %q", rec.Body.String(), "G-000055")
	}
}
