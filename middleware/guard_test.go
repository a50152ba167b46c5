package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deskflow/authcore"
)

type stubValidator struct {
	res *authcore.AuthResult
	err error
	got string
}

func (s *stubValidator) ValidateAccess(_ context.Context, token string) (*authcore.AuthResult, error) {
	s.got = token
	return s.res, s.err
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res, ok := AuthResultFromContext(r.Context())
		if !ok {
			t.Fatalf("expected auth result in context")
		}
		_, _ = w.Write([]byte(res.IdentityID))
	})
}

func TestGuardStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		header string
		v      *stubValidator
		want   int
	}{
		{"missing header", "", &stubValidator{}, http.StatusUnauthorized},
		{"not bearer", "Basic abc", &stubValidator{}, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", &stubValidator{}, http.StatusUnauthorized},
		{"expired", "Bearer tok", &stubValidator{err: authcore.ErrTokenExpired}, http.StatusUnauthorized},
		{"inactive", "Bearer tok", &stubValidator{err: authcore.ErrAccountInactive}, http.StatusUnauthorized},
		{"backend down", "Bearer tok", &stubValidator{err: authcore.ErrUnavailable}, http.StatusServiceUnavailable},
		{"valid", "Bearer tok", &stubValidator{res: &authcore.AuthResult{IdentityID: "u1", Role: "user"}}, http.StatusOK},
		{"lower-case scheme", "bearer tok", &stubValidator{res: &authcore.AuthResult{IdentityID: "u1"}}, http.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			Guard(tc.v)(okHandler(t)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("status=%d want %d", rec.Code, tc.want)
			}
			if tc.want == http.StatusOK && tc.v.got != "tok" {
				t.Fatalf("validator got token %q", tc.v.got)
			}
		})
	}
}

func TestGuardNilValidator(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	Guard(nil)(okHandler(t)).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole("admin")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status=%d", rec.Code)
	}

	req = req.WithContext(WithAuthResult(req.Context(), &authcore.AuthResult{IdentityID: "u1", Role: "user"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong role status=%d", rec.Code)
	}

	req = req.WithContext(WithAuthResult(req.Context(), &authcore.AuthResult{IdentityID: "u1", Role: "admin"}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin status=%d", rec.Code)
	}
}
