package httpx_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/sessiond/pkg/httpx"
	"github.com/aussiebroadwan/sessiond/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), tag("first"), tag("second"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"first", "second", "handler"}, order)
}

func newCodec(t *testing.T, now func() time.Time) *jwtx.Codec {
	t.Helper()
	codec, err := jwtx.NewCodec(jwtx.CodecOptions{
		AccessSecret:  []byte("access-secret-for-tests-0123456789"),
		RefreshSecret: []byte("refresh-secret-for-tests-012345678"),
		Issuer:        "sessiond-test",
		Now:           now,
	})
	require.NoError(t, err)
	return codec
}

func TestAuthnMiddleware(t *testing.T) {
	codec := newCodec(t, nil)

	var gotUser string
	var gotRoles []int
	protected := httpx.AuthnMiddleware(codec)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = httpx.UserIDFromContext(r.Context())
		gotRoles = httpx.RoleIDsFromContext(r.Context())
		claims, ok := httpx.ClaimsFromContext(r.Context())
		require.True(t, ok)
		require.Equal(t, gotUser, claims.UserID())
		w.WriteHeader(http.StatusOK)
	}))

	call := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/logout-all", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		protected.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid token", func(t *testing.T) {
		access, err := codec.IssueAccess("user-1", []int{2, 5})
		require.NoError(t, err)

		rec := call("Bearer " + access)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "user-1", gotUser)
		require.Equal(t, []int{2, 5}, gotRoles)
	})

	t.Run("missing header", func(t *testing.T) {
		rec := call("")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "missing bearer token")
		require.Contains(t, rec.Body.String(), "invalid_token")
	})

	t.Run("wrong scheme", func(t *testing.T) {
		rec := call("Basic dXNlcjpwYXNz")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		refresh, err := codec.IssueRefresh("user-1", "laptop", "")
		require.NoError(t, err)

		rec := call("Bearer " + refresh)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "token verification failed")
	})

	t.Run("expired token", func(t *testing.T) {
		stale := newCodec(t, func() time.Time { return time.Now().Add(-time.Hour) })
		access, err := stale.IssueAccess("user-1", nil)
		require.NoError(t, err)

		rec := call("Bearer " + access)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "token expired")
	})
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Email string `json:"email"`
	}

	tests := []struct {
		name        string
		contentType string
		payload     string
		wantErr     error
	}{
		{"ok", "application/json", `{"email":"a@b.c"}`, nil},
		{"ok with charset", "application/json; charset=utf-8", `{"email":"a@b.c"}`, nil},
		{"no content type", "", `{"email":"a@b.c"}`, nil},
		{"form body", "application/x-www-form-urlencoded", `email=a`, httpx.ErrUnsupportedMediaType},
		{"unknown field", "application/json", `{"email":"a","admin":true}`, httpx.ErrMalformedBody},
		{"trailing data", "application/json", `{"email":"a"}{"email":"b"}`, httpx.ErrMalformedBody},
		{"empty", "application/json", ``, httpx.ErrMalformedBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			var got body
			err := httpx.DecodeJSON(httptest.NewRecorder(), req, &got)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "a@b.c", got.Email)
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	httpx.WriteError(rec, http.StatusServiceUnavailable, "service_unavailable", "try later")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.JSONEq(t, `{"error":"service_unavailable","error_description":"try later"}`, rec.Body.String())
}
