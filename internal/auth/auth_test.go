package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/internal/domain"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(accountID int64, tier string) Claims {
	now := time.Now()
	return Claims{
		AccountID: accountID,
		Tier:      tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accounts",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestJWTService_ValidateToken(t *testing.T) {
	svc := NewJWTService(&config.Auth{JWTSecret: testSecret, Issuer: "accounts"})

	expired := validClaims(1, "free")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	noExpiry := validClaims(1, "free")
	noExpiry.ExpiresAt = nil

	otherIssuer := validClaims(1, "free")
	otherIssuer.Issuer = "someone-else"

	tests := []struct {
		name    string
		token   string
		want    *Principal
		wantErr error
	}{
		{
			name:  "free tier",
			token: sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(7, "free")),
			want:  &Principal{AccountID: 7, Tier: domain.TierFree},
		},
		{
			name:  "premium tier",
			token: sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(8, "premium")),
			want:  &Principal{AccountID: 8, Tier: domain.TierPremium},
		},
		{
			name:    "expired",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
			wantErr: ErrExpiredToken,
		},
		{
			name:    "missing expiry",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong secret",
			token:   sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims(7, "free")),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong algorithm",
			token:   sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims(7, "free")),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "wrong issuer",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), otherIssuer),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "unknown tier",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(7, "platinum")),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "missing account",
			token:   sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(0, "free")),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "garbage",
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := svc.ValidateToken(tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractTokenFromBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractTokenFromBearer("Bearer abc"))
	assert.Equal(t, "", ExtractTokenFromBearer("Bearer "))
	assert.Equal(t, "", ExtractTokenFromBearer("Basic abc"))
	assert.Equal(t, "", ExtractTokenFromBearer(""))
}

func TestMiddleware_RequireAuth(t *testing.T) {
	svc := NewJWTService(&config.Auth{JWTSecret: testSecret})
	m := NewMiddleware(svc, nil, zap.NewNop())

	var got *Principal
	h := m.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{name: "no header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims(3, "admin")), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, "/api/links", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.NotNil(t, got)
				assert.Equal(t, int64(3), got.AccountID)
				assert.Equal(t, domain.TierAdmin, got.Tier)
			} else {
				assert.Nil(t, got)
				assert.Contains(t, rec.Body.String(), `"error"`)
			}
		})
	}
}

func TestMiddleware_CORS(t *testing.T) {
	m := NewMiddleware(NewJWTService(&config.Auth{JWTSecret: testSecret}), []string{"https://app.example"}, zap.NewNop())
	h := m.CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }))

	req := httptest.NewRequest(http.MethodOptions, "/api/links", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/links", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
