package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortlink/internal/domain"
)

func TestValidateDestination(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		allowPrivate bool
		wantErr      bool
	}{
		{name: "https", raw: "https://example.org/page?q=1", wantErr: false},
		{name: "http with port", raw: "http://example.org:8080/", wantErr: false},
		{name: "surrounding spaces", raw: "  https://example.org  ", wantErr: false},
		{name: "public ip", raw: "http://93.184.216.34/", wantErr: false},
		{name: "no host", raw: "https:///path", wantErr: true},
		{name: "mailto", raw: "mailto:someone@example.org", wantErr: true},
		{name: "too long", raw: "https://example.org/" + strings.Repeat("a", maxURLLength), wantErr: true},
		{name: "ipv6 loopback", raw: "http://[::1]/", wantErr: true},
		{name: "sub.localhost", raw: "http://api.localhost/", wantErr: true},
		{name: "private allowed", raw: "http://192.168.1.1/admin", allowPrivate: true, wantErr: false},
		{name: "private rejected", raw: "http://192.168.1.1/admin", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateDestination(tt.raw, tt.allowPrivate)
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, strings.TrimSpace(tt.raw), got)
		})
	}
}

func TestNormalizeTags(t *testing.T) {
	got, err := NormalizeTags([]string{"Go", " go ", "", "News", "news", "misc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "news", "misc"}, got)

	_, err = NormalizeTags([]string{strings.Repeat("x", maxTagLength+1)})
	assert.ErrorIs(t, err, domain.ErrInvalidTags)

	// duplicates do not count against the limit
	many := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		many = append(many, "same")
	}
	got, err = NormalizeTags(many)
	require.NoError(t, err)
	assert.Equal(t, []string{"same"}, got)
}
