package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "short ascii", in: "hello", limit: 10, want: "hello"},
		{name: "ascii at limit", in: "hello", limit: 5, want: "hello"},
		{name: "ascii over limit", in: "hello world", limit: 5, want: "hello"},
		{name: "cyrillic split", in: strings.Repeat("ж", 200), limit: 255, want: strings.Repeat("ж", 127)},
		{name: "cyrillic even cut", in: strings.Repeat("ж", 200), limit: 254, want: strings.Repeat("ж", 127)},
		{name: "four byte rune", in: "ab😀", limit: 5, want: "ab"},
		{name: "invalid bytes repaired", in: "a\xffb", limit: 0, want: "a�b"},
		{name: "invalid bytes then cut", in: "a\xff\xfeb", limit: 4, want: "a�"},
		{name: "empty", in: "", limit: 3, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
			if tt.limit > 0 {
				assert.LessOrEqual(t, len(got), tt.limit)
			}
		})
	}
}
