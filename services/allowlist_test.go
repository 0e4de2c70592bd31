package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainAllowlistEmptyAllowsAll(t *testing.T) {
	a := NewDomainAllowlist(nil, "")
	assert.Equal(t, 0, a.Len())
	assert.True(t, a.Allows("anyone@anywhere.example"))
}

func TestDomainAllowlistStatic(t *testing.T) {
	a := NewDomainAllowlist([]string{" Example.com ", "@corp.example"}, "")

	tests := []struct {
		email string
		want  bool
	}{
		{"ada@example.com", true},
		{"ada@EXAMPLE.COM", true},
		{"bob@corp.example", true},
		{"eve@evil.example", false},
		{"eve@sub.example.com", false},
		{"no-at-sign", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.Allows(tt.email), tt.email)
	}
}

func TestDomainAllowlistFileReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.txt")
	require.NoError(t, os.WriteFile(path, []byte("# allowed\nexample.com\n"), 0o600))

	a := NewDomainAllowlist([]string{"static.example"}, path)
	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Allows("ada@example.com"))
	assert.False(t, a.Allows("ada@later.example"))

	assert.False(t, a.refresh(), "unchanged file should not reload")

	require.NoError(t, os.WriteFile(path, []byte("example.com, later.example\n"), 0o600))
	assert.True(t, a.refresh())
	assert.True(t, a.Allows("ada@later.example"))
	assert.True(t, a.Allows("ada@static.example"))

	require.NoError(t, os.Remove(path))
	assert.True(t, a.refresh())
	assert.Equal(t, 1, a.Len())
	assert.False(t, a.Allows("ada@example.com"))
}
