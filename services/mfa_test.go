package services

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var backupCodePattern = regexp.MustCompile(`^[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}-[A-Z2-7]{4}$`)

func TestGenerateBackupCodes(t *testing.T) {
	codes, err := GenerateBackupCodes(BackupCodeCount)
	require.NoError(t, err)
	require.Len(t, codes, BackupCodeCount)

	seen := make(map[string]bool)
	for _, code := range codes {
		assert.Regexp(t, backupCodePattern, code)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestGenerateBackupCodesRejectsBadCount(t *testing.T) {
	for _, n := range []int{0, -1, 21} {
		_, err := GenerateBackupCodes(n)
		assert.Error(t, err, "count %d", n)
	}
}

func TestHashBackupCodeNormalizes(t *testing.T) {
	want := HashBackupCode("ABCD-EFGH-IJKL-MNOP")
	assert.Len(t, want, 32)
	assert.Equal(t, want, HashBackupCode("abcdefghijklmnop"))
	assert.Equal(t, want, HashBackupCode("abcd efgh ijkl mnop"))
	assert.NotEqual(t, want, HashBackupCode("ABCD-EFGH-IJKL-MNOQ"))

	hashes := HashBackupCodes([]string{"ABCD-EFGH-IJKL-MNOP", "QRST-UVWX-YZ23-4567"})
	require.Len(t, hashes, 2)
	assert.Equal(t, want, hashes[0])
}

func TestFormatBackupCode(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abcdefghijklmnop", "ABCD-EFGH-IJKL-MNOP"},
		{"ABCD-EFGH-IJKL-MNOP", "ABCD-EFGH-IJKL-MNOP"},
		{"short", "short"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBackupCode(tt.in))
	}
	assert.Equal(t, "ABCDEFGH", NormalizeBackupCode("ab-cd ef-gh"))
}
