package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// BackupCodeCount is how many recovery codes are issued when MFA is enabled.
const BackupCodeCount = 10

var backupCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateBackupCodes returns count single-use recovery codes formatted
// XXXX-XXXX-XXXX-XXXX.
func GenerateBackupCodes(count int) ([]string, error) {
	if count <= 0 || count > 20 {
		return nil, fmt.Errorf("invalid backup code count: %d (must be 1-20)", count)
	}

	codes := make([]string, count)
	for i := range codes {
		// 10 bytes = 80 bits, exactly 16 base32 characters
		raw := make([]byte, 10)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("failed to generate backup code %d: %w", i, err)
		}
		codes[i] = FormatBackupCode(backupCodeEncoding.EncodeToString(raw))
	}
	return codes, nil
}

// HashBackupCode derives the stored form of a code. The salt is fixed so that
// a presented code can be matched by equality in SQL.
func HashBackupCode(code string) []byte {
	salt := sha256.Sum256([]byte("authapi_backup_code_salt_v1"))
	return argon2.IDKey([]byte(NormalizeBackupCode(code)), salt[:], 3, 64*1024, 4, 32)
}

// HashBackupCodes hashes every code in order.
func HashBackupCodes(codes []string) [][]byte {
	hashes := make([][]byte, len(codes))
	for i, code := range codes {
		hashes[i] = HashBackupCode(code)
	}
	return hashes
}

// NormalizeBackupCode strips dashes and spaces and upper-cases.
func NormalizeBackupCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// FormatBackupCode renders a 16 character code in groups of four. Anything
// else is returned unchanged.
func FormatBackupCode(code string) string {
	clean := NormalizeBackupCode(code)
	if len(clean) != 16 {
		return code
	}
	return clean[0:4] + "-" + clean[4:8] + "-" + clean[8:12] + "-" + clean[12:16]
}
