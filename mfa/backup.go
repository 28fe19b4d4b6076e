package mfa

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// DefaultBackupCodeCount is the number of single-use recovery codes issued
// alongside MFA setup.
const DefaultBackupCodeCount = 10

const backupCodeBytes = 4 // 8 hex digits

// newBackupCodes generates count recovery codes, returning both the
// user-facing formatted codes and their storage hashes. The plaintext is
// never persisted.
func newBackupCodes(userID string, count int) ([]string, [][32]byte, error) {
	plain := make([]string, 0, count)
	hashes := make([][32]byte, 0, count)

	for i := 0; i < count; i++ {
		raw := make([]byte, backupCodeBytes)
		if _, err := rand.Read(raw); err != nil {
			return nil, nil, err
		}
		canonical := strings.ToUpper(hex.EncodeToString(raw))
		plain = append(plain, FormatBackupCode(canonical))
		hashes = append(hashes, BackupCodeHash(userID, canonical))
	}

	return plain, hashes, nil
}

// FormatBackupCode renders a canonical 8-hex-digit code as XXXX-XXXX.
func FormatBackupCode(canonical string) string {
	if len(canonical) != 2*backupCodeBytes {
		return canonical
	}
	return canonical[:4] + "-" + canonical[4:]
}

// CanonicalizeBackupCode uppercases the input and strips separators so
// user-entered variants ("ab12-cd34", "AB12 CD34") match the stored form.
func CanonicalizeBackupCode(code string) string {
	var b strings.Builder
	b.Grow(len(code))
	for _, r := range strings.ToUpper(strings.TrimSpace(code)) {
		switch {
		case r >= '0' && r <= '9', r >= 'A' && r <= 'F':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BackupCodeHash binds the code to its owner so a hash leaked from one
// account cannot be replayed against another.
func BackupCodeHash(userID, canonical string) [32]byte {
	return sha256.Sum256([]byte(userID + ":" + canonical))
}
