package service

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	apperrors "shelfshare/internal/errors"
)

// MaxBookFieldLength bounds title and author in runes.
const MaxBookFieldLength = 255

var folder = cases.Fold()

// IdentityKey returns the normalized (title, author) key used to detect
// duplicate catalog items. Matching ignores case, surrounding whitespace and
// runs of inner whitespace; stored titles keep their original case.
//
// The key is the hex SHA-256 of both folded fields, each prefixed with its
// byte length, so distinct pairs never share a key whatever the fields contain
// and the stored key has a fixed width.
func IdentityKey(title, author string) string {
	h := sha256.New()
	var prefix [binary.MaxVarintLen64]byte
	for _, field := range [...]string{foldField(title), foldField(author)} {
		n := binary.PutUvarint(prefix[:], uint64(len(field)))
		h.Write(prefix[:n])
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func foldField(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Join(strings.FieldsFunc(s, isBlank), " ")
	return folder.String(s)
}

func isBlank(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsControl(r)
}

// checkBookText validates a trimmed title or author.
func checkBookText(field, v string) error {
	if utf8.RuneCountInString(v) > MaxBookFieldLength {
		return apperrors.ValidationWithDetails("invalid book", map[string]string{
			field: "must be at most 255 characters",
		})
	}
	if strings.IndexFunc(v, unicode.IsControl) >= 0 {
		return apperrors.ValidationWithDetails("invalid book", map[string]string{
			field: "must not contain control characters",
		})
	}
	return nil
}

// trimOptional trims a value that may be absent.
func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// normalizeEmail lowercases and trims an email for storage and lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
