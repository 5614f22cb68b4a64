// Package codec turns participant and referrer identifiers into URL-safe
// opaque strings for the web front-end. It is an obfuscation, not encryption.
package codec

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"

	"referral-bot/internal/apperr"
)

var ErrDecode = apperr.New(apperr.KindCodec, "invalid id format")

func Encode(raw string) string {
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode accepts padded and unpadded input.
func Decode(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrDecode
	}
	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		b, err = base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return "", ErrDecode
		}
	}
	if len(b) == 0 || !utf8.Valid(b) {
		return "", ErrDecode
	}
	return string(b), nil
}
