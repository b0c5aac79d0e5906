// Package qr validates and builds the game's scanned QR payloads.
//
// A payload is the ASCII string "GameQrcodeFach:<category>:<uuid>" where the
// category is one of the three color tokens and the uuid is a 36-character
// RFC-4122 textual UUID (case-insensitive). Validation is a pure anchored
// match; anything else is rejected.
package qr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/qrmaster/internal/domain"
)

// Prefix is the literal marker every game QR code starts with.
const Prefix = "GameQrcodeFach"

var payloadRe = regexp.MustCompile(
	`^GameQrcodeFach:(verde|laranja|vermelho):([0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12})$`,
)

// Payload is the parsed content of a valid game QR code.
type Payload struct {
	Category domain.Category
	ID       string
}

// Points returns the point value awarded for scanning this payload.
func (p Payload) Points() int {
	return p.Category.Points()
}

// Validate parses raw against the payload grammar. It performs no I/O.
// Scan ids are normalized to lower case so the per-team uniqueness check is
// case-insensitive.
func Validate(raw string) (Payload, error) {
	m := payloadRe.FindStringSubmatch(raw)
	if m == nil {
		return Payload{}, domain.ErrInvalidFormat
	}
	return Payload{
		Category: domain.Category(m[1]),
		ID:       strings.ToLower(m[2]),
	}, nil
}

// Encode builds the payload string for a category and scan id. Used by the
// operator tool to emit printable QR code batches.
func Encode(category domain.Category, id string) string {
	return fmt.Sprintf("%s:%s:%s", Prefix, category, strings.ToLower(id))
}
