package storage

import (
	"strings"

	"github.com/google/uuid"
)

// Wire identifiers arrive in two forms: the prefixed form the server
// generates ("site_<uuid>", "op_<uuid>") and the bare UUID older headset
// builds send. Normalisation canonicalises both to the prefixed form.
// Everything else is rejected.

// NewSiteID mints a canonical site identifier.
func NewSiteID() string {
	return "site_" + uuid.New().String()
}

// NewOperatorID mints a canonical operator identifier.
func NewOperatorID() string {
	return "op_" + uuid.New().String()
}

// NormalizeSiteID returns the canonical form of a site identifier and
// whether the input was one of the two accepted forms.
func NormalizeSiteID(raw string) (string, bool) {
	return normalizePrefixedID(raw, "site_")
}

// NormalizeOperatorID returns the canonical form of an operator identifier
// and whether the input was one of the two accepted forms.
func NormalizeOperatorID(raw string) (string, bool) {
	return normalizePrefixedID(raw, "op_")
}

func normalizePrefixedID(raw, prefix string) (string, bool) {
	id := strings.TrimPrefix(strings.TrimSpace(raw), prefix)
	// Only the plain hyphenated UUID form is accepted; urn: and braced
	// variants are not part of the wire format.
	if len(id) != 36 {
		return "", false
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return prefix + parsed.String(), true
}
