package language

import (
	"errors"
	"strings"

	xlanguage "golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// CrossSystem pairs a content-store language code with the vendor's spelling
// of the same language.
type CrossSystem struct {
	Store  string `json:"sanity"`
	Vendor string `json:"phrase"`
}

// ToVendor converts a content-store code (pt_BR) into the vendor form (pt-BR).
func ToVendor(storeLang string) string {
	return strings.ReplaceAll(strings.TrimSpace(storeLang), "_", "-")
}

// ToStore converts a vendor code (pt-BR) into the content-store form (pt_BR).
func ToStore(vendorLang string) string {
	return strings.ReplaceAll(strings.TrimSpace(vendorLang), "-", "_")
}

// Pair builds the cross-system pair for a content-store language code.
func Pair(storeLang string) CrossSystem {
	return CrossSystem{Store: strings.TrimSpace(storeLang), Vendor: ToVendor(storeLang)}
}

// Equal reports whether two codes name the same language regardless of
// separator and case.
func Equal(a, b string) bool {
	na, nb := NormalizeTag(a), NormalizeTag(b)
	return na != "" && na == nb
}

// NormalizeTag lowercases a code and joins its subtags with "-". Ill-formed
// codes normalize to the empty string; well-formed codes with unknown subtags
// are kept.
func NormalizeTag(raw string) string {
	vendor := strings.ToLower(ToVendor(raw))
	if vendor == "" {
		return ""
	}
	tag, err := xlanguage.Parse(vendor)
	if err != nil {
		var unknown interface{ Subtag() string }
		if !errors.As(err, &unknown) {
			return ""
		}
		return vendor
	}
	return strings.ToLower(tag.String())
}

// Canonical returns the BCP 47 form of a code (pt_br -> pt-BR). Unparseable
// codes are returned trimmed and unchanged.
func Canonical(raw string) string {
	trimmed := strings.TrimSpace(raw)
	tag, err := xlanguage.Parse(ToVendor(trimmed))
	if err != nil {
		return trimmed
	}
	return tag.String()
}

// ReadableName returns the English display name of a code, falling back to
// the code itself.
func ReadableName(raw string) string {
	tag, err := xlanguage.Parse(ToVendor(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return strings.TrimSpace(raw)
	}
	return name
}
