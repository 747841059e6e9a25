package language

import "testing"

func TestNormalizeTag(t *testing.T) {
	t.Parallel()

	if got := NormalizeTag(" PT_br "); got != "pt-br" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("es_419"); got != "es-419" {
		t.Fatalf("unexpected normalized tag: %q", got)
	}
	if got := NormalizeTag("en--US"); got != "" {
		t.Fatalf("expected empty subtag to be rejected, got %q", got)
	}
	if got := NormalizeTag("1en"); got != "" {
		t.Fatalf("expected invalid tag to normalize to empty string, got %q", got)
	}
}

func TestVendorStoreConversion(t *testing.T) {
	t.Parallel()

	if got := ToVendor("pt_BR"); got != "pt-BR" {
		t.Fatalf("unexpected vendor code: %q", got)
	}
	if got := ToStore("pt-BR"); got != "pt_BR" {
		t.Fatalf("unexpected store code: %q", got)
	}
	pair := Pair("zh_Hant_TW")
	if pair.Store != "zh_Hant_TW" || pair.Vendor != "zh-Hant-TW" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	if ToStore(ToVendor("en_GB")) != "en_GB" {
		t.Fatalf("conversion is not reversible")
	}
}

func TestEqualIgnoresSeparatorAndCase(t *testing.T) {
	t.Parallel()

	if !Equal("pt_BR", "pt-br") {
		t.Fatalf("expected pt_BR and pt-br to be equal")
	}
	if Equal("pt", "pt-br") {
		t.Fatalf("expected pt and pt-br to differ")
	}
	if Equal("", "") {
		t.Fatalf("blank codes must never match")
	}
}

func TestCanonicalAndReadableName(t *testing.T) {
	t.Parallel()

	if got := Canonical("pt_br"); got != "pt-BR" {
		t.Fatalf("unexpected canonical code: %q", got)
	}
	if got := ReadableName("fr"); got != "French" {
		t.Fatalf("unexpected readable name: %q", got)
	}
	if got := ReadableName("%%"); got != "%%" {
		t.Fatalf("unexpected fallback name: %q", got)
	}
}
