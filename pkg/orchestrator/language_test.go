package orchestrator

import "testing"

func TestRegionTag(t *testing.T) {
	tags := DefaultConfig().LanguageTags
	tests := map[string]string{
		"yo": "yo-NG",
		"ig": "ig-NG",
		"ha": "ha-NG",
		"en": "en-NG",
		"fr": "fr-FR",
		"es": "es-ES",
		"sw": "sw-TZ",
		"zu": "zu-ZA",
		"ar": "ar",
		"pt": "pt",
	}
	for in, want := range tests {
		if got := RegionTag(tags, in); got != want {
			t.Errorf("RegionTag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBaseSubtag(t *testing.T) {
	tests := map[string]string{
		"yo-NG": "yo",
		"en_GB": "en",
		"FR-fr": "fr",
		"zu":    "zu",
		"":      "",
		" ":     "",
	}
	for in, want := range tests {
		if got := BaseSubtag(in); got != want {
			t.Errorf("BaseSubtag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLanguagesCatalog(t *testing.T) {
	seen := map[string]bool{}
	for _, l := range Languages {
		if l.Code == "" || l.Name == "" || l.Native == "" {
			t.Errorf("Incomplete language entry %+v", l)
		}
		if seen[l.Code] {
			t.Errorf("Duplicate language code %s", l.Code)
		}
		seen[l.Code] = true
	}
	for code := range DefaultConfig().LanguageTags {
		if !seen[code] {
			t.Errorf("Mapped language %s missing from catalog", code)
		}
	}
}
