package orchestrator

import (
	"strings"

	"golang.org/x/text/language"
)

var defaultLanguageTags = map[string]string{
	"yo": "yo-NG",
	"ig": "ig-NG",
	"ha": "ha-NG",
	"en": "en-NG",
	"fr": "fr-FR",
	"es": "es-ES",
	"sw": "sw-TZ",
	"zu": "zu-ZA",
}

// LanguageInfo describes a language offered for translation and speech.
type LanguageInfo struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Native string `json:"native"`
}

// Languages is the catalog of supported languages, in display order.
var Languages = []LanguageInfo{
	{Code: "en", Name: "English", Native: "English"},
	{Code: "yo", Name: "Yoruba", Native: "Yorùbá"},
	{Code: "ig", Name: "Igbo", Native: "Igbo"},
	{Code: "ha", Name: "Hausa", Native: "Hausa"},
	{Code: "fr", Name: "French", Native: "Français"},
	{Code: "es", Name: "Spanish", Native: "Español"},
	{Code: "ar", Name: "Arabic", Native: "العربية"},
	{Code: "pt", Name: "Portuguese", Native: "Português"},
	{Code: "sw", Name: "Swahili", Native: "Kiswahili"},
	{Code: "zu", Name: "Zulu", Native: "isiZulu"},
}

// RegionTag maps a short code to its region-qualified tag using tags.
// Codes missing from tags are returned unchanged.
func RegionTag(tags map[string]string, lang string) string {
	if tag, ok := tags[lang]; ok {
		return tag
	}
	return lang
}

// BaseSubtag returns the lowercase primary language subtag of tag.
func BaseSubtag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	if t, err := language.Parse(tag); err == nil {
		if base, conf := t.Base(); conf != language.No {
			return base.String()
		}
	}
	head, _, _ := strings.Cut(strings.ReplaceAll(tag, "_", "-"), "-")
	return strings.ToLower(head)
}
