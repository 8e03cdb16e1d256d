// Package langmeta resolves the target language setting, given either as
// a BCP 47 code ("pt_BR") or as an English name ("Portuguese"), into the
// names used in prompts and in the CLI.
package langmeta

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Meta describes a resolved target language.
type Meta struct {
	// Code is the canonical BCP 47 tag, empty when lang was not recognized.
	Code string
	// Name is the English display name sent to the model.
	Name string
	// Native is the name of the language in itself.
	Native string
	// Flag is the emoji flag of the most likely region.
	Flag string
}

// named lists the languages that can be given by their English name.
var named = []language.Tag{
	language.Arabic, language.Bulgarian, language.Czech, language.Danish,
	language.German, language.Greek, language.English, language.Spanish,
	language.Estonian, language.Persian, language.Finnish, language.French,
	language.Hebrew, language.Hindi, language.Croatian, language.Hungarian,
	language.Indonesian, language.Italian, language.Japanese, language.Korean,
	language.Lithuanian, language.Latvian, language.Malay, language.Dutch,
	language.Norwegian, language.Polish, language.Portuguese,
	language.BrazilianPortuguese, language.Romanian, language.Russian,
	language.Slovak, language.Slovenian, language.Serbian, language.Swedish,
	language.Thai, language.Turkish, language.Ukrainian, language.Vietnamese,
	language.Chinese, language.SimplifiedChinese, language.TraditionalChinese,
}

func canonicalize(lang string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	if normalized == "" {
		return ""
	}
	parts := strings.Split(normalized, "-")
	parts[0] = strings.ToLower(parts[0])
	if len(parts) >= 2 {
		parts[1] = strings.ToUpper(parts[1])
	}
	return strings.Join(parts, "-")
}

// Resolve returns metadata for a language code or English language name.
// Unknown values pass through as Name.
func Resolve(lang string) Meta {
	if tag, err := language.Parse(canonicalize(lang)); err == nil && tag != language.Und {
		return describe(tag)
	}
	want := strings.TrimSpace(lang)
	for _, tag := range named {
		if strings.EqualFold(display.English.Tags().Name(tag), want) ||
			strings.EqualFold(display.Self.Name(tag), want) {
			return describe(tag)
		}
	}
	return Meta{Name: lang}
}

func describe(tag language.Tag) Meta {
	m := Meta{
		Code:   tag.String(),
		Name:   display.English.Tags().Name(tag),
		Native: display.Self.Name(tag),
	}
	if m.Name == "" {
		m.Name = m.Code
	}
	if region, conf := tag.Region(); conf != language.No {
		m.Flag = flag(region.String())
	}
	return m
}

// flag builds the regional indicator pair for a two-letter region code.
func flag(region string) string {
	if len(region) != 2 {
		return ""
	}
	var b strings.Builder
	for _, c := range region {
		if c < 'A' || c > 'Z' {
			return ""
		}
		b.WriteRune(0x1F1E6 + c - 'A')
	}
	return b.String()
}
