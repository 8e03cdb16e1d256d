// Package i18n translates the messages mvtl prints on the terminal.
//
// Catalogs are gettext .po files embedded in the binary. Init picks the
// catalog from the locale environment; T and N pass strings through
// unchanged when no catalog matches.
package i18n

import (
	"embed"
	"os"
	"strings"

	"github.com/leonelquinteros/gotext"
)

// locales holds locales/{lang}/LC_MESSAGES/mvtl.po.
//
//go:embed all:locales
var locales embed.FS

const domain = "mvtl"

// po is the gotext locale object used for translations.
var po *gotext.Locale

// Init loads the catalog for lang, or for the locale environment when
// lang is empty.
func Init(lang string) {
	if lang == "" {
		lang = detectLanguage()
	}

	po = gotext.NewLocaleFSWithPath(lang, locales, "locales")
	po.AddDomain(domain)
	po.SetDomain(domain)
}

// T translates msgid.
func T(msgid string) string {
	if po == nil {
		return msgid
	}
	return po.Get(msgid)
}

// N translates a message with plural forms for count n.
func N(singular, plural string, n int) string {
	if po == nil {
		if n == 1 {
			return singular
		}
		return plural
	}
	return po.GetN(singular, plural, n)
}

// detectLanguage follows the gettext lookup order LANGUAGE, LC_ALL,
// LC_MESSAGES, LANG.
func detectLanguage() string {
	for _, env := range []string{"LANGUAGE", "LC_ALL", "LC_MESSAGES", "LANG"} {
		if val := os.Getenv(env); val != "" {
			if env == "LANGUAGE" {
				parts := strings.SplitN(val, ":", 2)
				val = parts[0]
			}
			// ru_RU.UTF-8 -> ru_RU
			if idx := strings.IndexByte(val, '.'); idx >= 0 {
				val = val[:idx]
			}
			if val == "C" || val == "POSIX" || val == "" {
				continue
			}
			return val
		}
	}
	return "en"
}
