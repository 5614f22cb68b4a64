// Package i18n holds the chat reply catalogs and resolves a participant's
// language tag to one of the supported locales.
package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

type Option struct {
	Tag   string
	Label string
}

// Catalog resolves message keys for supported languages, falling back to
// the default language for unknown tags and missing keys.
type Catalog struct {
	cat       *catalog.Builder
	supported []language.Tag
	labels    []string
	matcher   language.Matcher
	def       language.Tag
}

func New(defaultLang string) *Catalog {
	supported := []language.Tag{language.English, language.Russian}
	def := supported[0]
	if t, err := language.Parse(defaultLang); err == nil {
		_, idx, _ := language.NewMatcher(supported).Match(t)
		def = supported[idx]
	}

	// Keys missing from a translation are filled from English so the printer
	// never falls back to rendering the raw key.
	b := catalog.NewBuilder(catalog.Fallback(def))
	base := messages[language.English]
	for _, tag := range supported {
		msgs := messages[tag]
		for key, text := range base {
			if translated, ok := msgs[key]; ok {
				text = translated
			}
			_ = b.SetString(tag, key, text)
		}
	}

	// Put the default first so the matcher prefers it on ties.
	ordered := []language.Tag{def}
	for _, t := range supported {
		if t != def {
			ordered = append(ordered, t)
		}
	}
	labels := make([]string, len(ordered))
	for i, t := range ordered {
		labels[i] = labelFor[t]
	}
	return &Catalog{
		cat:       b,
		supported: ordered,
		labels:    labels,
		matcher:   language.NewMatcher(ordered),
		def:       def,
	}
}

// Match maps any BCP 47 tag (or an empty string) to a supported tag.
func (c *Catalog) Match(lang string) language.Tag {
	if lang == "" {
		return c.def
	}
	t, err := language.Parse(lang)
	if err != nil {
		return c.def
	}
	_, idx, conf := c.matcher.Match(t)
	if conf == language.No {
		return c.def
	}
	return c.supported[idx]
}

// Supports reports whether lang is one of the offered language options.
func (c *Catalog) Supports(lang string) bool {
	for _, t := range c.supported {
		if t.String() == lang {
			return true
		}
	}
	return false
}

func (c *Catalog) Default() string { return c.def.String() }

func (c *Catalog) Options() []Option {
	out := make([]Option, len(c.supported))
	for i, t := range c.supported {
		out[i] = Option{Tag: t.String(), Label: c.labels[i]}
	}
	return out
}

// T formats key in lang.
func (c *Catalog) T(lang, key string, args ...any) string {
	p := message.NewPrinter(c.Match(lang), message.Catalog(c.cat))
	return p.Sprintf(key, args...)
}
