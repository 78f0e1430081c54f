// Package response resolves named response keys to localized message
// templates, with random variation sampling so repeated prompts do not sound
// mechanical.
package response

import (
	"math/rand/v2"
	"sort"

	"github.com/sonilabs/soni/internal/dsl"
)

// Picker chooses an index in [0, n). Injectable for deterministic tests.
type Picker func(n int) int

// Catalog resolves response keys against a parsed document.
type Catalog struct {
	responses   map[string]dsl.ResponseDef
	defaultLang string
	pick        Picker
}

// Option customizes a Catalog.
type Option func(*Catalog)

// WithPicker replaces the variation sampler.
func WithPicker(p Picker) Option {
	return func(c *Catalog) { c.pick = p }
}

// New builds a catalog from the document's responses and i18n settings.
func New(doc *dsl.Document, opts ...Option) *Catalog {
	c := &Catalog{
		responses:   doc.Responses,
		defaultLang: doc.Settings.I18n.DefaultLanguage,
		pick:        rand.IntN,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Has reports whether the catalog defines the key.
func (c *Catalog) Has(key string) bool {
	_, ok := c.responses[key]
	return ok
}

// Resolve returns the message template for key in the session language.
// Resolution falls back in order: session language, default language, the
// bare default text, the first declared translation, and finally the key
// itself so a missing entry degrades visibly instead of failing the turn.
func (c *Catalog) Resolve(key, lang string) string {
	def, ok := c.responses[key]
	if !ok {
		return key
	}

	if v, ok := def.Languages[lang]; ok {
		if text := c.sample(v.Default, v.Variations); text != "" {
			return text
		}
	}
	if v, ok := def.Languages[c.defaultLang]; ok {
		if text := c.sample(v.Default, v.Variations); text != "" {
			return text
		}
	}
	if text := c.sample(def.Default, def.Variations); text != "" {
		return text
	}
	if len(def.Languages) > 0 {
		codes := make([]string, 0, len(def.Languages))
		for code := range def.Languages {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		v := def.Languages[codes[0]]
		if text := c.sample(v.Default, v.Variations); text != "" {
			return text
		}
	}
	return key
}

// sample picks uniformly among the default text and its variations.
func (c *Catalog) sample(def string, variations []string) string {
	candidates := make([]string, 0, len(variations)+1)
	if def != "" {
		candidates = append(candidates, def)
	}
	candidates = append(candidates, variations...)
	switch len(candidates) {
	case 0:
		return ""
	case 1:
		return candidates[0]
	}
	return candidates[c.pick(len(candidates))]
}
