package domain

import "strings"

// TranslatableAttributes lists the Server attributes that the translation
// dictionary may normalize. Keep in sync with Server.
var TranslatableAttributes = []string{
	"manufacture",
	"product_name",
	"cpu",
	"os",
}

// IsTranslatable reports whether attr is listed in TranslatableAttributes
func IsTranslatable(attr string) bool {
	for _, a := range TranslatableAttributes {
		if a == attr {
			return true
		}
	}
	return false
}

// Translator looks up the standardized value for a raw vendor string.
// ok is false when the dictionary has no entry.
type Translator interface {
	Translate(attr, value string) (standardized string, ok bool)
}

// DictionaryTranslator is a Translator backed by an in-memory dictionary
// keyed by attribute, then by case-insensitive original keyword.
type DictionaryTranslator struct {
	entries map[string]map[string]string
}

// NewDictionaryTranslator builds a translator from attr -> keyword -> value.
// Attributes not in TranslatableAttributes are ignored.
func NewDictionaryTranslator(dict map[string]map[string]string) *DictionaryTranslator {
	entries := make(map[string]map[string]string)
	for attr, words := range dict {
		if !IsTranslatable(attr) {
			continue
		}
		m := make(map[string]string, len(words))
		for from, to := range words {
			m[strings.ToLower(strings.TrimSpace(from))] = to
		}
		entries[attr] = m
	}
	return &DictionaryTranslator{entries: entries}
}

// Translate implements Translator
func (d *DictionaryTranslator) Translate(attr, value string) (string, bool) {
	words, ok := d.entries[attr]
	if !ok {
		return "", false
	}
	to, ok := words[strings.ToLower(strings.TrimSpace(value))]
	return to, ok
}

// ApplyTranslations rewrites the translatable attributes of s in place and
// returns the names of the attributes that changed.
func ApplyTranslations(t Translator, s *Server) []string {
	if t == nil {
		return nil
	}
	fields := map[string]*string{
		"manufacture":  &s.Manufacture,
		"product_name": &s.ProductName,
		"cpu":          &s.CPU,
		"os":           &s.OS,
	}
	var changed []string
	for _, attr := range TranslatableAttributes {
		field := fields[attr]
		if field == nil || *field == "" {
			continue
		}
		if to, ok := t.Translate(attr, *field); ok && to != *field {
			*field = to
			changed = append(changed, attr)
		}
	}
	return changed
}
