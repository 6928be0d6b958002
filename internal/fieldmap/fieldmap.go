// Package fieldmap resolves the user's source-to-Anki field name
// mapping and assembles a card's packed field values into the ordered
// list Anki expects.
package fieldmap

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/conorfennell/ankibridge/internal/domain"
)

// DefaultFieldNames is the canonical source field list, used as an
// identity mapping when the user has not saved one.
var DefaultFieldNames = []string{
	"Word", "Sentence", "Translated Sentence", "Definitions",
	"Example Sentences", "Notes", "Images", "Sentence Audio", "Word Audio",
}

// globalKey is the mapping applied to every exported card type.
const globalKey = "__global__"

// Field is one (source name, destination name) pair of a mapping.
type Field struct {
	SourceName string `json:"migakuName"`
	DestName   string `json:"ankiName"`
}

// Mapping is an ordered list of field renames.
type Mapping struct {
	Fields []Field `json:"fields"`
}

// Store persists mappings as a JSON object keyed by scope, mirroring
// the layout the configuration UI writes.
type Store struct {
	path string
}

// NewStore returns a store backed by the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads all saved mappings. A missing or unreadable file yields an
// empty map so exports fall back to the default field list.
func (s *Store) Load() map[string]Mapping {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]Mapping{}
	}
	var mappings map[string]Mapping
	if err := json.Unmarshal(data, &mappings); err != nil {
		return map[string]Mapping{}
	}
	return mappings
}

// Save writes all mappings back to disk.
func (s *Store) Save(mappings map[string]Mapping) error {
	data, err := json.MarshalIndent(mappings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode mappings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save mappings: %w", err)
	}
	return nil
}

// FieldNames returns the ordered destination field names: the saved
// global mapping's destination names when present, otherwise
// DefaultFieldNames.
func (s *Store) FieldNames() []string {
	global, ok := s.Load()[globalKey]
	if !ok || len(global.Fields) == 0 {
		return DefaultFieldNames
	}
	names := make([]string, 0, len(global.Fields))
	for _, f := range global.Fields {
		name := f.DestName
		if name == "" {
			name = f.SourceName
		}
		names = append(names, name)
	}
	return names
}

// Options gates the per-field transforms applied by BuildFieldValues.
type Options struct {
	IncludeImages bool
	IncludeAudio  bool
	// KeepSyntax leaves the source app's bracket annotations in place
	// instead of stripping them.
	KeepSyntax bool
}

// Resolver resolves a raw media reference into a package media key.
// It returns "" when the media is unavailable; it must be idempotent,
// since the same reference may be resolved many times per export.
type Resolver func(raw string) string

// bracketSyntax matches the source app's inline annotations: reading
// brackets plus the literal braces around highlighted words.
var bracketSyntax = regexp.MustCompile(`\[.*?\]`)

var braceChars = strings.NewReplacer("{", "", "}", "")

// StripSyntax removes bracket annotations and brace characters.
func StripSyntax(s string) string {
	return braceChars.Replace(bracketSyntax.ReplaceAllString(s, ""))
}

// BuildFieldValues splits a card's primary, secondary and packed
// additional fields into one value per destination field name. Fields
// whose lower-cased name contains "image" or "audio" are resolved into
// media-embed tokens when the corresponding option is enabled; plain
// text fields have the source syntax stripped unless KeepSyntax is set.
// Missing values become empty strings.
func BuildFieldValues(card domain.Card, names []string, opts Options, resolve Resolver) []string {
	raw := []string{card.PrimaryField, card.SecondaryField}
	if card.Fields != "" {
		raw = append(raw, strings.Split(card.Fields, domain.FieldSeparator)...)
	}

	values := make([]string, 0, len(names))
	for i, name := range names {
		var value string
		if i < len(raw) {
			value = raw[i]
		}
		lower := strings.ToLower(name)

		switch {
		case strings.Contains(lower, "image") && opts.IncludeImages && value != "":
			if key := resolve(value); key != "" {
				values = append(values, fmt.Sprintf("<img src=%q>", key))
			} else {
				values = append(values, "")
			}
		case strings.Contains(lower, "audio") && opts.IncludeAudio && value != "":
			if key := resolve(value); key != "" {
				values = append(values, fmt.Sprintf("[sound:%s]", key))
			} else {
				values = append(values, "")
			}
		default:
			if !opts.KeepSyntax && value != "" {
				value = StripSyntax(value)
			}
			values = append(values, value)
		}
	}
	return values
}
