// Package tokenizer turns document text into the prefix tokens stored in the
// suggestion index, and queries into the literal tokens looked up against it.
//
// Prefixes are generated at index time so that prefix-style suggestion
// matching reduces to an equality lookup on the token index.
package tokenizer

import (
	"strings"
	"unicode"
)

// Step is one normalization stage of a Pipeline.
type Step interface {
	Apply(input string) string
}

// StepFunc adapts a function to the Step interface.
type StepFunc func(string) string

// Apply calls f(input).
func (f StepFunc) Apply(input string) string { return f(input) }

// Trim removes leading and trailing whitespace.
var Trim Step = StepFunc(strings.TrimSpace)

// Lower lowercases the input.
var Lower Step = StepFunc(strings.ToLower)

// Replace maps runs of characters to replacements using a fixed table.
type Replace struct {
	replacer *strings.Replacer
}

// NewReplace builds a Replace step from a from→to table. Matching is
// case-insensitive: upper-case forms of every key map to the same value.
func NewReplace(table map[string]string) *Replace {
	pairs := make([]string, 0, len(table)*4)
	for from, to := range table {
		pairs = append(pairs, from, to)
		if upper := strings.ToUpper(from); upper != from {
			pairs = append(pairs, upper, to)
		}
	}
	return &Replace{replacer: strings.NewReplacer(pairs...)}
}

// Apply replaces every table entry found in input.
func (r *Replace) Apply(input string) string {
	return r.replacer.Replace(input)
}

// AccentTable maps accented Latin letters to their unaccented forms.
var AccentTable = map[string]string{
	"á": "a", "à": "a", "â": "a", "ã": "a", "ä": "a",
	"é": "e", "è": "e", "ê": "e", "ë": "e",
	"í": "i", "ì": "i", "î": "i",
	"ó": "o", "ò": "o", "ô": "o", "õ": "o", "ö": "o",
	"ú": "u", "ù": "u", "û": "u", "ü": "u",
	"ç": "c", "ñ": "n",
}

// Unaccent is the Replace step built from AccentTable.
var Unaccent = NewReplace(AccentTable)

// Pipeline applies normalization steps in order and splits the result.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline from the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// DefaultPipeline trims, lowercases and removes accents.
var DefaultPipeline = NewPipeline(Trim, Lower, Unaccent)

// Normalize runs every step over input.
func (p *Pipeline) Normalize(input string) string {
	out := input
	for _, step := range p.steps {
		out = step.Apply(out)
	}
	return out
}

// Apply normalizes input and splits it into tokens.
func (p *Pipeline) Apply(input string) []string {
	return Split(p.Normalize(input))
}

// Split breaks input on runs of characters that are neither letters nor
// digits. Empty fragments are dropped; order is preserved.
func Split(input string) []string {
	return strings.FieldsFunc(input, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
