package tokenizer

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultPhraseMaxLen bounds prefixes of the whole normalized phrase.
	DefaultPhraseMaxLen = 30
	// DefaultTokenMaxLen bounds prefixes of each individual token.
	DefaultTokenMaxLen = 20
	// MaxCachedTextBytes is the longest text whose tokens are cached.
	MaxCachedTextBytes = 4 << 10
)

// Config configures a Tokenizer.
type Config struct {
	// PhraseMaxLen is the longest phrase prefix generated (in runes).
	PhraseMaxLen int
	// TokenMaxLen is the longest per-token prefix generated (in runes).
	TokenMaxLen int
	// CacheSize is the number of Tokenize results kept in an LRU cache.
	// Zero disables caching. Texts over MaxCachedTextBytes bypass it.
	CacheSize int
}

// DefaultConfig returns the standard prefix bounds with no cache.
func DefaultConfig() Config {
	return Config{
		PhraseMaxLen: DefaultPhraseMaxLen,
		TokenMaxLen:  DefaultTokenMaxLen,
	}
}

// CacheObserver is notified of cache hits and misses.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

// Tokenizer produces index tokens and query tokens.
// It is safe for concurrent use.
type Tokenizer struct {
	pipeline     *Pipeline
	phraseMaxLen int
	tokenMaxLen  int
	cache        *lru.Cache[string, []string]
	observer     CacheObserver
}

// New creates a Tokenizer using the default pipeline.
func New(cfg Config) *Tokenizer {
	if cfg.PhraseMaxLen <= 0 {
		cfg.PhraseMaxLen = DefaultPhraseMaxLen
	}
	if cfg.TokenMaxLen <= 0 {
		cfg.TokenMaxLen = DefaultTokenMaxLen
	}

	t := &Tokenizer{
		pipeline:     DefaultPipeline,
		phraseMaxLen: cfg.PhraseMaxLen,
		tokenMaxLen:  cfg.TokenMaxLen,
	}
	if cfg.CacheSize > 0 {
		// lru.New only fails for non-positive sizes
		t.cache, _ = lru.New[string, []string](cfg.CacheSize)
	}
	return t
}

// SetObserver registers an observer for cache statistics.
func (t *Tokenizer) SetObserver(o CacheObserver) {
	t.observer = o
}

// Tokenize returns the deduplicated token set for text: the normalized
// tokens, every prefix of the space-joined phrase, and every prefix of each
// token, in first-seen order.
func (t *Tokenizer) Tokenize(text string) []string {
	cached := t.cache != nil && len(text) <= MaxCachedTextBytes
	if cached {
		if tokens, ok := t.cache.Get(text); ok {
			if t.observer != nil {
				t.observer.CacheHit()
			}
			return append([]string(nil), tokens...)
		}
		if t.observer != nil {
			t.observer.CacheMiss()
		}
	}

	words := t.pipeline.Apply(text)

	all := make([]string, 0, len(words)*4)
	all = append(all, words...)
	all = append(all, Prefixes(strings.Join(words, " "), t.phraseMaxLen)...)
	for _, w := range words {
		all = append(all, Prefixes(w, t.tokenMaxLen)...)
	}
	tokens := TokenSet(all)

	if cached {
		t.cache.Add(text, append([]string(nil), tokens...))
	}
	return tokens
}

// CleanQuery normalizes and splits a query without prefix expansion.
func (t *Tokenizer) CleanQuery(query string) []string {
	return t.pipeline.Apply(query)
}

// Prefixes returns the prefixes of s with rune length 1 up to
// min(len(s), maxLen), shortest first.
func Prefixes(s string, maxLen int) []string {
	runes := []rune(s)
	n := min(len(runes), maxLen)
	if n <= 0 {
		return nil
	}

	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, string(runes[:i]))
	}
	return out
}

// TokenSet removes duplicates, keeping the first occurrence of each token.
func TokenSet(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	return out
}

var defaultTokenizer = New(DefaultConfig())

// Tokenize runs the default tokenizer over text.
func Tokenize(text string) []string {
	return defaultTokenizer.Tokenize(text)
}

// CleanQuery runs the default query cleaning over query.
func CleanQuery(query string) []string {
	return defaultTokenizer.CleanQuery(query)
}
