// Package confirmation implements the Confirmation Flow: ticket issuance and
// the local, deterministic voice-phrase classifier that disambiguates
// accept/decline/ambiguous responses without routing them through the
// Router LLM.
package confirmation

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/jaxs-ribs/codewalk/internal/event"
)

// Purpose identifies why a ConfirmationTicket was raised. Only one purpose
// exists today.
const PurposeExecutorLaunch = "executor_launch"

// DefaultTimeout is the confirmation expiry window.
const DefaultTimeout = 60 * time.Second

// NewTicket mints a fresh ConfirmationTicket for an executor launch.
func NewTicket(kind event.ExecutorKind, prompt string, now time.Time) event.ConfirmationTicket {
	return event.ConfirmationTicket{
		ID:        uuid.NewString(),
		Purpose:   PurposeExecutorLaunch,
		Executor:  kind,
		Prompt:    prompt,
		CreatedAt: now,
	}
}

// Classification is the outcome of classifying a spoken confirmation.
type Classification int

const (
	NoMatch Classification = iota
	Accept
	Decline
	Ambiguous
)

// TokenConfig holds the accept/decline/ambiguous word lists, loadable from
// YAML so operators can customize them without recompiling.
type TokenConfig struct {
	Accept    []string `yaml:"accept"`
	Decline   []string `yaml:"decline"`
	Ambiguous []string `yaml:"ambiguous"`
}

// DefaultTokens returns the built-in accept/decline/ambiguous word lists.
func DefaultTokens() TokenConfig {
	return TokenConfig{
		Accept:    []string{"yes", "yeah", "yep", "ok", "okay", "go", "do it", "continue"},
		Decline:   []string{"no", "nope", "cancel", "stop", "don't"},
		Ambiguous: []string{"new", "continue", "…"},
	}
}

// LoadTokens parses a TokenConfig from YAML, falling back to DefaultTokens
// for any list left empty.
func LoadTokens(data []byte) (TokenConfig, error) {
	cfg := DefaultTokens()
	var parsed TokenConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return TokenConfig{}, err
	}
	if len(parsed.Accept) > 0 {
		cfg.Accept = parsed.Accept
	}
	if len(parsed.Decline) > 0 {
		cfg.Decline = parsed.Decline
	}
	if len(parsed.Ambiguous) > 0 {
		cfg.Ambiguous = parsed.Ambiguous
	}
	return cfg, nil
}

// Classifier matches spoken text against a TokenConfig.
type Classifier struct {
	tokens TokenConfig
}

// NewClassifier builds a Classifier over the given token configuration.
func NewClassifier(tokens TokenConfig) *Classifier {
	return &Classifier{tokens: tokens}
}

// Classify matches text against the accept/decline/ambiguous token sets.
// Matching is case-insensitive on whole words (or whole phrases for
// multi-word tokens like "do it"). When hasPriorSession is true, both the
// ambiguous tokens and a bare accept are treated as Ambiguous: "yes" with a
// completed session on record doesn't say whether to continue it or start
// fresh, so the caller re-prompts with explicit options. A decline is never
// ambiguous.
func (c *Classifier) Classify(text string, hasPriorSession bool) Classification {
	normalized := normalize(text)
	if normalized == "" {
		return NoMatch
	}

	if matchesAny(normalized, c.tokens.Decline) {
		return Decline
	}
	if hasPriorSession && (matchesAny(normalized, c.tokens.Ambiguous) || matchesAny(normalized, c.tokens.Accept)) {
		return Ambiguous
	}
	if matchesAny(normalized, c.tokens.Accept) {
		return Accept
	}
	if matchesAny(normalized, c.tokens.Ambiguous) {
		return Ambiguous
	}
	return NoMatch
}

// ResolveReprompt classifies a reply to the three-option re-prompt
// (continue the previous session / start a new one / cancel). "new" and
// "continue" both resolve the outstanding launch as accepted; decline
// tokens cancel; anything else falls through to normal routing.
func (c *Classifier) ResolveReprompt(text string) Classification {
	normalized := normalize(text)
	if normalized == "" {
		return NoMatch
	}
	if matchesAny(normalized, c.tokens.Decline) {
		return Decline
	}
	if matchesAny(normalized, []string{"new", "continue"}) || matchesAny(normalized, c.tokens.Accept) {
		return Accept
	}
	return NoMatch
}

func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '…':
			b.WriteRune(r)
		case r == '\'':
			b.WriteRune(r) // preserve contractions like "don't"
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// matchesAny reports whether normalized contains any token as a whole word
// or, for multi-word tokens, as a contiguous phrase.
func matchesAny(normalized string, tokens []string) bool {
	words := strings.Fields(normalized)
	wordSet := make(map[string]struct{}, len(words))
	for _, w := range words {
		wordSet[w] = struct{}{}
	}

	for _, token := range tokens {
		normToken := normalize(token)
		if normToken == "" {
			continue
		}
		if strings.Contains(normToken, " ") {
			if strings.Contains(" "+normalized+" ", " "+normToken+" ") {
				return true
			}
			continue
		}
		if _, ok := wordSet[normToken]; ok {
			return true
		}
	}
	return false
}
