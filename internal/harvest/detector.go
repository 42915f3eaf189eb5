package harvest

import (
	"regexp"
	"strings"
)

// Detector decides whether the output accumulated so far is complete.
// Detectors are stateful across the chunks of one harvest and must be Reset between harvests.
type Detector interface {
	// Observe feeds the next chunk and reports whether output is now complete.
	Observe(chunk string) bool
	Reset()
}

// maxPromptCarry bounds the unmatched tail kept between chunks
const maxPromptCarry = 256

// PromptDetector completes once the prompt pattern has been seen a required number of times
// across the whole session. The first prompt is the echo of the issued command, the next one
// is the device returning to its prompt after the output ends.
type PromptDetector struct {
	pattern  *regexp.Regexp
	required int

	promptMatchCount int
	carry            string
}

// NewPromptDetector creates a prompt-counting detector
func NewPromptDetector(pattern *regexp.Regexp, required int) *PromptDetector {
	if required < 1 {
		required = 1
	}
	return &PromptDetector{pattern: pattern, required: required}
}

// Observe counts every prompt in the chunk. Text after the last match is carried into the next
// call so a prompt split across two chunks is counted once.
func (d *PromptDetector) Observe(chunk string) bool {
	text := d.carry + chunk

	matches := d.pattern.FindAllStringIndex(text, -1)
	d.promptMatchCount += len(matches)

	rest := text
	if len(matches) > 0 {
		rest = text[matches[len(matches)-1][1]:]
	}
	if len(rest) > maxPromptCarry {
		rest = rest[len(rest)-maxPromptCarry:]
	}
	d.carry = rest

	return d.promptMatchCount >= d.required
}

// Count returns the number of prompts seen so far
func (d *PromptDetector) Count() int {
	return d.promptMatchCount
}

// Reset clears the session state
func (d *PromptDetector) Reset() {
	d.promptMatchCount = 0
	d.carry = ""
}

// TokenDetector completes once a literal end-of-output token has appeared
type TokenDetector struct {
	token string
	tail  string
	seen  bool
}

// NewTokenDetector creates an end-token detector
func NewTokenDetector(token string) *TokenDetector {
	return &TokenDetector{token: token}
}

// Observe searches the carried tail of earlier output plus the new chunk
func (d *TokenDetector) Observe(chunk string) bool {
	if d.seen {
		return true
	}
	text := d.tail + chunk
	if strings.Contains(text, d.token) {
		d.seen = true
		return true
	}
	if keep := len(d.token) - 1; len(text) > keep {
		text = text[len(text)-keep:]
	}
	d.tail = text
	return false
}

// Reset clears the session state
func (d *TokenDetector) Reset() {
	d.tail = ""
	d.seen = false
}
