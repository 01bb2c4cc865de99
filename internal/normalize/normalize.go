// Package normalize canonicalizes chat requests into comparable cache keys.
//
// Two requests that differ only cosmetically (whitespace, letter case, a
// temperature of 0.21 vs 0.24) produce the same Key and therefore share an
// exact-match cache slot.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/semantis-ai/semcache/upstream"
)

// DefaultTemperature is assumed when a request omits temperature, matching
// the upstream default so explicit and implicit defaults share a key.
const DefaultTemperature = 0.2

// DefaultBucket is the default temperature quantization granularity.
const DefaultBucket = 0.1

// Validation errors surfaced to callers as invalid-request failures.
var (
	ErrEmptyMessages = errors.New("message list is empty")
	ErrUnknownModel  = errors.New("model is not recognized")
)

// Key identifies a normalized request for cache purposes.
type Key struct {
	// PromptHash is the hex SHA-256 of the canonical prompt string
	// combined with the model and the quantized temperature bucket.
	PromptHash string
	// EmbeddingInput is the string embedded for semantic lookup:
	// the concatenated user-message content, or the full canonical
	// prompt when the request has no user messages.
	EmbeddingInput string
	// Model is the requested model, unchanged.
	Model string
}

// Normalizer canonicalizes requests. The zero value is not usable; construct
// with New.
type Normalizer struct {
	bucket        float64
	supportsModel func(string) bool
}

// New creates a Normalizer. bucket is the temperature quantization
// granularity (≤0 falls back to DefaultBucket). supportsModel rejects
// unrecognized models; pass nil to accept any non-empty model.
func New(bucket float64, supportsModel func(string) bool) *Normalizer {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	return &Normalizer{bucket: bucket, supportsModel: supportsModel}
}

// Normalize produces the cache Key for req. It fails with ErrEmptyMessages
// or ErrUnknownModel for requests that must never reach the decision policy.
func (n *Normalizer) Normalize(req upstream.Request) (Key, error) {
	if len(req.Messages) == 0 {
		return Key{}, ErrEmptyMessages
	}
	if req.Model == "" || (n.supportsModel != nil && !n.supportsModel(req.Model)) {
		return Key{}, ErrUnknownModel
	}

	parts := make([]string, 0, len(req.Messages))
	var userParts []string
	for _, m := range req.Messages {
		text := canonicalText(m.Content)
		parts = append(parts, m.Role+":"+text)
		if m.Role == upstream.RoleUser {
			userParts = append(userParts, text)
		}
	}
	canonical := strings.Join(parts, "\n")

	temp := DefaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	}

	h := sha256.New()
	h.Write([]byte(canonical))
	h.Write([]byte("\nmodel=" + req.Model))
	h.Write([]byte("\ntemp=" + n.quantize(temp)))

	embeddingInput := strings.Join(userParts, " ")
	if embeddingInput == "" {
		embeddingInput = canonical
	}

	return Key{
		PromptHash:     hex.EncodeToString(h.Sum(nil)),
		EmbeddingInput: embeddingInput,
		Model:          req.Model,
	}, nil
}

// quantize rounds temp to the nearest bucket and renders it in a stable
// textual form so float noise never splits a key.
func (n *Normalizer) quantize(temp float64) string {
	q := math.Round(temp/n.bucket) * n.bucket
	return strconv.FormatFloat(q, 'f', 3, 64)
}

// canonicalText collapses runs of whitespace to single spaces, trims, and
// lowercases. Order of words is preserved.
func canonicalText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
