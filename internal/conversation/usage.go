package conversation

import "fmt"

// TokenUsage counts tokens consumed by model round-trips. The zero value
// is the identity for Add.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens"`
}

// Add returns the field-wise sum of u and other.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
		CachedTokens:     u.CachedTokens + other.CachedTokens,
	}
}

// IsZero reports whether no tokens have been counted.
func (u TokenUsage) IsZero() bool {
	return u == TokenUsage{}
}

// String formats the usage for status lines.
func (u TokenUsage) String() string {
	return fmt.Sprintf("prompt=%d completion=%d total=%d cached=%d",
		u.PromptTokens, u.CompletionTokens, u.TotalTokens, u.CachedTokens)
}
