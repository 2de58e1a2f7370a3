package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"oape/internal/agent/ports"
)

var (
	tokenEncoder     *tiktoken.Tiktoken
	tokenEncoderOnce sync.Once
)

// EstimateTokens approximates the token count of text. Used for the job token
// budget when the upstream response omits usage figures. Falls back to a
// bytes/4 heuristic if the encoding is unavailable (it ships embedded, so
// that path is rare).
func EstimateTokens(text string) int {
	tokenEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenEncoder = enc
		}
	})

	if tokenEncoder == nil {
		return (len(text) + 3) / 4
	}
	return len(tokenEncoder.Encode(text, nil, nil))
}

// EstimateHistoryTokens approximates the token footprint of a conversation.
func EstimateHistoryTokens(history []ports.Turn) int {
	total := 0
	for _, turn := range history {
		total += EstimateTokens(turn.Text)
		total += EstimateTokens(turn.Output)
		total += EstimateTokens(turn.Name)
		// Small per-turn overhead for role/structure tokens.
		total += 4
	}
	return total
}
