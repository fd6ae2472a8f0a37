package chunker

import (
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codecOnce sync.Once
	codec     tokenizer.Codec
)

func loadCodec() tokenizer.Codec {
	codecOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			codec = c
		}
	})
	return codec
}

// CountTokens returns the cl100k_base token count of text. If the
// encoding cannot be loaded it falls back to EstimateTokens.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	c := loadCodec()
	if c == nil {
		return EstimateTokens(text)
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return EstimateTokens(text)
	}
	return len(ids)
}

// EstimateTokens gives a rough token count from the word count.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Roughly 1.33 tokens per English word.
	tokens := int(float64(len(strings.Fields(text))) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
