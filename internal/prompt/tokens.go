package prompt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// tokenEncoding is close enough for local models; the count is used for
// logging and metrics, not for billing or truncation.
const tokenEncoding = "cl100k_base"

// TokenCounter estimates prompt token counts. The tiktoken encoding is loaded
// lazily; if it cannot be loaded (e.g. no network for the BPE download) the
// counter falls back to a bytes/4 heuristic.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewTokenCounter creates a lazy token counter.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the estimated token count for text.
func (c *TokenCounter) Count(text string) int {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			log.Warn().Err(err).Msg("tiktoken encoding unavailable, using byte heuristic")
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return len(text) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}
