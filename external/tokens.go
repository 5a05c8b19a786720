package external

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"
)

// tokenEstimator counts prompt tokens with the model's BPE when available.
// Encodings are loaded lazily because tiktoken fetches them on first use.
type tokenEstimator struct {
	model string
	once  sync.Once
	enc   *tiktoken.Tiktoken
}

func newTokenEstimator(model string) *tokenEstimator {
	return &tokenEstimator{model: model}
}

func (t *tokenEstimator) load() {
	enc, err := tiktoken.EncodingForModel(t.model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		log.Warn().Err(err).Str("model", t.model).Msg("tiktoken unavailable, using character estimate")
		return
	}
	t.enc = enc
}

// Count returns the token count of all messages; falls back to len/4.
func (t *tokenEstimator) Count(messages []ChatMessage) int {
	t.once.Do(t.load)

	total := 0
	for _, m := range messages {
		if t.enc != nil {
			total += len(t.enc.Encode(m.Content, nil, nil))
		} else {
			total += (len(m.Content) + 3) / 4
		}
	}
	return total
}
