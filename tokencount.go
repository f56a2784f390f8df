package llmgateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates token usage for a prompt before it is sent,
// letting model.Model pre-flight-check a request's messages against
// ModelConfig.MaxInputTokens instead of waiting on a provider 400.
type TokenCounter interface {
	CountMessages(messages []Message) (int, error)
}

// tiktokenEncodings maps model-name prefixes to a tiktoken encoding. Longest
// match wins; unrecognized models fall back to cl100k_base, matching common
// OpenAI-compatible practice.
var tiktokenEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4-turbo", "cl100k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
	{"text-embedding-3", "cl100k_base"},
}

// TiktokenCounter counts tokens using the tiktoken-go BPE encoder.
type TiktokenCounter struct {
	encoding string

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenCounter builds a TokenCounter for the given model name,
// selecting an encoding by known prefix and defaulting to cl100k_base.
func NewTiktokenCounter(model string) *TiktokenCounter {
	encoding := "cl100k_base"
	best := 0
	for _, e := range tiktokenEncodings {
		if strings.HasPrefix(model, e.prefix) && len(e.prefix) > best {
			encoding = e.encoding
			best = len(e.prefix)
		}
	}
	return &TiktokenCounter{encoding: encoding}
}

func (t *TiktokenCounter) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountMessages approximates the per-message chat-format token overhead
// tiktoken's own cookbook describes: four tokens of framing per message plus
// the role and content token counts, plus three tokens to prime the reply.
func (t *TiktokenCounter) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	total := 3
	for _, msg := range messages {
		total += 4
		total += len(t.enc.Encode(string(msg.Role), nil, nil))
		for _, part := range msg.Content {
			if part.Type == ContentText {
				total += len(t.enc.Encode(part.Text, nil, nil))
			}
		}
	}
	return total, nil
}
