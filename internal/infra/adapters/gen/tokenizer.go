package gen

import (
	"github.com/pkoukk/tiktoken-go"

	"content-pipeline-orchestrator/internal/usecase"
)

// NewTokenCounter returns a counter backed by the cl100k_base encoding.
// When the encoding cannot be loaded (offline first run) it falls back
// to a bytes/4 approximation so chunk sizing still works.
func NewTokenCounter() usecase.TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return func(s string) int { return len(s) / 4 }
	}
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}
}
