package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// EnvGogoMode is the environment variable name for mode selection.
	EnvGogoMode = "GOGO_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// Backend names accepted by NewLLMClient.
const (
	BackendOpenAI    = "openai"
	BackendLangChain = "langchain"
	BackendMock      = "mock"
)

// Options configures NewLLMClient.
type Options struct {
	Backend      string
	BaseURL      string
	APIKey       string
	DefaultModel string
	Timeout      time.Duration
	MockDelay    time.Duration
}

// NewLLMClient creates an LLM client for the configured backend.
// GOGO_MODE=MOCK always selects the MockClient.
func NewLLMClient(opts Options, logger *zap.Logger) (LLMClient, error) {
	if os.Getenv(EnvGogoMode) == ModeMock {
		logger.Info("GOGO_MODE=MOCK detected, using mock LLM client")
		return NewMockClient(opts.MockDelay), nil
	}

	switch strings.ToLower(opts.Backend) {
	case BackendMock:
		return NewMockClient(opts.MockDelay), nil
	case BackendLangChain:
		return NewLangChainClient(opts.BaseURL, opts.APIKey, opts.DefaultModel)
	case BackendOpenAI, "":
		return NewClient(opts.BaseURL, opts.APIKey, opts.Timeout), nil
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", opts.Backend)
	}
}
