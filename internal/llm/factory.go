package llm

import (
	"fmt"

	"github.com/itsvetkov1/Sentient-Inbox/internal/analysis"
	"github.com/itsvetkov1/Sentient-Inbox/internal/config"
)

// NewAnalysisClientFromConfig creates an analysis client based on the
// analysis config type.
func NewAnalysisClientFromConfig(cfg config.AnalysisConfig) (analysis.Client, error) {
	switch cfg.Type {
	case "openai":
		return NewClient(cfg)
	case "keyword":
		return analysis.NewKeywordClient(), nil
	default:
		return nil, fmt.Errorf("unknown analysis type: %s", cfg.Type)
	}
}
