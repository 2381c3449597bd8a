// Package enrich abstracts the external enrichment provider behind a
// confidence-scored search. The resolver and the async queue worker both
// consume this interface; the EQC-backed implementation translates the
// provider's match-type labels into confidence scores via configuration.
package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/idresolve/pkg/eqc"
)

// Match is a confidence-scored candidate for a name search.
type Match struct {
	CompanyID  string
	MatchType  string
	Confidence float64
}

// Provider searches for a company by name. A nil Match with nil error is a
// clean miss.
type Provider interface {
	Search(ctx context.Context, name string) (*Match, error)
}

// DefaultConfidence is the conservative score for match-type labels absent
// from the configured mapping.
const DefaultConfidence = 0.50

// EQCProvider scores eqc search results using a configurable
// match-type → confidence mapping (exact ≈ 1.00, fuzzy ≈ 0.80,
// phonetic ≈ 0.60 by convention).
type EQCProvider struct {
	client      eqc.Client
	confidence  map[string]float64
	defaultConf float64
}

// NewEQCProvider creates a Provider over an eqc client. A nil or empty
// mapping is a configuration error: silent all-default scoring would mask a
// misdeployed config.
func NewEQCProvider(client eqc.Client, confidenceByMatchType map[string]float64, defaultConf float64) (*EQCProvider, error) {
	if client == nil {
		return nil, eris.New("enrich: eqc client is required")
	}
	if len(confidenceByMatchType) == 0 {
		return nil, eris.New("enrich: confidence mapping must not be empty")
	}
	for label, score := range confidenceByMatchType {
		if score < 0 || score > 1 {
			return nil, eris.Errorf("enrich: confidence for %q out of range: %v", label, score)
		}
	}
	if defaultConf <= 0 {
		defaultConf = DefaultConfidence
	}
	return &EQCProvider{
		client:      client,
		confidence:  confidenceByMatchType,
		defaultConf: defaultConf,
	}, nil
}

// Search performs one provider lookup and scores the result.
func (p *EQCProvider) Search(ctx context.Context, name string) (*Match, error) {
	m, err := p.client.Search(ctx, name)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	conf, ok := p.confidence[m.MatchType]
	if !ok {
		conf = p.defaultConf
	}
	return &Match{
		CompanyID:  m.CompanyID,
		MatchType:  m.MatchType,
		Confidence: conf,
	}, nil
}
