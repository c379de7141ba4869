// Copyright 2026 ModVet
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"errors"

	"modvet/engine/shared/logger"
)

// ValidateFunc checks a provider response against the caller's schema. A
// non-nil return marks the response invalid, which counts as that
// provider's failure and triggers failover.
type ValidateFunc func(*Response) error

// Selector walks a configured primary/fallback order, routing every
// attempt through the provider's circuit breaker and the shared retry
// policy. Each provider is visited at most once per pass.
type Selector struct {
	providers []Provider
	breakers  *Breakers
	retry     RetryConfig
	log       *logger.Logger
}

// NewSelector builds a selector over providers in failover order, primary
// first.
func NewSelector(providers []Provider, breakers *Breakers, retry RetryConfig, log *logger.Logger) *Selector {
	if log == nil {
		log = logger.New("selector")
	}
	return &Selector{
		providers: providers,
		breakers:  breakers,
		retry:     retry,
		log:       log,
	}
}

// Len returns the number of configured providers.
func (s *Selector) Len() int {
	return len(s.providers)
}

// Names returns the provider names in failover order.
func (s *Selector) Names() []string {
	names := make([]string, len(s.providers))
	for i, p := range s.providers {
		names[i] = p.Name()
	}
	return names
}

// Primary returns the first provider in the order, or nil when none are
// configured. The orchestrator uses it for pre-flight cost estimates.
func (s *Selector) Primary() Provider {
	if len(s.providers) == 0 {
		return nil
	}
	return s.providers[0]
}

// ByName returns the named provider, or nil when it is not configured.
func (s *Selector) ByName(name string) Provider {
	for _, p := range s.providers {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Breakers exposes the circuit breaker set for health reporting.
func (s *Selector) Breakers() *Breakers {
	return s.breakers
}

// Analyze tries each provider in order until one returns a response that
// passes validate. It returns the winning response plus the failures
// collected along the way (empty when the primary succeeded first try).
// When every candidate fails the error is an *AllProvidersError carrying
// the per-provider reasons; when none are configured it is ErrNoProviders.
func (s *Selector) Analyze(ctx context.Context, req Request, validate ValidateFunc) (*Response, []AttemptFailure, error) {
	if len(s.providers) == 0 {
		return nil, nil, ErrNoProviders
	}

	var failures []AttemptFailure
	for _, p := range s.providers {
		provider := p
		br := s.breakers.For(provider.Name())

		op := func(ctx context.Context) (*Response, error) {
			var resp *Response
			err := br.Execute(ctx, func(ctx context.Context) error {
				r, err := provider.Analyze(ctx, req)
				if err != nil {
					return err
				}
				if validate != nil {
					if verr := validate(r); verr != nil {
						return NewProviderError(provider.Name(), ErrCodeValidation, verr.Error())
					}
				}
				resp = r
				return nil
			})
			return resp, err
		}

		resp, err := RetryWithBackoff(ctx, s.retry, op)
		if err == nil {
			s.log.InfoWithDuration(req.SubjectID, req.CorrelationID, "provider answered",
				float64(resp.Latency.Milliseconds()), map[string]interface{}{
					"provider": provider.Name(),
					"model":    resp.Model,
				})
			return resp, failures, nil
		}
		if errors.Is(err, context.Canceled) {
			// The caller is gone; walking further providers helps nobody.
			return nil, failures, err
		}

		failures = append(failures, AttemptFailure{
			Provider: provider.Name(),
			Code:     CodeOf(err),
			Reason:   err.Error(),
		})
		s.log.Warn(req.SubjectID, req.CorrelationID, "provider attempt failed", map[string]interface{}{
			"provider": provider.Name(),
			"code":     string(CodeOf(err)),
		})
	}

	return nil, failures, &AllProvidersError{Attempts: failures}
}
