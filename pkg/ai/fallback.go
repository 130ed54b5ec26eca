package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"crm-backend/pkg/logger"
)

// FallbackService routes every prompt to the primary provider and retries on
// the secondary when the primary is unreachable or out of quota.
type FallbackService struct {
	primary   TextGenerator
	secondary TextGenerator
	lastModel string
}

func NewFallbackService(primary, secondary TextGenerator) *FallbackService {
	return &FallbackService{primary: primary, secondary: secondary}
}

// isConnectionError checks if the error is a network/connection error
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return containsAny(err.Error(),
		"connection refused",
		"no such host",
		"network is unreachable",
		"connection reset",
		"timeout",
		"dial tcp",
		"EOF",
	)
}

// isQuotaError checks if the error indicates API quota exhaustion (429)
func isQuotaError(err error) bool {
	if err == nil {
		return false
	}
	return containsAny(err.Error(),
		"429",
		"quota",
		"rate limit",
		"too many requests",
		"resource exhausted",
	)
}

func containsAny(s string, indicators ...string) bool {
	s = strings.ToLower(s)
	for _, indicator := range indicators {
		if strings.Contains(s, strings.ToLower(indicator)) {
			return true
		}
	}
	return false
}

func (f *FallbackService) Generate(ctx context.Context, prompt string) (string, error) {
	log := logger.With("ai")

	out, err := f.primary.Generate(ctx, prompt)
	if err == nil {
		f.lastModel = f.primary.Model()
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	if !isConnectionError(err) && !isQuotaError(err) {
		return "", err
	}

	log.Warn().Err(err).Str("primary", f.primary.Model()).Str("secondary", f.secondary.Model()).
		Msg("primary provider unavailable, falling back")

	out, fbErr := f.secondary.Generate(ctx, prompt)
	if fbErr != nil {
		return "", fmt.Errorf("primary failed (%v), fallback failed: %w", err, fbErr)
	}
	f.lastModel = f.secondary.Model()
	return out, nil
}

// Model reports the provider that answered last, or the primary before any call.
func (f *FallbackService) Model() string {
	if f.lastModel != "" {
		return f.lastModel
	}
	return f.primary.Model()
}
