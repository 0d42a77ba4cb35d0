package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/artificer-ai/artificer/internal/observability"
	"github.com/artificer-ai/artificer/internal/tracing"
	"github.com/artificer-ai/artificer/pkg/provider"
)

// cooldownUnitMs is the per-failure cooldown increment. A profile that has
// failed n times in a row sits out n minutes.
const cooldownUnitMs int64 = 60_000

// failoverState tracks per-profile health across turns. Profiles are tried
// in priority order; ones in cooldown are skipped until their window ends.
type failoverState struct {
	mu       sync.Mutex
	profiles []provider.AuthProfile
}

func newFailoverState(profiles []provider.AuthProfile) *failoverState {
	copied := make([]provider.AuthProfile, len(profiles))
	copy(copied, profiles)
	sort.SliceStable(copied, func(i, j int) bool {
		return copied[i].Priority < copied[j].Priority
	})
	return &failoverState{profiles: copied}
}

// candidates returns the profiles eligible right now, in priority order.
func (f *failoverState) candidates() []provider.AuthProfile {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now().UnixMilli()
	eligible := make([]provider.AuthProfile, 0, len(f.profiles))
	for _, p := range f.profiles {
		if p.CooldownUntil != nil && *p.CooldownUntil > now {
			continue
		}
		eligible = append(eligible, p)
	}
	return eligible
}

func (f *failoverState) markFailure(profileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.profiles {
		if f.profiles[i].ID != profileID {
			continue
		}
		f.profiles[i].FailureCount++
		until := time.Now().UnixMilli() + cooldownUnitMs*int64(f.profiles[i].FailureCount)
		f.profiles[i].CooldownUntil = &until
		observability.SetProviderCooldown(f.profiles[i].Provider, true)
		return
	}
}

func (f *failoverState) markSuccess(profileID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.profiles {
		if f.profiles[i].ID != profileID {
			continue
		}
		f.profiles[i].FailureCount = 0
		f.profiles[i].CooldownUntil = nil
		observability.SetProviderCooldown(f.profiles[i].Provider, false)
		return
	}
}

// submit runs one model request, walking auth profiles until one answers.
// Non-retryable errors stop the walk immediately; a fully cooled-down or
// exhausted profile list is an error.
func (o *Orchestrator) submit(ctx context.Context, req provider.Request) (*provider.ModelResponse, error) {
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	eligible := o.failover.candidates()
	if len(eligible) == 0 {
		return nil, fmt.Errorf("all auth profiles are cooling down")
	}

	var lastErr error
	for _, profile := range eligible {
		backend, err := o.factory.NewProvider(profile)
		if err != nil {
			lastErr = err
			logger.Warn().Str("profile", profile.ID).Err(err).Msg("Failed to build provider")
			continue
		}

		if profile.Model != "" {
			req.Model = profile.Model
		}

		start := time.Now()
		resp, err := backend.Submit(ctx, req)
		observability.RecordProviderCall(backend.Name(), time.Since(start), err == nil)

		if err == nil {
			o.failover.markSuccess(profile.ID)
			return resp, nil
		}

		lastErr = err
		o.failover.markFailure(profile.ID)
		logger.Warn().
			Str("profile", profile.ID).
			Str("provider", backend.Name()).
			Err(err).
			Msg("Provider call failed")

		if !provider.IsRetryableError(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}
