package query

import (
	"context"
	"errors"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

// breakerSource fails fast once the warehouse has failed repeatedly.
type breakerSource struct {
	next         Source
	interactions *gobreaker.CircuitBreaker[[]types.InteractionRecord]
	surveys      *gobreaker.CircuitBreaker[[]types.SurveyPurchaseRecord]
}

// WithBreaker wraps a source with one circuit breaker per dataset.
func WithBreaker(next Source, cfg config.BreakerConfig, logg *logger.Logger) Source {
	return &breakerSource{
		next:         next,
		interactions: gobreaker.NewCircuitBreaker[[]types.InteractionRecord](breakerSettings(string(DatasetInteractions), cfg, logg)),
		surveys:      gobreaker.NewCircuitBreaker[[]types.SurveyPurchaseRecord](breakerSettings(string(DatasetSurveys), cfg, logg)),
	}
}

func breakerSettings(name string, cfg config.BreakerConfig, logg *logger.Logger) gobreaker.Settings {
	threshold := cfg.MaxFailures
	if threshold == 0 {
		threshold = 1
	}
	return gobreaker.Settings{
		Name:        "warehouse-" + name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "warehouse circuit breaker state change")
		},
	}
}

func (b *breakerSource) Fingerprint(dataset Dataset) string {
	return b.next.Fingerprint(dataset)
}

func (b *breakerSource) Interactions(ctx context.Context) ([]types.InteractionRecord, error) {
	rows, err := b.interactions.Execute(func() ([]types.InteractionRecord, error) {
		return b.next.Interactions(ctx)
	})
	return rows, breakerError(DatasetInteractions, err)
}

func (b *breakerSource) Surveys(ctx context.Context) ([]types.SurveyPurchaseRecord, error) {
	rows, err := b.surveys.Execute(func() ([]types.SurveyPurchaseRecord, error) {
		return b.next.Surveys(ctx)
	})
	return rows, breakerError(DatasetSurveys, err)
}

func breakerError(dataset Dataset, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "warehouse temporarily unavailable for "+string(dataset))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "extract "+string(dataset))
}
