package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/types"
	"github.com/angelmondragon/engagement-metrics/pkg/config"
	pkgerrors "github.com/angelmondragon/engagement-metrics/pkg/errors"
)

type flakySource struct {
	err   error
	calls int
}

func (f *flakySource) Interactions(context.Context) ([]types.InteractionRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []types.InteractionRecord{{MakerID: "m1"}}, nil
}

func (f *flakySource) Surveys(context.Context) ([]types.SurveyPurchaseRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []types.SurveyPurchaseRecord{{MakerID: "m1"}}, nil
}

func (f *flakySource) Fingerprint(dataset Dataset) string {
	return "fp-" + string(dataset)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakySource{err: errors.New("warehouse down")}
	source := WithBreaker(inner, config.BreakerConfig{MaxFailures: 2, OpenTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := source.Interactions(ctx); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}
	_, err := source.Interactions(ctx)
	if err == nil {
		t.Fatal("expected open breaker error")
	}
	if inner.calls != 2 {
		t.Fatalf("open breaker should not reach the warehouse, calls=%d", inner.calls)
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency code, got %s", pkgerrors.As(err).Code())
	}

	// surveys have their own breaker
	inner.err = nil
	rows, err := source.Surveys(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("surveys should still flow, rows=%d err=%v", len(rows), err)
	}
}

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakySource{}
	source := WithBreaker(inner, config.BreakerConfig{MaxFailures: 1}, nil)

	rows, err := source.Interactions(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 || rows[0].MakerID != "m1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if got := source.Fingerprint(DatasetSurveys); got != "fp-surveys" {
		t.Fatalf("fingerprint should delegate, got %s", got)
	}
}
