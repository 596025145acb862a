// Package refresh consumes warehouse load notifications and rotates the
// cached dataset snapshots they affect.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/dataset"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

const consumerName = "warehouse-refresh"

// Notification is published by the warehouse loader after an extract table
// is rebuilt. An empty Datasets list means every dataset changed.
type Notification struct {
	EventID     string    `json:"event_id"`
	Datasets    []string  `json:"datasets"`
	CompletedAt time.Time `json:"completed_at"`
}

// SnapshotRotator drops and rebuilds dataset snapshots.
type SnapshotRotator interface {
	Invalidate(ctx context.Context, datasets ...query.Dataset) error
	Refresh(ctx context.Context, ds query.Dataset) (dataset.Stats, error)
}

type claimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Service consumes warehouse refresh notifications from Pub/Sub while honoring
// Redis idempotency.
type Service struct {
	subscription receiver
	rotator      SnapshotRotator
	guard        claimer
	warm         bool
	logg         *logger.Logger
}

// Params configures the refresh consumer. Warm rebuilds invalidated snapshots
// immediately instead of on the next read.
type Params struct {
	Subscription *gcppubsub.Subscriber
	Rotator      SnapshotRotator
	Guard        claimer
	Warm         bool
	Logger       *logger.Logger
}

// NewService creates a new refresh consumer.
func NewService(params Params) (*Service, error) {
	if params.Subscription == nil {
		return nil, errors.New("refresh subscription is required")
	}
	if params.Rotator == nil {
		return nil, errors.New("snapshot rotator is required")
	}
	if params.Guard == nil {
		return nil, errors.New("idempotency guard is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: params.Subscription,
		rotator:      params.Rotator,
		guard:        params.Guard,
		warm:         params.Warm,
		logg:         params.Logger,
	}, nil
}

type processResult struct {
	nack bool
}

// Run consumes notifications until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	fields := map[string]any{"message_id": msg.ID}

	eventID, datasets, err := decode(msg)
	if err != nil {
		fields["error"] = err.Error()
		s.logg.Warn(s.logg.WithFields(ctx, fields), "invalid refresh notification")
		return processResult{}
	}
	fields["event_id"] = eventID.String()
	fields["datasets"] = datasetNames(datasets)
	logCtx := s.logg.WithFields(ctx, fields)

	claimed, err := s.guard.Claim(logCtx, consumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if !claimed {
		s.logg.Info(logCtx, "refresh notification already processed")
		return processResult{}
	}

	if err := s.rotate(logCtx, datasets); err != nil {
		s.logg.Error(logCtx, "snapshot rotation failed", err)
		if relErr := s.guard.Release(logCtx, consumerName, eventID); relErr != nil {
			s.logg.Error(logCtx, "failed to release idempotency claim", relErr)
		}
		return processResult{nack: true}
	}

	s.logg.Info(logCtx, "snapshots rotated")
	return processResult{}
}

func (s *Service) rotate(ctx context.Context, datasets []query.Dataset) error {
	if err := s.rotator.Invalidate(ctx, datasets...); err != nil {
		return err
	}
	if !s.warm {
		return nil
	}
	for _, ds := range datasets {
		stats, err := s.rotator.Refresh(ctx, ds)
		if err != nil {
			return fmt.Errorf("warm %s: %w", ds, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"dataset":     string(ds),
			"rows":        stats.Rows,
			"fingerprint": stats.Fingerprint,
		}), "snapshot warmed")
	}
	return nil
}

func decode(msg *gcppubsub.Message) (uuid.UUID, []query.Dataset, error) {
	var note Notification
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &note); err != nil {
			return uuid.Nil, nil, fmt.Errorf("decode notification: %w", err)
		}
	}

	rawID := strings.TrimSpace(note.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	var eventID uuid.UUID
	switch {
	case rawID != "":
		parsed, err := uuid.Parse(rawID)
		if err != nil {
			return uuid.Nil, nil, fmt.Errorf("event_id: %w", err)
		}
		eventID = parsed
	case strings.TrimSpace(msg.ID) != "":
		eventID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(msg.ID))
	default:
		return uuid.Nil, nil, errors.New("event_id missing")
	}

	names := note.Datasets
	if len(names) == 0 {
		if attr := strings.TrimSpace(msg.Attributes["dataset"]); attr != "" {
			names = []string{attr}
		}
	}
	datasets, err := parseDatasets(names)
	if err != nil {
		return uuid.Nil, nil, err
	}
	return eventID, datasets, nil
}

func parseDatasets(names []string) ([]query.Dataset, error) {
	if len(names) == 0 {
		return query.Datasets(), nil
	}
	seen := map[query.Dataset]struct{}{}
	out := make([]query.Dataset, 0, len(names))
	for _, name := range names {
		ds := query.Dataset(strings.ToLower(strings.TrimSpace(name)))
		if !ds.IsValid() {
			return nil, fmt.Errorf("unknown dataset %q", name)
		}
		if _, dup := seen[ds]; dup {
			continue
		}
		seen[ds] = struct{}{}
		out = append(out, ds)
	}
	return out, nil
}

func datasetNames(datasets []query.Dataset) []string {
	names := make([]string, len(datasets))
	for i, ds := range datasets {
		names[i] = string(ds)
	}
	return names
}
