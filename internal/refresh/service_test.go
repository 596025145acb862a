package refresh

import (
	"context"
	"errors"
	"io"
	"testing"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/angelmondragon/engagement-metrics/internal/engagement/dataset"
	"github.com/angelmondragon/engagement-metrics/internal/engagement/query"
	"github.com/angelmondragon/engagement-metrics/pkg/logger"
)

func TestProcessRotatesNamedDatasets(t *testing.T) {
	rotator := &stubRotator{}
	guard := newStubGuard()
	svc := newTestService(rotator, guard, true)

	eventID := uuid.New()
	res := svc.process(context.Background(), buildMessage(t, Notification{
		EventID:  eventID.String(),
		Datasets: []string{"Surveys", "surveys"},
	}, nil))
	if res.nack {
		t.Fatal("expected ack")
	}
	if len(rotator.invalidated) != 1 || rotator.invalidated[0] != query.DatasetSurveys {
		t.Fatalf("unexpected invalidation %v", rotator.invalidated)
	}
	if len(rotator.refreshed) != 1 || rotator.refreshed[0] != query.DatasetSurveys {
		t.Fatalf("expected surveys warmed, got %v", rotator.refreshed)
	}
	if !guard.claimed[eventID] {
		t.Fatal("expected event to stay claimed")
	}
}

func TestProcessDefaultsToEveryDataset(t *testing.T) {
	rotator := &stubRotator{}
	svc := newTestService(rotator, newStubGuard(), false)

	res := svc.process(context.Background(), buildMessage(t, Notification{EventID: uuid.NewString()}, nil))
	if res.nack {
		t.Fatal("expected ack")
	}
	if len(rotator.invalidated) != 2 {
		t.Fatalf("expected both datasets invalidated, got %v", rotator.invalidated)
	}
	if len(rotator.refreshed) != 0 {
		t.Fatalf("cold rotation should not warm, got %v", rotator.refreshed)
	}
}

func TestProcessFallsBackToAttributesAndMessageID(t *testing.T) {
	rotator := &stubRotator{}
	guard := newStubGuard()
	svc := newTestService(rotator, guard, false)

	msg := &gcppubsub.Message{ID: "msg-42", Attributes: map[string]string{"dataset": "interactions"}}
	if res := svc.process(context.Background(), msg); res.nack {
		t.Fatal("expected ack")
	}
	if len(rotator.invalidated) != 1 || rotator.invalidated[0] != query.DatasetInteractions {
		t.Fatalf("unexpected invalidation %v", rotator.invalidated)
	}
	derived := uuid.NewSHA1(uuid.NameSpaceOID, []byte("msg-42"))
	if !guard.claimed[derived] {
		t.Fatal("expected claim keyed on derived message id")
	}
}

func TestProcessDuplicateIsAcked(t *testing.T) {
	rotator := &stubRotator{}
	guard := newStubGuard()
	svc := newTestService(rotator, guard, false)
	msg := buildMessage(t, Notification{EventID: uuid.NewString()}, nil)

	svc.process(context.Background(), msg)
	res := svc.process(context.Background(), msg)
	if res.nack {
		t.Fatal("duplicate should ack")
	}
	if rotator.invalidateCalls != 1 {
		t.Fatalf("expected a single rotation, got %d", rotator.invalidateCalls)
	}
}

func TestProcessRotationFailureReleasesClaim(t *testing.T) {
	rotator := &stubRotator{refreshErr: errors.New("warehouse down")}
	guard := newStubGuard()
	svc := newTestService(rotator, guard, true)
	eventID := uuid.New()

	res := svc.process(context.Background(), buildMessage(t, Notification{EventID: eventID.String()}, nil))
	if !res.nack {
		t.Fatal("expected nack on rotation failure")
	}
	if guard.claimed[eventID] {
		t.Fatal("claim should be released for redelivery")
	}
	if len(guard.released) != 1 {
		t.Fatalf("expected one release, got %d", len(guard.released))
	}
}

func TestProcessGuardFailureNacks(t *testing.T) {
	rotator := &stubRotator{}
	guard := newStubGuard()
	guard.claimErr = errors.New("redis down")
	svc := newTestService(rotator, guard, false)

	res := svc.process(context.Background(), buildMessage(t, Notification{EventID: uuid.NewString()}, nil))
	if !res.nack {
		t.Fatal("expected nack when idempotency check fails")
	}
	if rotator.invalidateCalls != 0 {
		t.Fatal("rotation should not run without a claim")
	}
}

func TestProcessInvalidNotificationIsAcked(t *testing.T) {
	cases := map[string]*gcppubsub.Message{
		"bad json":        {ID: "m1", Data: []byte("not json")},
		"bad event id":    {ID: "m2", Data: []byte(`{"event_id":"nope"}`)},
		"unknown dataset": {ID: "m3", Data: []byte(`{"datasets":["orders"]}`)},
		"no identity":     {Data: []byte(`{}`)},
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			rotator := &stubRotator{}
			guard := newStubGuard()
			svc := newTestService(rotator, guard, false)
			if res := svc.process(context.Background(), msg); res.nack {
				t.Fatal("invalid notification should ack")
			}
			if rotator.invalidateCalls != 0 || guard.claimCalls != 0 {
				t.Fatal("invalid notification must not reach the guard or rotator")
			}
		})
	}
}

func TestNewServiceValidates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "refresh-test", Output: io.Discard})
	if _, err := NewService(Params{Rotator: &stubRotator{}, Guard: newStubGuard(), Logger: logg}); err == nil {
		t.Fatal("expected error for missing subscription")
	}
}

func buildMessage(t *testing.T, note Notification, attrs map[string]string) *gcppubsub.Message {
	t.Helper()
	data, err := json.Marshal(note)
	if err != nil {
		t.Fatalf("marshal notification: %v", err)
	}
	return &gcppubsub.Message{ID: "msg-1", Data: data, Attributes: attrs}
}

func newTestService(rotator *stubRotator, guard *stubGuard, warm bool) *Service {
	return &Service{
		rotator: rotator,
		guard:   guard,
		warm:    warm,
		logg:    logger.New(logger.Options{ServiceName: "refresh-test", Output: io.Discard}),
	}
}

type stubRotator struct {
	invalidateCalls int
	invalidated     []query.Dataset
	refreshed       []query.Dataset
	refreshErr      error
}

func (s *stubRotator) Invalidate(_ context.Context, datasets ...query.Dataset) error {
	s.invalidateCalls++
	s.invalidated = append(s.invalidated, datasets...)
	return nil
}

func (s *stubRotator) Refresh(_ context.Context, ds query.Dataset) (dataset.Stats, error) {
	s.refreshed = append(s.refreshed, ds)
	if s.refreshErr != nil {
		return dataset.Stats{}, s.refreshErr
	}
	return dataset.Stats{Dataset: ds, Rows: 3}, nil
}

type stubGuard struct {
	claimed    map[uuid.UUID]bool
	released   []uuid.UUID
	claimCalls int
	claimErr   error
}

func newStubGuard() *stubGuard {
	return &stubGuard{claimed: map[uuid.UUID]bool{}}
}

func (g *stubGuard) Claim(_ context.Context, _ string, eventID uuid.UUID) (bool, error) {
	g.claimCalls++
	if g.claimErr != nil {
		return false, g.claimErr
	}
	if g.claimed[eventID] {
		return false, nil
	}
	g.claimed[eventID] = true
	return true, nil
}

func (g *stubGuard) Release(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(g.claimed, eventID)
	g.released = append(g.released, eventID)
	return nil
}
