package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/engagement-metrics/pkg/config"
)

func TestSubscriptionNames(t *testing.T) {
	if got := subscriptionNames(config.PubSubConfig{}); len(got) != 0 {
		t.Fatalf("expected no subscriptions, got %v", got)
	}
	got := subscriptionNames(config.PubSubConfig{WarehouseRefreshSubscription: "  warehouse-refresh-sub "})
	if len(got) != 1 || got[0] != "warehouse-refresh-sub" {
		t.Fatalf("unexpected subscriptions %v", got)
	}
}

func TestSubscriptionResourceName(t *testing.T) {
	c := &Client{projectID: "proj"}
	cases := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "refresh", want: "projects/proj/subscriptions/refresh"},
		{in: "projects/other/subscriptions/refresh", want: "projects/other/subscriptions/refresh"},
	}
	for _, tc := range cases {
		if got := c.subscriptionResourceName(tc.in); got != tc.want {
			t.Fatalf("subscriptionResourceName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if got := (&Client{}).subscriptionResourceName("refresh"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
}

func TestNilClientAccessors(t *testing.T) {
	var c *Client
	if c.WarehouseRefreshSubscription() != nil {
		t.Fatal("expected nil subscriber from nil client")
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close nil client: %v", err)
	}
}
