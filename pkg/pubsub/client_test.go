package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/pushpay-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	cases := []struct {
		project string
		kind    resourceKind
		name    string
		want    string
	}{
		{"proj", topicKind, "payments", "projects/proj/topics/payments"},
		{"proj", topicKind, "  payments ", "projects/proj/topics/payments"},
		{"", topicKind, "payments", ""},
		{"proj", topicKind, "", ""},
		{"", topicKind, "projects/other/topics/payments", "projects/other/topics/payments"},
		{"proj", subscriptionKind, "events", "projects/proj/subscriptions/events"},
		{"", subscriptionKind, "projects/x/subscriptions/events", "projects/x/subscriptions/events"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, resourceName(tc.project, tc.kind, tc.name), "%s %s", tc.kind, tc.name)
	}
}

func TestTopicNames(t *testing.T) {
	assert.Empty(t, topicNames(config.PubSubConfig{PaymentsTopic: " "}))
	assert.Equal(t, []string{"payments"}, topicNames(config.PubSubConfig{PaymentsTopic: "payments"}))
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("payments"))
	assert.Nil(t, c.PaymentsSubscription())
	assert.ErrorIs(t, c.EnsureSubscription(context.Background(), "events"), errNotInitialized)
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Ping(context.Background()), errNotInitialized)
}

func TestDescribeLookup(t *testing.T) {
	assert.NoError(t, describeLookup("topic", "payments", nil))
	assert.EqualError(t, describeLookup("topic", "payments", status.Error(codes.NotFound, "gone")), `topic "payments" does not exist`)

	unavailable := status.Error(codes.Unavailable, "try later")
	err := describeLookup("subscription", "events", unavailable)
	assert.ErrorIs(t, err, unavailable)
	assert.Contains(t, err.Error(), `checking subscription "events"`)
}
