package pubsub

import (
	"context"
	"errors"
	"testing"
)

func TestTopicName(t *testing.T) {
	cases := []struct {
		project, topic, want string
		err                  error
	}{
		{project: "proj", topic: "subscription-events", want: "projects/proj/topics/subscription-events"},
		{project: "proj", topic: " subscription-events ", want: "projects/proj/topics/subscription-events"},
		{project: "", topic: "projects/other/topics/t1", want: "projects/other/topics/t1"},
		{project: "", topic: "t1", err: errProjectIDRequired},
		{project: "proj", topic: "", err: errTopicRequired},
	}
	for _, tc := range cases {
		got, err := topicName(tc.project, tc.topic)
		if !errors.Is(err, tc.err) {
			t.Fatalf("topicName(%q, %q) error = %v, want %v", tc.project, tc.topic, err, tc.err)
		}
		if got != tc.want {
			t.Fatalf("topicName(%q, %q) = %q, want %q", tc.project, tc.topic, got, tc.want)
		}
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.SubscriptionEventsPublisher() != nil {
		t.Fatal("expected nil publisher from nil client")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
