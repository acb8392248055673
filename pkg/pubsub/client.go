package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

// Forwarded events are published one at a time inside the webhook
// transaction, so batching only adds latency.
const publishDelayThreshold = 5 * time.Millisecond

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub subscription events topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

// Client owns the Pub/Sub connection and the single publisher used to
// forward subscription events.
type Client struct {
	client *pubsub.Client
	topic  string

	once      sync.Once
	publisher *pubsub.Publisher
}

// NewClient connects and fails fast when the events topic is missing.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	topic, err := topicName(gcp.ProjectID, cfg.SubscriptionEventsTopic)
	if err != nil {
		return nil, err
	}

	psClient, err := pubsub.NewClient(ctx, strings.TrimSpace(gcp.ProjectID))
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, topic: topic}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", topic), "pubsub client initialized")
	}
	return c, nil
}

// SubscriptionEventsPublisher returns the shared publisher for the events
// topic. Close flushes it.
func (c *Client) SubscriptionEventsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	c.once.Do(func() {
		p := c.client.Publisher(c.topic)
		p.PublishSettings.DelayThreshold = publishDelayThreshold
		c.publisher = p
	})
	return c.publisher
}

// Ping checks that the events topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topic})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %q does not exist", c.topic)
	default:
		return fmt.Errorf("checking topic %q: %w", c.topic, err)
	}
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.publisher != nil {
		c.publisher.Stop()
	}
	return c.client.Close()
}

// topicName expands a topic id to projects/<project>/topics/<id>. Full
// resource names pass through unchanged.
func topicName(projectID, topic string) (string, error) {
	t := strings.TrimSpace(topic)
	if t == "" {
		return "", errTopicRequired
	}
	if strings.HasPrefix(t, "projects/") && strings.Contains(t, "/topics/") {
		return t, nil
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return "", errProjectIDRequired
	}
	return "projects/" + p + "/topics/" + t, nil
}
