// Package pubsub wraps the Pub/Sub v2 client for the intake subscription
// and the domain events topic.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/catalog-media/pkg/config"
	"github.com/angelmondragon/catalog-media/pkg/logger"
)

// Need lists the resources a process depends on. NewClient and Ping verify
// that each one exists.
type Need uint8

const (
	NeedIntake Need = 1 << iota
	NeedEvents
)

var errProjectIDRequired = errors.New("gcp project id is required")

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
	needs     Need
}

func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, needs Need, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	if needs&NeedIntake != 0 && strings.TrimSpace(cfg.IntakeSubscription) == "" {
		return nil, errors.New("intake subscription name is required")
	}
	if needs&NeedEvents != 0 && strings.TrimSpace(cfg.EventsTopic) == "" {
		return nil, errors.New("events topic name is required")
	}

	psClient, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{client: psClient, projectID: project, cfg: cfg, needs: needs}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"intake": c.cfg.IntakeSubscription,
			"events": c.cfg.EventsTopic,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks that every needed subscription and topic exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if c.needs&NeedIntake != 0 {
		name := c.resourceName("subscriptions", c.cfg.IntakeSubscription)
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		if err := describeLookup("subscription", c.cfg.IntakeSubscription, err); err != nil {
			return err
		}
	}
	if c.needs&NeedEvents != 0 {
		name := c.resourceName("topics", c.cfg.EventsTopic)
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		if err := describeLookup("topic", c.cfg.EventsTopic, err); err != nil {
			return err
		}
	}
	return nil
}

func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// IntakeSubscription receives upload bucket notifications.
func (c *Client) IntakeSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName("subscriptions", c.cfg.IntakeSubscription)
	if name == "" {
		return nil
	}
	return c.client.Subscriber(name)
}

// Publisher returns a handle for a topic id or full resource name.
func (c *Client) Publisher(topic string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := c.resourceName("topics", topic)
	if name == "" {
		return nil
	}
	return c.client.Publisher(name)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands an id to projects/<project>/<collection>/<id>. Full
// resource names pass through.
func (c *Client) resourceName(collection, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+collection+"/") {
		return n
	}
	if c.projectID == "" {
		return ""
	}
	return "projects/" + c.projectID + "/" + collection + "/" + n
}
