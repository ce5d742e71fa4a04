package config

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
	pubsubTopics   = map[string]*pubsub.Topic{}
)

func getPubSubProjectID() string {
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" {
		return v
	}
	if v := os.Getenv("GCP_PROJECT"); v != "" {
		return v
	}
	return ""
}

// PubSubConfigured reports whether a Pub/Sub project is set in the environment.
func PubSubConfigured() bool {
	return getPubSubProjectID() != ""
}

func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	if pubsubClient != nil {
		c := pubsubClient
		pubsubClientMu.Unlock()
		return c, nil
	}
	pubsubClientMu.Unlock()

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON")

	var attempt int
	for {
		attempt++

		var (
			c   *pubsub.Client
			err error
		)
		if credJSON != "" {
			c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
		} else {
			c, err = pubsub.NewClient(ctx, projectID)
		}
		if err == nil {
			pubsubClientMu.Lock()
			if pubsubClient == nil {
				pubsubClient = c
			} else {
				// Another goroutine won the race; close ours.
				_ = c.Close()
			}
			c2 := pubsubClient
			pubsubClientMu.Unlock()

			log.Printf("pubsub client ready (project_id=%s attempt=%d)", projectID, attempt)
			return c2, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		log.Printf("failed to init pubsub client (project_id=%s attempt=%d): %v; retrying in %s", projectID, attempt, err, sleep)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

func getTopic(c *pubsub.Client, name string) *pubsub.Topic {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if t, ok := pubsubTopics[name]; ok {
		return t
	}
	t := c.Topic(name)
	pubsubTopics[name] = t
	return t
}

// PublishWithResult publishes data to topicName and returns the server-assigned message ID.
func PublishWithResult(ctx context.Context, topicName string, data []byte, attrs map[string]string) (string, error) {
	if topicName == "" {
		return "", errors.New("topic is required")
	}
	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	result := getTopic(client, topicName).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %q: %w", topicName, err)
	}
	return id, nil
}

// ClosePubSub stops cached topics and closes the client (best-effort, shutdown only).
func ClosePubSub() {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	for _, t := range pubsubTopics {
		t.Stop()
	}
	pubsubTopics = map[string]*pubsub.Topic{}
	if pubsubClient != nil {
		_ = pubsubClient.Close()
		pubsubClient = nil
	}
}
