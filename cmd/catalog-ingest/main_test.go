package main

import (
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pubSubEvent(t *testing.T, body []byte) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID("1")
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	e.SetSource("//pubsub.googleapis.com/projects/p/topics/ingest")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, map[string]interface{}{
		"message": map[string]interface{}{"data": body, "messageId": "m1"},
	}))
	return e
}

func TestParseTrigger(t *testing.T) {
	t.Run("listing override", func(t *testing.T) {
		trigger, err := parseTrigger(pubSubEvent(t, []byte(`{"listingUrl": "https://database.inahta.org/?page=2"}`)))
		require.NoError(t, err)
		assert.Equal(t, "https://database.inahta.org/?page=2", trigger.ListingURL)
	})

	t.Run("empty message", func(t *testing.T) {
		trigger, err := parseTrigger(pubSubEvent(t, nil))
		require.NoError(t, err)
		assert.Empty(t, trigger.ListingURL)
	})

	t.Run("no event data", func(t *testing.T) {
		trigger, err := parseTrigger(cloudevents.NewEvent())
		require.NoError(t, err)
		assert.Empty(t, trigger.ListingURL)
	})

	t.Run("malformed message", func(t *testing.T) {
		_, err := parseTrigger(pubSubEvent(t, []byte("not json")))
		assert.Error(t, err)
	})
}
