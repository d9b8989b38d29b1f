package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// dialPubSub opens a fresh connection to the fake server. Sinks close their
// client, and with it the connection, when construction fails.
func dialPubSub(t *testing.T, srv *pstest.Server) option.ClientOption {
	t.Helper()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return option.WithGRPCConn(conn)
}

func newPubSubServer(t *testing.T, topics ...string) *pstest.Server {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { srv.Close() })

	admin, err := pubsub.NewClient(context.Background(), "custodia-test", dialPubSub(t, srv))
	require.NoError(t, err)
	defer admin.Close()
	for _, topic := range topics {
		_, err := admin.CreateTopic(context.Background(), topic)
		require.NoError(t, err)
	}
	return srv
}

func TestPubSubSink_MissingTopic(t *testing.T) {
	srv := newPubSubServer(t, "asset-events")

	_, err := NewPubSubSink(context.Background(), "custodia-test", "missing-topic", dialPubSub(t, srv))
	assert.ErrorContains(t, err, `topic "missing-topic" does not exist`)
}

func TestPubSubSink_Deliver(t *testing.T) {
	ctx := context.Background()
	srv := newPubSubServer(t, "asset-events")

	sink, err := NewPubSubSink(ctx, "custodia-test", "asset-events", dialPubSub(t, srv))
	require.NoError(t, err)
	defer sink.Close()

	event := Event{
		Type:       EventDiscrepancyOpened,
		EntityType: "Discrepancy",
		EntityID:   9,
		AssetID:    3,
		Actor:      "op-1",
		At:         time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, sink.Deliver(ctx, event))

	messages := srv.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, EventDiscrepancyOpened, messages[0].Attributes["type"])
	assert.Equal(t, "Discrepancy", messages[0].Attributes["entity_type"])

	var got Event
	require.NoError(t, json.Unmarshal(messages[0].Data, &got))
	assert.Equal(t, event, got)
}
