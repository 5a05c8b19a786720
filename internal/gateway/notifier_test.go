package gateway_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchx/searchx/internal/gateway"
	"github.com/searchx/searchx/internal/monitoring"
)

func TestHub_NoSubscribersIsNoop(t *testing.T) {
	metrics := monitoring.NewMetricsCollector()
	hub := gateway.NewHub(2, metrics)

	hub.Notify(context.Background(), gateway.Notification{Type: gateway.NotifyError, Error: "x"})
	assert.Equal(t, int64(0), metrics.Stats()["notifications_sent"])
	assert.Equal(t, int64(0), metrics.Stats()["notifications_dropped"])
}

func TestHub_FullBufferDrops(t *testing.T) {
	metrics := monitoring.NewMetricsCollector()
	hub := gateway.NewHub(1, metrics)
	ch, cancel := hub.Subscribe()
	defer cancel()

	hub.Notify(context.Background(), gateway.Notification{Type: gateway.NotifySimplifiedText, Text: "one"})
	hub.Notify(context.Background(), gateway.Notification{Type: gateway.NotifySimplifiedText, Text: "two"})

	got := <-ch
	assert.Equal(t, "one", got.Text)
	assert.Equal(t, int64(1), metrics.Stats()["notifications_sent"])
	assert.Equal(t, int64(1), metrics.Stats()["notifications_dropped"])
}

func TestHub_FanOut(t *testing.T) {
	hub := gateway.NewHub(4, nil)
	a, cancelA := hub.Subscribe()
	b, cancelB := hub.Subscribe()
	defer cancelA()
	defer cancelB()
	require.Equal(t, 2, hub.Subscribers())

	n := gateway.Notification{Type: gateway.NotifyAPIKeyError, Error: gateway.MsgInvalidAPIKey}
	hub.Notify(context.Background(), n)
	assert.Equal(t, n, <-a)
	assert.Equal(t, n, <-b)
}

func TestHub_CancelAfterClose(t *testing.T) {
	hub := gateway.NewHub(1, nil)
	ch, cancel := hub.Subscribe()

	hub.Close()
	_, open := <-ch
	assert.False(t, open)
	assert.NotPanics(t, cancel)
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := gateway.NewHub(1, nil)
	hub.Close()

	ch, cancel := hub.Subscribe()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers())
	assert.NotPanics(t, cancel)

	hub.Notify(context.Background(), gateway.Notification{Type: gateway.NotifyError, Error: "late"})
}
