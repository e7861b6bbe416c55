package events

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus(t *testing.T) {
	bus := NewEventBus(nil)

	var received *Event
	var callCount int
	bus.Subscribe(EventImportFinished, func(event *Event) error {
		received = event
		callCount++
		return nil
	})

	err := bus.PublishJSON(EventImportFinished, ImportEventPayload{RunID: "r1", Kind: "full", Processed: 12})
	require.NoError(t, err)

	assert.Equal(t, 1, callCount)
	require.NotNil(t, received)
	assert.Equal(t, EventImportFinished, received.Type)
	assert.False(t, received.CreatedAt.IsZero())

	var decoded ImportEventPayload
	require.NoError(t, received.Decode(&decoded))
	assert.Equal(t, "r1", decoded.RunID)
	assert.Equal(t, int64(12), decoded.Processed)
}

func TestEventBusMultipleSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	var count1, count2 int

	bus.Subscribe("event", func(_ *Event) error { count1++; return nil })
	bus.Subscribe("event", func(_ *Event) error { count2++; return nil })

	bus.Publish(&Event{Type: "event"})

	assert.Equal(t, 1, count1)
	assert.Equal(t, 1, count2)
}

func TestEventBusNoSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	assert.NotPanics(t, func() { bus.Publish(&Event{Type: "unknown"}) })
	assert.NoError(t, bus.PublishJSON("unknown", nil))

	var nilBus *EventBus
	assert.NoError(t, nilBus.PublishJSON("unknown", nil))
}

func TestEventBusLogsHandlerErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	bus := NewEventBus(&logger)

	called := false
	bus.Subscribe(EventSheetSynced, func(_ *Event) error { return errors.New("sheet down") })
	bus.Subscribe(EventSheetSynced, func(_ *Event) error { called = true; return nil })

	require.NoError(t, bus.PublishJSON(EventSheetSynced, SheetSyncPayload{Rows: 3}))
	assert.True(t, called)
	assert.Contains(t, buf.String(), "sheet down")
}
