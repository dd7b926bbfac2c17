package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medface/internal/models"
	"github.com/your-org/medface/pkg/dto"
)

func receive(t *testing.T, c *Client) *dto.WSEvent {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "client channel closed")
		var evt dto.WSEvent
		require.NoError(t, json.Unmarshal(data, &evt))
		return &evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestHub_FiltersByPatient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub()
	go h.Run(ctx)

	all := &Client{send: make(chan []byte, 8)}
	onlyP1 := &Client{send: make(chan []byte, 8), patientID: "p1"}
	require.True(t, h.join(all))
	require.True(t, h.join(onlyP1))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h.Notify(ctx, models.Event{Type: models.EventRecordUploaded, PatientID: "p2", File: "b.pdf", Timestamp: ts})
	h.Notify(ctx, models.Event{Type: models.EventRecordUploaded, PatientID: "p1", File: "a.pdf", Timestamp: ts})

	first := receive(t, all)
	assert.Equal(t, "p2", first.PatientID)
	second := receive(t, all)
	assert.Equal(t, "p1", second.PatientID)

	got := receive(t, onlyP1)
	assert.Equal(t, "a.pdf", got.File)
	assert.Equal(t, "2026-01-02T03:04:05Z", got.Timestamp)
	assert.Empty(t, onlyP1.send)
}

func TestHub_JoinAndLeaveAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub()
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := &Client{send: make(chan []byte, 1)}
	require.True(t, h.join(c))

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	_, open := <-c.send
	assert.False(t, open, "Run closes clients on shutdown")

	returned := make(chan bool)
	go func() {
		h.leave(c)
		returned <- h.join(&Client{send: make(chan []byte, 1)})
	}()
	select {
	case joined := <-returned:
		assert.False(t, joined)
	case <-time.After(2 * time.Second):
		t.Fatal("join/leave blocked on a stopped hub")
	}
}

func TestToWSEvent(t *testing.T) {
	d := 0.25
	evt := ToWSEvent(models.Event{Type: models.EventPatientRecognized, PatientID: "p", Distance: &d})
	assert.Equal(t, models.EventPatientRecognized, evt.Type)
	require.NotNil(t, evt.Distance)
	assert.Equal(t, 0.25, *evt.Distance)
}
