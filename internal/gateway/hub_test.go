package gateway

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lastofguss/guss/internal/events"
	"github.com/lastofguss/guss/internal/models"
)

func newTestHub() *Hub {
	return NewHub(nil, nil, events.NewBus(16), DefaultConfig())
}

func newTestConnection(h *Hub, buffer int) *Connection {
	conn := &Connection{
		ID:          uuid.New().String(),
		Principal:   &models.User{ID: uuid.New(), Username: "alice", Role: models.UserRoleSurvivor},
		Send:        make(chan []byte, buffer),
		Hub:         h,
		ConnectedAt: time.Now(),
		subscribed:  make(map[uuid.UUID]struct{}),
	}
	h.register(conn)
	return conn
}

func readFrame(t *testing.T, conn *Connection) ServerMessage {
	t.Helper()
	select {
	case frame := <-conn.Send:
		var msg ServerMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
		return ServerMessage{}
	}
}

func TestBroadcastRacingDisconnectDoesNotPanic(t *testing.T) {
	hub := newTestHub()
	roundID := uuid.New()
	ev := events.Event{ID: uuid.NewString(), Type: events.TypeListRefresh, Timestamp: time.Now()}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		conn := newTestConnection(hub, 2048)
		conn.subscribe(roundID)

		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				hub.relay(ev)
			}
		}()
		go func() {
			defer wg.Done()
			hub.unregister(conn)
		}()
	}
	wg.Wait()

	if hub.ConnectionCount() != 0 {
		t.Errorf("connections = %d, want 0", hub.ConnectionCount())
	}
}

func TestTrySendAfterCloseDropsFrame(t *testing.T) {
	hub := newTestHub()
	conn := newTestConnection(hub, 4)

	hub.unregister(conn)
	// Unregister twice is a no-op.
	hub.unregister(conn)

	conn.trySend([]byte(`{"type":"rounds:list:refresh"}`))

	if _, open := <-conn.Send; open {
		t.Error("send channel still open after unregister")
	}
}

func TestRelayScopesRoundEvents(t *testing.T) {
	hub := newTestHub()
	roundID := uuid.New()

	subscribed := newTestConnection(hub, 4)
	subscribed.subscribe(roundID)
	bystander := newTestConnection(hub, 4)

	payload, _ := json.Marshal(events.ScoreUpdatedPayload{TotalScore: 9})
	hub.relay(events.Event{
		ID:        uuid.NewString(),
		Type:      events.TypeScoreUpdated,
		RoundID:   roundID,
		Timestamp: time.Now(),
		Data:      payload,
	})

	msg := readFrame(t, subscribed)
	if msg.Type != string(events.TypeScoreUpdated) || msg.RoundID != roundID.String() {
		t.Errorf("frame = %+v, want score update for %s", msg, roundID)
	}
	select {
	case frame := <-bystander.Send:
		t.Errorf("unsubscribed connection received %s", frame)
	default:
	}

	// Lifecycle events reach everyone.
	hub.relay(events.Event{
		ID:        uuid.NewString(),
		Type:      events.TypeRoundFinished,
		RoundID:   roundID,
		Timestamp: time.Now(),
	})
	readFrame(t, subscribed)
	readFrame(t, bystander)
}

func TestSubscribeUnsubscribeAcks(t *testing.T) {
	hub := newTestHub()
	conn := newTestConnection(hub, 4)
	roundID := uuid.New()

	conn.handleClientMessage([]byte(`{"type":"round:subscribe","roundId":"` + roundID.String() + `"}`))
	ack := readFrame(t, conn)
	if ack.Type != ReplySubscribed || ack.RoundID != roundID.String() {
		t.Errorf("subscribe ack = %+v", ack)
	}
	if !conn.isSubscribed(roundID) {
		t.Error("subscription not recorded")
	}

	conn.handleClientMessage([]byte(`{"type":"round:unsubscribe","roundId":"` + roundID.String() + `"}`))
	ack = readFrame(t, conn)
	if ack.Type != ReplyUnsubscribed || ack.RoundID != roundID.String() {
		t.Errorf("unsubscribe ack = %+v", ack)
	}
	if conn.isSubscribed(roundID) {
		t.Error("subscription not removed")
	}
}

func TestUnknownCommandGetsErrorFrame(t *testing.T) {
	hub := newTestHub()
	conn := newTestConnection(hub, 4)

	conn.handleClientMessage([]byte(`{"type":"round:launch-missiles"}`))
	msg := readFrame(t, conn)
	if msg.Type != ReplyError || msg.Error == "" {
		t.Errorf("frame = %+v, want error reply", msg)
	}

	conn.handleClientMessage([]byte(`not json`))
	msg = readFrame(t, conn)
	if msg.Type != ReplyError {
		t.Errorf("frame = %+v, want error reply", msg)
	}
}
