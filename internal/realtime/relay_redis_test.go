package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"candidatehub/api/internal/app"
	"candidatehub/api/internal/store"
)

func setupTestRelay(t *testing.T, s *miniredis.Miniredis) *RedisRelay {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	relay := NewRedisRelayWithClient(client, "", zap.NewNop())
	t.Cleanup(func() { _ = relay.Close() })
	return relay
}

func TestRedisRelayRoundTrip(t *testing.T) {
	s := miniredis.RunT(t)
	publisher := setupTestRelay(t, s)
	subscriber := setupTestRelay(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan RelayMessage, 1)
	if err := subscriber.Subscribe(ctx, func(msg RelayMessage) { got <- msg }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	sent := RelayMessage{
		Origin:   "node-a",
		Room:     "c-1",
		Exclude:  "conn-1",
		Audience: &Audience{UserIDs: []string{"u-blake"}, Admins: true},
		Frame:    json.RawMessage(`{"type":"noteCreated","data":{},"timestamp":1}`),
	}
	if err := publisher.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case msg := <-got:
		if msg.Origin != "node-a" || msg.Room != "c-1" || msg.Exclude != "conn-1" {
			t.Fatalf("received %+v", msg)
		}
		if msg.Audience == nil || !msg.Audience.Admins || msg.Audience.UserIDs[0] != "u-blake" {
			t.Fatalf("audience = %+v", msg.Audience)
		}
		if string(msg.Frame) != string(sent.Frame) {
			t.Fatalf("frame = %s", msg.Frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relay message not received")
	}

	if err := publisher.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestNewRedisRelayFailsFast(t *testing.T) {
	if _, err := NewRedisRelay("not-a-url", "", zap.NewNop()); err == nil {
		t.Fatal("expected parse error")
	}

	s := miniredis.RunT(t)
	relay, err := NewRedisRelay("redis://"+s.Addr(), "custom", zap.NewNop())
	if err != nil {
		t.Fatalf("NewRedisRelay() error = %v", err)
	}
	defer relay.Close()
	if relay.channel != "custom" {
		t.Fatalf("channel = %q", relay.channel)
	}
}

func TestManagersShareEventsOverRedis(t *testing.T) {
	s := miniredis.RunT(t)
	mem := seededStore(t)
	svc := app.New(mem, zap.NewNop())

	newNode := func(id string) *Manager {
		m := NewManager(testGate(), svc, mem, zap.NewNop(), Options{NodeID: id, Relay: setupTestRelay(t, s)})
		if err := m.Start(context.Background()); err != nil {
			t.Fatalf("Start(%s) error = %v", id, err)
		}
		t.Cleanup(m.Shutdown)
		return m
	}
	nodeA := newNode("node-a")
	nodeB := newNode("node-b")

	author, _ := nodeA.Connect(context.Background(), "tok-blake")
	nodeA.Handle(context.Background(), author, envelope(t, TypeJoinRoom, "", map[string]any{"candidateId": "c-1"}))
	reader, _ := nodeB.Connect(context.Background(), "tok-casey")
	nodeB.Handle(context.Background(), reader, envelope(t, TypeJoinRoom, "", map[string]any{"candidateId": "c-1"}))
	waitFrame(t, author, EventUserJoinedRoom, 2*time.Second)

	nodeA.Handle(context.Background(), author, envelope(t, TypeCreateNote, "n1", map[string]any{"candidateId": "c-1", "content": "over the wire @Casey"}))

	var created NoteEvent
	decodeFrame(t, waitFrame(t, reader, EventNoteCreated, 2*time.Second), &created)
	if created.Note.Content != "over the wire @Casey" {
		t.Fatalf("relayed note = %+v", created.Note)
	}
	var n store.Notification
	decodeFrame(t, waitFrame(t, reader, EventNotification, 2*time.Second), &n)
	if n.RecipientID != casey.UserID || n.NoteID != created.Note.ID {
		t.Fatalf("relayed notification = %+v", n)
	}
	var unread UnreadCount
	decodeFrame(t, waitFrame(t, reader, EventUnreadCountChanged, 2*time.Second), &unread)
	if unread.Count != 1 {
		t.Fatalf("relayed unread = %d", unread.Count)
	}

	// The author's own node never re-delivers its relayed copy.
	mine := ofType(drain(t, author), EventNoteCreated)
	if len(mine) != 1 || mine[0].RequestID != "n1" {
		t.Fatalf("author copies = %+v", mine)
	}
}
