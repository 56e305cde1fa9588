package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"candidatehub/api/internal/app"
	"candidatehub/api/internal/auth"
	"candidatehub/api/internal/rbac"
	"candidatehub/api/internal/store"
)

var (
	avery = auth.Identity{UserID: "u-avery", DisplayName: "Avery", Role: rbac.RoleAdmin}
	blake = auth.Identity{UserID: "u-blake", DisplayName: "Blake", Role: rbac.RoleRecruiter}
	casey = auth.Identity{UserID: "u-casey", DisplayName: "Casey", Role: rbac.RoleHiringManager}
	drew  = auth.Identity{UserID: "u-drew", DisplayName: "Drew", Role: rbac.RoleRecruiter}
)

type fakeGate struct {
	identities map[string]auth.Identity
}

func (g fakeGate) Authenticate(_ context.Context, token string) (auth.Identity, error) {
	identity, ok := g.identities[token]
	if !ok {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return identity, nil
}

func testGate() fakeGate {
	return fakeGate{identities: map[string]auth.Identity{
		"tok-avery": avery,
		"tok-blake": blake,
		"tok-casey": casey,
		"tok-drew":  drew,
	}}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// seededStore holds four users and candidate c-1, created by Blake and
// assigned to Casey.
func seededStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	for _, id := range []auth.Identity{avery, blake, casey, drew} {
		if err := mem.UpsertUser(ctx, store.User{ID: id.UserID, DisplayName: id.DisplayName, Role: string(id.Role), IsActive: true}); err != nil {
			t.Fatalf("UpsertUser() error = %v", err)
		}
	}
	if err := mem.UpsertCandidate(ctx, store.Candidate{ID: "c-1", Name: "Jordan Lee", CreatedBy: blake.UserID, AssignedTo: []string{casey.UserID}}); err != nil {
		t.Fatalf("UpsertCandidate() error = %v", err)
	}
	return mem
}

type harness struct {
	manager *Manager
	store   *store.MemoryStore
	clock   *fakeClock
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	mem := seededStore(t)
	clock := newFakeClock()
	if opts.SendBuffer == 0 {
		opts.SendBuffer = 128
	}
	if opts.TypingTimeout == 0 {
		opts.TypingTimeout = 8 * time.Second
	}
	opts.Now = clock.Now
	m := NewManager(testGate(), app.New(mem, zap.NewNop()), mem, zap.NewNop(), opts)
	t.Cleanup(m.Shutdown)
	return &harness{manager: m, store: mem, clock: clock}
}

func (h *harness) connect(t *testing.T, token string) *Conn {
	t.Helper()
	c, err := h.manager.Connect(context.Background(), token)
	if err != nil {
		t.Fatalf("Connect(%s) error = %v", token, err)
	}
	return c
}

func (h *harness) send(t *testing.T, c *Conn, kind, requestID string, data any) {
	t.Helper()
	h.manager.Handle(context.Background(), c, envelope(t, kind, requestID, data))
}

// join sends joinRoom and discards the frames it produced everywhere.
func (h *harness) join(t *testing.T, c *Conn, room string) {
	t.Helper()
	h.send(t, c, TypeJoinRoom, "", map[string]any{"candidateId": room})
	if !c.InRoom(room) {
		t.Fatalf("%s did not join %s: %+v", c.Identity().UserID, room, drain(t, c))
	}
}

func envelope(t *testing.T, kind, requestID string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	out, err := json.Marshal(Envelope{Type: kind, RequestID: requestID, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

type testFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// drain returns every frame queued on the connection without blocking.
func drain(t *testing.T, c *Conn) []testFrame {
	t.Helper()
	var out []testFrame
	for {
		select {
		case raw := <-c.Send():
			var f testFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("decode frame %s: %v", raw, err)
			}
			out = append(out, f)
		default:
			return out
		}
	}
}

// waitFrame blocks until a frame of the given type arrives or the timeout
// passes.
func waitFrame(t *testing.T, c *Conn, kind string, timeout time.Duration) testFrame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case raw := <-c.Send():
			var f testFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("decode frame %s: %v", raw, err)
			}
			if f.Type == kind {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", kind, c.Identity().UserID)
			return testFrame{}
		}
	}
}

func ofType(frames []testFrame, kind string) []testFrame {
	var out []testFrame
	for _, f := range frames {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

func only(t *testing.T, frames []testFrame, kind string) testFrame {
	t.Helper()
	matched := ofType(frames, kind)
	if len(matched) != 1 {
		t.Fatalf("want exactly one %s frame, got %d in %+v", kind, len(matched), frames)
	}
	return matched[0]
}

func decodeFrame(t *testing.T, f testFrame, target any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, target); err != nil {
		t.Fatalf("decode %s data %s: %v", f.Type, f.Data, err)
	}
}

func errorCode(t *testing.T, frames []testFrame) ErrorPayload {
	t.Helper()
	var payload ErrorPayload
	decodeFrame(t, only(t, frames, EventError), &payload)
	return payload
}

func testConn(userID string, buffer int) *Conn {
	c := newConn(buffer, time.Now())
	c.identity = auth.Identity{UserID: userID, DisplayName: userID, Role: rbac.RoleRecruiter}
	c.setState(StateActive)
	return c
}
