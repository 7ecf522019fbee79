package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/dkeye/relay/internal/adapters/bus"
	"github.com/dkeye/relay/internal/adapters/presence"
	"github.com/dkeye/relay/internal/adapters/store"
	"github.com/dkeye/relay/internal/adapters/ws"
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/domain"
)

const testSecret = "test-secret"

type testEnv struct {
	server *httptest.Server
	store  *store.Store
	redis  *redis.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	db, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := presence.NewRedis(client)
	groupBus := bus.NewRedis(client)
	handler := &ws.Handler{
		Rooms:    db,
		Registry: app.NewRegistry(),
		Chat:     &app.ChatController{Presence: reg, Bus: groupBus, Messages: db, Capacity: 10},
		Video:    &app.VideoController{Presence: reg, Bus: groupBus, Capacity: 2},
	}

	cfg := &config.Config{Mode: "release", Secret: testSecret}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := SetupRouter(ctx, cfg, db, handler)
	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: db, redis: client}
}

func (e *testEnv) seedUser(t *testing.T, username string) *domain.User {
	t.Helper()
	user, err := domain.NewUser(username)
	if err != nil {
		t.Fatalf("new user: %v", err)
	}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func (e *testEnv) seedRoom(t *testing.T, owner *domain.User, cat domain.RoomCategory) *domain.Room {
	t.Helper()
	room := &domain.Room{Name: "test", Category: cat, CreatedBy: owner.ID}
	if err := e.store.CreateRoom(context.Background(), room); err != nil {
		t.Fatalf("create room: %v", err)
	}
	return room
}

func (e *testEnv) token(t *testing.T, user *domain.User) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id": string(user.ID),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (e *testEnv) dial(t *testing.T, path, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + path
	header := http.Header{}
	if token != "" {
		header.Set("Cookie", "access_token="+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode frame %s: %v", data, err)
	}
	return out
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		if !errors.As(err, &closeErr) {
			t.Fatalf("expected close error, got %v", err)
		}
		if closeErr.Code != code {
			t.Fatalf("expected close code %d, got %d", code, closeErr.Code)
		}
		return
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedUser(t, "alice")
	room := env.seedRoom(t, owner, domain.CategoryChat)

	conn := env.dial(t, "/ws/chat/"+string(room.ID), "")
	expectClose(t, conn, ws.CloseInvalid)
}

func TestUnknownRoomRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")

	conn := env.dial(t, "/ws/chat/nope", env.token(t, alice))
	expectClose(t, conn, ws.CloseInvalid)
}

func TestCategoryMismatchRejected(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	room := env.seedRoom(t, alice, domain.CategoryVideo)

	conn := env.dial(t, "/ws/chat/"+string(room.ID), env.token(t, alice))
	expectClose(t, conn, ws.CloseInvalid)
}

func TestChatFlowEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	room := env.seedRoom(t, alice, domain.CategoryChat)
	path := "/ws/chat/" + string(room.ID)

	connA := env.dial(t, path, env.token(t, alice))
	notice := readJSON(t, connA)
	if notice["type"] != "user_count" || notice["count"] != float64(1) {
		t.Fatalf("unexpected first notice %v", notice)
	}

	connB := env.dial(t, path, env.token(t, bob))
	for _, conn := range []*websocket.Conn{connA, connB} {
		notice := readJSON(t, conn)
		if notice["type"] != "user_count" || notice["count"] != float64(2) {
			t.Fatalf("unexpected notice %v", notice)
		}
	}

	if err := connA.WriteJSON(map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("write message: %v", err)
	}
	for _, conn := range []*websocket.Conn{connA, connB} {
		record := readJSON(t, conn)
		if record["message"] != "hello" {
			t.Fatalf("unexpected record %v", record)
		}
		author, _ := record["created_by"].(map[string]any)
		if author["username"] != "alice" {
			t.Fatalf("unexpected author %v", record)
		}
		if record["id"] == "" || record["created_at"] == "" {
			t.Fatalf("record missing persistence fields %v", record)
		}
	}

	// Disconnect announces the updated count to the remaining member.
	connA.Close()
	notice = readJSON(t, connB)
	if notice["type"] != "user_count" || notice["count"] != float64(1) {
		t.Fatalf("unexpected departure notice %v", notice)
	}
}

func TestVideoFullRoomGetsErrorThenClose(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	carol := env.seedUser(t, "carol")
	room := env.seedRoom(t, alice, domain.CategoryVideo)
	path := "/ws/video-call/" + string(room.ID)

	connA := env.dial(t, path, env.token(t, alice))
	readJSON(t, connA) // existing_users
	connB := env.dial(t, path, env.token(t, bob))
	readJSON(t, connB) // existing_users
	readJSON(t, connA) // new_peer bob

	connC := env.dial(t, path, env.token(t, carol))
	notice := readJSON(t, connC)
	if notice["type"] != "error" || !strings.Contains(notice["message"].(string), "full") {
		t.Fatalf("unexpected notice %v", notice)
	}
	expectClose(t, connC, ws.CloseRoomFull)

	count, err := env.redis.SCard(context.Background(), "room:video_call_"+string(room.ID)+":users").Result()
	if err != nil {
		t.Fatalf("scard: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected presence 2 after reject, got %d", count)
	}
}

func TestVideoSignalingAddressedRelay(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedUser(t, "alice")
	bob := env.seedUser(t, "bob")
	room := env.seedRoom(t, alice, domain.CategoryVideo)
	path := "/ws/video-call/" + string(room.ID)

	connA := env.dial(t, path, env.token(t, alice))
	snapshot := readJSON(t, connA)
	if snapshot["type"] != "existing_users" {
		t.Fatalf("expected existing_users, got %v", snapshot)
	}

	connB := env.dial(t, path, env.token(t, bob))
	snapshot = readJSON(t, connB)
	users, _ := snapshot["users"].([]any)
	if len(users) != 1 || users[0] != "alice" {
		t.Fatalf("expected snapshot [alice], got %v", snapshot)
	}
	peer := readJSON(t, connA)
	if peer["type"] != "new_peer" || peer["username"] != "bob" {
		t.Fatalf("unexpected new_peer %v", peer)
	}

	offer := map[string]any{"type": "offer", "to": "bob", "sdp": "v=0"}
	if err := connA.WriteJSON(offer); err != nil {
		t.Fatalf("write offer: %v", err)
	}
	relayed := readJSON(t, connB)
	if relayed["type"] != "offer" || relayed["from"] != "alice" || relayed["sdp"] != "v=0" {
		t.Fatalf("unexpected relayed envelope %v", relayed)
	}

	// Departure reaches the remaining peer.
	connA.Close()
	left := readJSON(t, connB)
	if left["type"] != "user_left" || left["from"] != "alice" {
		t.Fatalf("unexpected user_left %v", left)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
