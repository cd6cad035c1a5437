package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"anoa.com/fellowship/internal/config"
	"anoa.com/fellowship/internal/docstore"
	"anoa.com/fellowship/internal/docstore/memory"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		AppEnv:                 "test",
		AllowedOrigins:         []string{"http://localhost:3000"},
		JWTSecret:              testSecret,
		StoreTimeout:           time.Second,
		ConflictRetries:        3,
		ResubscribeMaxInterval: time.Second,
	}
	s := NewServer(cfg, docstore.WithDeadlines(memory.New(), time.Second), nil)
	t.Cleanup(func() { _ = s.Shutdown(t.Context()) })
	return s
}

func token(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path, userID string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode response %q: %v", method, path, w.Body.String(), err)
		}
	}
	return w.Code, out
}

func TestRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)
	if code, _ := do(t, s, http.MethodGet, "/api/friends", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/healthz", "", nil); code != http.StatusOK {
		t.Fatalf("expected healthz 200, got %d", code)
	}
}

func TestFriendRequestFlow(t *testing.T) {
	s := newTestServer(t)

	code, body := do(t, s, http.MethodPost, "/api/friends/requests", "alice", map[string]string{"user_id": "bob", "display_name": "Alice"})
	if code != http.StatusCreated {
		t.Fatalf("send request: status %d body %v", code, body)
	}
	code, _ = do(t, s, http.MethodPost, "/api/friends/requests", "alice", map[string]string{"user_id": "bob"})
	if code != http.StatusOK {
		t.Fatalf("repeated request should be 200, got %d", code)
	}

	code, body = do(t, s, http.MethodGet, "/api/friends/pending?direction=received", "bob", nil)
	if code != http.StatusOK {
		t.Fatalf("list pending: status %d", code)
	}
	pending := body["data"].([]any)
	if len(pending) != 1 || pending[0].(map[string]any)["counterpart_id"] != "alice" {
		t.Fatalf("unexpected pending list %v", pending)
	}

	if code, _ := do(t, s, http.MethodGet, "/api/friends/pending?direction=sideways", "bob", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown direction, got %d", code)
	}

	if code, body := do(t, s, http.MethodPost, "/api/friends/alice/accept", "bob", nil); code != http.StatusOK {
		t.Fatalf("accept: status %d body %v", code, body)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/friends/alice/accept", "bob", nil); code != http.StatusNotFound {
		t.Fatalf("second accept should be 404, got %d", code)
	}

	_, body = do(t, s, http.MethodGet, "/api/friends", "alice", nil)
	if friends := body["data"].([]any); len(friends) != 1 {
		t.Fatalf("expected one friend, got %v", friends)
	}

	_, body = do(t, s, http.MethodGet, "/api/notifications/unread-count", "bob", nil)
	if body["count"] != float64(1) {
		t.Fatalf("expected one unread notification, got %v", body)
	}

	if code, _ := do(t, s, http.MethodDelete, "/api/friends/alice", "bob", nil); code != http.StatusOK {
		t.Fatalf("remove: status %d", code)
	}
	_, body = do(t, s, http.MethodGet, "/api/friends", "alice", nil)
	if friends := body["data"].([]any); len(friends) != 0 {
		t.Fatalf("expected no friends after remove, got %v", friends)
	}
}

func TestDiscussionFlow(t *testing.T) {
	s := newTestServer(t)

	if code, _ := do(t, s, http.MethodPut, "/api/profile", "alice", map[string]string{"display_name": "Alice"}); code != http.StatusOK {
		t.Fatalf("update profile: status %d", code)
	}

	code, body := do(t, s, http.MethodPost, "/api/discussions", "alice", map[string]any{"title": "Reunion", "content": "Who is coming?"})
	if code != http.StatusCreated {
		t.Fatalf("create discussion: status %d body %v", code, body)
	}
	d := body["data"].(map[string]any)
	id := d["id"].(string)
	if d["author_name"] != "Alice" {
		t.Fatalf("expected author name from profile, got %v", d["author_name"])
	}

	code, body = do(t, s, http.MethodPost, "/api/discussions/"+id+"/comments", "bob", map[string]string{"content": "me"})
	if code != http.StatusCreated {
		t.Fatalf("add comment: status %d body %v", code, body)
	}
	top := body["data"].(map[string]any)["id"].(string)
	if code, _ := do(t, s, http.MethodPost, "/api/discussions/"+id+"/comments", "alice", map[string]string{"content": "great", "parent_comment_id": top}); code != http.StatusCreated {
		t.Fatalf("add reply: status %d", code)
	}

	_, body = do(t, s, http.MethodGet, "/api/discussions/"+id+"/comments", "carol", nil)
	comments := body["data"].(map[string]any)["comments"].([]any)
	if len(comments) != 2 || comments[0].(map[string]any)["reply_count"] != float64(1) {
		t.Fatalf("unexpected thread %v", comments)
	}

	_, body = do(t, s, http.MethodPost, "/api/discussions/"+id+"/like", "carol", nil)
	if state := body["data"].(map[string]any); state["liked"] != true || state["likes"] != float64(1) {
		t.Fatalf("unexpected like state %v", state)
	}

	if code, _ := do(t, s, http.MethodDelete, "/api/discussions/"+id+"/comments/"+top, "carol", nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a stranger deleting a comment, got %d", code)
	}
	if code, _ := do(t, s, http.MethodDelete, "/api/discussions/"+id, "alice", nil); code != http.StatusOK {
		t.Fatalf("delete discussion: status %d", code)
	}
	if code, _ := do(t, s, http.MethodGet, "/api/discussions/"+id, "alice", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", code)
	}
}

func TestSearchWithoutIndexIsUnavailable(t *testing.T) {
	s := newTestServer(t)
	code, body := do(t, s, http.MethodGet, "/api/discussions/search?q=x", "alice", nil)
	if code != http.StatusServiceUnavailable || body["retryable"] != true {
		t.Fatalf("expected retryable 503, got %d %v", code, body)
	}
}

func TestFriendsWebSocketStreamsChanges(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/friends/ws?token=" + token(t, "bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var first map[string]any
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if _, ok := first["friends"]; !ok {
		t.Fatalf("expected a friends snapshot, got %v", first)
	}

	if code, _ := do(t, s, http.MethodPost, "/api/friends/requests", "alice", map[string]string{"user_id": "bob"}); code != http.StatusCreated {
		t.Fatalf("send request: status %d", code)
	}
	for {
		var u struct {
			Friends struct {
				PendingReceived []map[string]any `json:"pending_received"`
			} `json:"friends"`
		}
		if err := conn.ReadJSON(&u); err != nil {
			t.Fatalf("waiting for pending request: %v", err)
		}
		if len(u.Friends.PendingReceived) == 1 {
			break
		}
	}
}
