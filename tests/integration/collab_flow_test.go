package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/atelierhq/atelier/backend/internal/auth"
	"github.com/atelierhq/atelier/backend/internal/collab"
	"github.com/atelierhq/atelier/backend/internal/comments"
	"github.com/atelierhq/atelier/backend/internal/pages"
	"github.com/atelierhq/atelier/backend/internal/server"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	collabSigningSecret = "integration-secret"
	collabTokenIssuer   = "atelier-auth"
	collabTokenAudience = "atelier-collab"
	collabProjectID     = "proj-main"
)

type testEnv struct {
	server *httptest.Server
	issuer *auth.TokenIssuer
	db     *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:collab_integration_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&pages.PageSnapshot{}, &comments.Comment{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	snapshotStore, err := pages.NewStore(pages.StoreConfig{Database: db, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build snapshot store: %v", err)
	}
	commentStore, err := comments.NewStore(comments.StoreConfig{
		Database:   db,
		IDProvider: comments.NewUUIDProvider(),
		Logger:     zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build comment store: %v", err)
	}
	synchronizer, err := collab.NewSynchronizer(collab.SynchronizerConfig{Store: snapshotStore, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("failed to build synchronizer: %v", err)
	}
	hub, err := collab.NewHub(collab.HubConfig{
		Synchronizer: synchronizer,
		Comments:     commentStore,
		Logger:       zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build hub: %v", err)
	}

	issuer := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(collabSigningSecret),
		Issuer:        collabTokenIssuer,
		Audience:      collabTokenAudience,
		TokenTTL:      time.Hour,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenValidator: issuer,
		Hub:            hub,
		Logger:         zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)
	return &testEnv{server: testServer, issuer: issuer, db: db}
}

func (env *testEnv) dial(t *testing.T, userID, displayName string) *websocket.Conn {
	t.Helper()
	token, _, err := env.issuer.Issue(context.Background(), userID, displayName)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") +
		"/collab/ws?project=" + collabProjectID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, message map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(message); err != nil {
		t.Fatalf("failed to send %v: %v", message["type"], err)
	}
}

func awaitType(t *testing.T, conn *websocket.Conn, messageType string) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("failed to set read deadline: %v", err)
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed waiting for %s: %v", messageType, err)
		}
		decoded := make(map[string]any)
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		if decoded["type"] == messageType {
			return decoded
		}
	}
}

func TestCollaborationScenario(t *testing.T) {
	env := newTestEnv(t)

	// A subscribes to a page with no prior state.
	ada := env.dial(t, "user-a", "Ada")
	defer ada.Close()
	sendJSON(t, ada, map[string]any{"type": "subscribe", "documentId": "p1"})
	state := awaitType(t, ada, "page_state")
	if state["version"] != float64(0) || state["html"] != "" {
		t.Fatalf("expected empty baseline, got %v", state)
	}

	// A submits on base 0 and is acknowledged at version 1.
	sendJSON(t, ada, map[string]any{
		"type": "page_update", "documentId": "p1", "version": 0,
		"html": "X", "css": "",
	})
	ack := awaitType(t, ada, "page_ack")
	if ack["version"] != float64(1) {
		t.Fatalf("expected ack version 1, got %v", ack["version"])
	}

	// B subscribes and receives the accepted snapshot.
	bob := env.dial(t, "user-b", "Bob")
	defer bob.Close()
	sendJSON(t, bob, map[string]any{"type": "subscribe", "documentId": "p1"})
	bobState := awaitType(t, bob, "page_state")
	if bobState["version"] != float64(1) || bobState["html"] != "X" {
		t.Fatalf("expected version 1 snapshot, got %v", bobState)
	}

	// A wins the race to version 2; B's stale submission conflicts.
	sendJSON(t, ada, map[string]any{
		"type": "page_update", "documentId": "p1", "version": 1,
		"html": "Y", "css": "",
	})
	awaitType(t, ada, "page_ack")
	awaitType(t, bob, "page_update")

	sendJSON(t, bob, map[string]any{
		"type": "page_update", "documentId": "p1", "version": 1,
		"html": "Z", "css": "",
	})
	conflict := awaitType(t, bob, "conflict")
	if conflict["serverVersion"] != float64(2) || conflict["html"] != "Y" {
		t.Fatalf("conflict must carry the winning state, got %v", conflict)
	}

	// Keep-local resolution: B resubmits on the server version and clobbers.
	sendJSON(t, bob, map[string]any{
		"type": "page_update", "documentId": "p1", "version": 2,
		"html": "Z", "css": "",
	})
	bobAck := awaitType(t, bob, "page_ack")
	if bobAck["version"] != float64(3) {
		t.Fatalf("expected forced resubmit at version 3, got %v", bobAck["version"])
	}
	adaUpdate := awaitType(t, ada, "page_update")
	if adaUpdate["html"] != "Z" || adaUpdate["userId"] != "user-b" {
		t.Fatalf("expected Z from user-b, got %v", adaUpdate)
	}

	// B locks btn1 first; A's request is denied and the set shows B only.
	sendJSON(t, bob, map[string]any{"type": "lock_request", "componentId": "btn1"})
	lockUpdate := awaitType(t, ada, "lock_update")
	locks := lockUpdate["locks"].([]any)
	if len(locks) != 1 || locks[0].(map[string]any)["userId"] != "user-b" {
		t.Fatalf("expected btn1 held by user-b, got %v", locks)
	}
	sendJSON(t, ada, map[string]any{"type": "lock_request", "componentId": "btn1"})
	denied := awaitType(t, ada, "lock_denied")
	if denied["componentId"] != "btn1" || denied["userId"] != "user-b" {
		t.Fatalf("expected denial naming user-b, got %v", denied)
	}

	// Comments round-trip and hydrate late joiners.
	sendJSON(t, ada, map[string]any{
		"type": "comment_add", "documentId": "p1",
		"componentId": "btn1", "message": "needs contrast",
	})
	added := awaitType(t, bob, "comment_added")
	commentID := added["comment"].(map[string]any)["id"].(string)
	sendJSON(t, bob, map[string]any{"type": "comment_resolve", "commentId": commentID, "resolved": true})
	updated := awaitType(t, ada, "comment_updated")
	if updated["comment"].(map[string]any)["resolved"] != true {
		t.Fatalf("expected resolved comment, got %v", updated)
	}

	cleo := env.dial(t, "user-c", "Cleo")
	defer cleo.Close()
	sendJSON(t, cleo, map[string]any{"type": "subscribe", "documentId": "p1"})
	hydrated := awaitType(t, cleo, "comment_list")
	items := hydrated["comments"].([]any)
	if len(items) != 1 || items[0].(map[string]any)["resolved"] != true {
		t.Fatalf("expected hydration with resolved comment, got %v", items)
	}

	// B disconnects while holding btn1; A observes the release and departure.
	bob.Close()
	released := awaitType(t, ada, "lock_update")
	if entries := released["locks"].([]any); len(entries) != 0 {
		t.Fatalf("expected lock released on disconnect, got %v", entries)
	}
	presence := awaitType(t, ada, "presence")
	for _, raw := range presence["users"].([]any) {
		if raw.(map[string]any)["userId"] == "user-b" {
			t.Fatalf("departed session must not appear in presence: %v", presence)
		}
	}

	// The accepted snapshot survived to durable storage.
	var stored pages.PageSnapshot
	if err := env.db.Where("page_id = ?", "p1").Take(&stored).Error; err != nil {
		t.Fatalf("failed to load stored snapshot: %v", err)
	}
	if stored.Version != 3 || stored.HTML != "Z" {
		t.Fatalf("expected persisted version 3 content Z, got %+v", stored)
	}
}

func TestRejectedConnectionNeverCreatesSession(t *testing.T) {
	env := newTestEnv(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") +
		"/collab/ws?project=" + collabProjectID + "&token=forged"
	_, response, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected dial failure for forged token")
	}
	if response == nil || response.StatusCode != 401 {
		t.Fatalf("expected 401 refusal, got %+v", response)
	}
}
