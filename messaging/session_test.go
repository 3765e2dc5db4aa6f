// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const testToken = "syt_test_token"

// fakeHomeserver routes client-server API calls to per-test handlers
// and rejects any request that does not carry testToken.
type fakeHomeserver struct {
	t   *testing.T
	mux *http.ServeMux
}

func newFakeHomeserver(t *testing.T) *fakeHomeserver {
	return &fakeHomeserver{t: t, mux: http.NewServeMux()}
}

func (h *fakeHomeserver) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if got := request.Header.Get("Authorization"); got != "Bearer "+testToken {
		h.t.Errorf("%s %s: Authorization = %q", request.Method, request.URL.Path, got)
	}
	h.mux.ServeHTTP(writer, request)
}

func (h *fakeHomeserver) session() *Session {
	h.t.Helper()
	server := httptest.NewServer(h)
	h.t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{HomeserverURL: server.URL})
	if err != nil {
		h.t.Fatalf("NewClient: %v", err)
	}
	session, err := client.SessionFromToken("@bridge:local", []byte(testToken))
	if err != nil {
		h.t.Fatalf("SessionFromToken: %v", err)
	}
	h.t.Cleanup(func() { session.Close() })
	return session
}

func TestWhoAmI(t *testing.T) {
	homeserver := newFakeHomeserver(t)
	homeserver.mux.HandleFunc("GET /_matrix/client/v3/account/whoami", func(writer http.ResponseWriter, request *http.Request) {
		writeJSON(writer, whoAmIResponse{UserID: "@bridge:local", DeviceID: "BRIDGE"})
	})

	userID, err := homeserver.session().WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if userID != "@bridge:local" {
		t.Errorf("WhoAmI = %q", userID)
	}
}

func TestJoinRoomEscapesRoomID(t *testing.T) {
	homeserver := newFakeHomeserver(t)
	homeserver.mux.HandleFunc("POST /_matrix/client/v3/join/{room}", func(writer http.ResponseWriter, request *http.Request) {
		if request.PathValue("room") != "!ops:local" {
			t.Errorf("room = %q", request.PathValue("room"))
		}
		if !strings.Contains(request.URL.EscapedPath(), "%21ops:local") {
			t.Errorf("room ID not escaped: %s", request.URL.EscapedPath())
		}
		writeJSON(writer, map[string]string{"room_id": "!ops:local"})
	})

	roomID, err := homeserver.session().JoinRoom(context.Background(), "!ops:local")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if roomID != "!ops:local" {
		t.Errorf("JoinRoom = %q", roomID)
	}
}

func TestSendMessageUsesFreshTransactionIDs(t *testing.T) {
	homeserver := newFakeHomeserver(t)
	var (
		mutex        sync.Mutex
		transactions = map[string]bool{}
	)
	homeserver.mux.HandleFunc("PUT /_matrix/client/v3/rooms/{room}/send/{type}/{txn}", func(writer http.ResponseWriter, request *http.Request) {
		if request.PathValue("type") != EventTypeMessage {
			t.Errorf("event type = %q", request.PathValue("type"))
		}
		var content MessageContent
		if err := json.NewDecoder(request.Body).Decode(&content); err != nil {
			t.Errorf("decoding content: %v", err)
		}
		if content.RelatesTo == nil || content.RelatesTo.RelType != RelationThread || content.RelatesTo.EventID != "$root" {
			t.Errorf("relation = %+v", content.RelatesTo)
		}
		mutex.Lock()
		transactions[request.PathValue("txn")] = true
		mutex.Unlock()
		writeJSON(writer, sendEventResponse{EventID: "$reply"})
	})

	session := homeserver.session()
	for range 3 {
		eventID, err := session.SendMessage(context.Background(), "!ops:local", NewThreadReply("$root", NewTextMessage("done")))
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		if eventID != "$reply" {
			t.Errorf("event ID = %q", eventID)
		}
	}
	mutex.Lock()
	defer mutex.Unlock()
	if len(transactions) != 3 {
		t.Errorf("got %d distinct transaction IDs for 3 sends", len(transactions))
	}
}

func TestSyncQuery(t *testing.T) {
	tests := []struct {
		name    string
		options SyncOptions
		want    map[string]string
	}{
		{
			name:    "initial",
			options: SyncOptions{Filter: `{"room":{}}`},
			want:    map[string]string{"since": "", "timeout": "", "filter": `{"room":{}}`},
		},
		{
			name:    "incremental",
			options: SyncOptions{Since: "s7", Timeout: 30000, SetTimeout: true},
			want:    map[string]string{"since": "s7", "timeout": "30000", "filter": ""},
		},
		{
			name:    "explicit zero timeout",
			options: SyncOptions{Since: "s7", SetTimeout: true},
			want:    map[string]string{"since": "s7", "timeout": "0"},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			homeserver := newFakeHomeserver(t)
			homeserver.mux.HandleFunc("GET /_matrix/client/v3/sync", func(writer http.ResponseWriter, request *http.Request) {
				query := request.URL.Query()
				for key, want := range test.want {
					if _, present := query[key]; want == "" && present {
						t.Errorf("%s sent as %q, want absent", key, query.Get(key))
					} else if want != "" && query.Get(key) != want {
						t.Errorf("%s = %q, want %q", key, query.Get(key), want)
					}
				}
				writeJSON(writer, SyncResponse{NextBatch: "s8"})
			})

			response, err := homeserver.session().Sync(context.Background(), test.options)
			if err != nil {
				t.Fatalf("Sync: %v", err)
			}
			if response.NextBatch != "s8" {
				t.Errorf("NextBatch = %q", response.NextBatch)
			}
		})
	}
}

func TestSyncDecodesRooms(t *testing.T) {
	homeserver := newFakeHomeserver(t)
	homeserver.mux.HandleFunc("GET /_matrix/client/v3/sync", func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "application/json")
		writer.Write([]byte(`{
			"next_batch": "s2",
			"rooms": {
				"join": {"!ops:local": {"timeline": {"limited": true, "events": [
					{"event_id": "$1", "type": "m.room.message", "sender": "@alice:local",
					 "content": {"msgtype": "m.text", "body": "status"}}
				]}}},
				"invite": {"!new:local": {"invite_state": {"events": [
					{"type": "m.room.member", "sender": "@alice:local", "state_key": "@bridge:local",
					 "content": {"membership": "invite"}}
				]}}}
			}
		}`))
	})

	response, err := homeserver.session().Sync(context.Background(), SyncOptions{})
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	timeline := response.Rooms.Join["!ops:local"].Timeline
	if !timeline.Limited || len(timeline.Events) != 1 {
		t.Fatalf("timeline = %+v", timeline)
	}
	if event := timeline.Events[0]; event.Body() != "status" || event.MsgType() != MsgTypeText {
		t.Errorf("event = %+v", event)
	}
	if inviter := response.Rooms.Invite["!new:local"].Inviter("@bridge:local"); inviter != "@alice:local" {
		t.Errorf("inviter = %q", inviter)
	}
}

func TestEventRelations(t *testing.T) {
	relatesTo := func(relation map[string]any) Event {
		return Event{Content: map[string]any{"body": "x", "m.relates_to": relation}}
	}
	tests := []struct {
		name       string
		event      Event
		threadRoot string
		edit       bool
	}{
		{name: "plain", event: Event{Content: map[string]any{"body": "x"}}},
		{name: "no content", event: Event{}},
		{name: "thread", event: relatesTo(map[string]any{"rel_type": "m.thread", "event_id": "$root"}), threadRoot: "$root"},
		{name: "reply", event: relatesTo(map[string]any{"m.in_reply_to": map[string]any{"event_id": "$other"}})},
		{name: "edit", event: relatesTo(map[string]any{"rel_type": "m.replace", "event_id": "$old"}), edit: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if root := test.event.ThreadRoot(); root != test.threadRoot {
				t.Errorf("ThreadRoot() = %q, want %q", root, test.threadRoot)
			}
			if edit := test.event.IsEdit(); edit != test.edit {
				t.Errorf("IsEdit() = %v, want %v", edit, test.edit)
			}
		})
	}
}

func TestInviterIgnoresOtherMembers(t *testing.T) {
	bridge := "@bridge:local"
	someoneElse := "@carol:local"
	room := InvitedRoom{InviteState: StrippedState{Events: []Event{
		{Type: "m.room.name", Content: map[string]any{"name": "ops"}},
		{Type: EventTypeMember, Sender: "@alice:local", StateKey: &someoneElse, Content: map[string]any{"membership": "invite"}},
		{Type: EventTypeMember, Sender: "@bob:local", StateKey: &bridge, Content: map[string]any{"membership": "invite"}},
	}}}
	if inviter := room.Inviter(bridge); inviter != "@bob:local" {
		t.Errorf("Inviter = %q, want @bob:local", inviter)
	}
	if inviter := room.Inviter("@dave:local"); inviter != "" {
		t.Errorf("Inviter for a user with no invite = %q", inviter)
	}
}

func TestNewMarkdownMessage(t *testing.T) {
	source := "**Allow** `rm -rf build`?\n\n<script>x</script>"
	content := NewMarkdownMessage(source)
	if content.Body != source {
		t.Errorf("Body = %q, want the markdown source", content.Body)
	}
	if content.Format != "org.matrix.custom.html" {
		t.Errorf("Format = %q", content.Format)
	}
	for _, fragment := range []string{"<strong>Allow</strong>", "<code>rm -rf build</code>"} {
		if !strings.Contains(content.FormattedBody, fragment) {
			t.Errorf("FormattedBody %q lacks %q", content.FormattedBody, fragment)
		}
	}
	if strings.Contains(content.FormattedBody, "<script>") {
		t.Errorf("raw HTML passed through: %q", content.FormattedBody)
	}
}

func writeJSON(writer http.ResponseWriter, value any) {
	writer.Header().Set("Content-Type", "application/json")
	json.NewEncoder(writer).Encode(value)
}
