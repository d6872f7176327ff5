package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/projectx/agentx/internal/store"
)

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	addr, _ := newGatewayTest(t, answeringFactory("ok"), 0)

	var body map[string]string
	if code := getJSON(t, "http://"+addr+"/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestConversationEndpoints(t *testing.T) {
	addr, st := newGatewayTest(t, answeringFactory("ok"), 0)
	base := "http://" + addr + "/messaging/conversations"
	ctx := context.Background()

	// Empty store lists as an empty array, not null.
	var list []store.Conversation
	if code := getJSON(t, base, &list); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("list = %#v", list)
	}

	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()
	conv, err := session.CreateConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := session.InsertMessage(ctx, conv.ID, store.RoleUser, "hello", nil); err != nil {
		t.Fatal(err)
	}

	if code := getJSON(t, base, &list); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(list) != 1 || list[0].MessageCount != 1 || list[0].Title != store.DefaultTitle {
		t.Errorf("list = %+v", list)
	}

	var msgs []store.Message
	msgURL := base + "/1/messages"
	if code := getJSON(t, msgURL, &msgs); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("messages = %+v", msgs)
	}

	if code := getJSON(t, base+"/999/messages", nil); code != http.StatusNotFound {
		t.Errorf("missing conversation status = %d", code)
	}
	if code := getJSON(t, base+"/abc/messages", nil); code != http.StatusBadRequest {
		t.Errorf("bad id status = %d", code)
	}
}

func TestDeleteConversationEndpoint(t *testing.T) {
	addr, st := newGatewayTest(t, answeringFactory("ok"), 0)
	ctx := context.Background()

	session, err := st.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer session.Close()
	conv, err := session.CreateConversation(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	req, _ := http.NewRequest(http.MethodDelete, "http://"+addr+"/messaging/conversations/1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	if _, err := st.GetConversation(ctx, conv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("conversation survived delete: %v", err)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
}
