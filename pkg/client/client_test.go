package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func respond(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestFetchMineDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" || r.Method != http.MethodGet {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Fatalf("auth header = %q", got)
		}
		respond(w, 200, `{"success":true,"data":[
			{"id":"b","text":"later","senderType":"admin","createdAt":2000000000000},
			{"_id":"a","text":"earlier","sender":"user","timestamp":1000000000000}
		]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Token: "tok"})
	msgs, err := c.FetchMine(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	// sorted ascending, legacy field names coalesced
	if msgs[0].ID != "a" || msgs[0].CreatedAt != 1000000000000 {
		t.Fatalf("first = %+v", msgs[0])
	}
	if msgs[1].ID != "b" || msgs[1].Sender != "admin" {
		t.Fatalf("second = %+v", msgs[1])
	}
}

func TestFetchUserEscapesPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		respond(w, 200, `{"success":true,"data":[]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.FetchUser(context.Background(), "user/7"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/messages/user%2F7" {
		t.Fatalf("path = %q", gotPath)
	}
	if _, err := c.FetchUser(context.Background(), ""); err == nil {
		t.Fatal("empty user id accepted")
	}
}

func TestSendConfirmedAndAutoReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/messages" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["text"] != "need brakes" || body["recipientId"] != "userA" {
			t.Fatalf("body = %v", body)
		}
		respond(w, 200, `{"success":true,
			"data":{"message":{"id":"srv-1","text":"need brakes","senderType":"user","createdAt":1000000000000}},
			"autoReply":{"id":"srv-2","text":"we got it","senderType":"admin","createdAt":1000000000001}}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	confirmed, auto, err := c.Send(context.Background(), "need brakes", "userA")
	if err != nil {
		t.Fatal(err)
	}
	// wrapped {"message": {...}} shape unwrapped
	if confirmed == nil || confirmed.ID != "srv-1" {
		t.Fatalf("confirmed = %+v", confirmed)
	}
	if auto == nil || auto.ID != "srv-2" || auto.Sender != "admin" {
		t.Fatalf("autoReply = %+v", auto)
	}
}

func TestRejectionIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, 422, `{"success":false,"message":"text too long"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, _, err := c.Send(context.Background(), "x", "")
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, 503, `{"success":false,"message":"maintenance"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.FetchMine(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrRejected) {
		t.Fatalf("5xx must stay retryable, got %v", err)
	}
}

func TestSuccessFalseOn200IsRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"success":false,"message":"account suspended"}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.FetchMine(context.Background())
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
}

func TestUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `<html>gateway error</html>`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.FetchMine(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestMalformedEntriesDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, 200, `{"success":true,"data":[
			{"id":"ok","text":"fine","createdAt":1000000000000},
			{"id":"blank","text":"  "},
			"not an object"
		]}`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	msgs, err := c.FetchMine(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].ID != "ok" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if healthy {
			respond(w, 200, `{"ok":true}`)
			return
		}
		respond(w, 502, `bad gateway`)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("healthy ping: %v", err)
	}
	healthy = false
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("unhealthy ping returned nil")
	}
}

func TestCustomHealthPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		respond(w, 204, "")
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, HealthPath: "/api/status"})
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
