package ari

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(handler http.Handler) (*Client, *httptest.Server) {
	srv := httptest.NewServer(handler)
	c := NewClient(srv.URL+"/ari", "pbx_ari", "ariuser", "aripass")
	c.Start()
	return c, srv
}

func TestOriginate(t *testing.T) {
	var gotPath, gotQuery string
	var gotUser, gotPass string

	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Encode()
		gotUser, gotPass, _ = r.BasicAuth()
		w.Write([]byte(`{"id": "C-123"}`))
	}))
	defer srv.Close()
	defer c.Close()

	id, err := c.Originate(context.Background(), OriginateRequest{
		Endpoint:   "PJSIP/1001",
		AppArgs:    "callee,1001",
		CallerID:   "ARI",
		TimeoutSec: 30,
	})
	if err != nil {
		t.Fatalf("Originate() error: %v", err)
	}
	if id != "C-123" {
		t.Errorf("channel id = %q, want C-123", id)
	}
	if gotPath != "/ari/channels" {
		t.Errorf("path = %q, want /ari/channels", gotPath)
	}
	if gotUser != "ariuser" || gotPass != "aripass" {
		t.Errorf("basic auth = %s:%s, want ariuser:aripass", gotUser, gotPass)
	}

	want := "app=pbx_ari&appArgs=callee%2C1001&callerId=ARI&endpoint=PJSIP%2F1001&timeout=30"
	if gotQuery != want {
		t.Errorf("query = %q, want %q", gotQuery, want)
	}
}

func TestOriginateMissingID(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state": "Up"}`))
	}))
	defer srv.Close()
	defer c.Close()

	_, err := c.Originate(context.Background(), OriginateRequest{Endpoint: "PJSIP/1001"})
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want ProtocolError", err)
	}
}

func TestOriginateServerError(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Allocation failed", http.StatusInternalServerError)
	}))
	defer srv.Close()
	defer c.Close()

	_, err := c.Originate(context.Background(), OriginateRequest{Endpoint: "PJSIP/1001"})
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if serr.Status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", serr.Status)
	}
	if !serr.Transient() {
		t.Error("expected 5xx to be transient")
	}
}

func TestCreateBridge(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ari/bridges" {
			t.Errorf("path = %q, want /ari/bridges", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "mixing" {
			t.Errorf("type = %q, want mixing", q.Get("type"))
		}
		if q.Get("name") != "call-0a1b2c3d" {
			t.Errorf("name = %q, want call-0a1b2c3d", q.Get("name"))
		}
		w.Write([]byte(`{"id": "B-1"}`))
	}))
	defer srv.Close()
	defer c.Close()

	id, err := c.CreateBridge(context.Background(), "call-0a1b2c3d", "mixing")
	if err != nil {
		t.Fatalf("CreateBridge() error: %v", err)
	}
	if id != "B-1" {
		t.Errorf("bridge id = %q, want B-1", id)
	}
}

func TestAddChannelToBridge(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ari/bridges/B-1/addChannel" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("channel") != "C-A" {
			t.Errorf("channel = %q, want C-A", r.URL.Query().Get("channel"))
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	defer c.Close()

	if err := c.AddChannelToBridge(context.Background(), "B-1", "C-A"); err != nil {
		t.Fatalf("AddChannelToBridge() error: %v", err)
	}
}

func TestDeleteToleratesNotFound(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()
	defer c.Close()

	if err := c.HangupChannel(context.Background(), "C-gone"); err != nil {
		t.Errorf("HangupChannel() on 404 = %v, want nil", err)
	}
	if err := c.DestroyBridge(context.Background(), "B-gone"); err != nil {
		t.Errorf("DestroyBridge() on 404 = %v, want nil", err)
	}
}

func TestDeleteOtherErrorsPropagate(t *testing.T) {
	c, srv := newTestClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()
	defer c.Close()

	err := c.HangupChannel(context.Background(), "C-A")
	var serr *StatusError
	if !errors.As(err, &serr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if serr.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", serr.Status)
	}
	if serr.Transient() {
		t.Error("403 must not be transient")
	}
}

func TestClientNotStarted(t *testing.T) {
	c := NewClient("http://127.0.0.1:1/ari", "app", "u", "p")
	if err := c.HangupChannel(context.Background(), "C-A"); err == nil {
		t.Error("expected error from unstarted client")
	}
}
