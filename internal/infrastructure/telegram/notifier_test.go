package telegram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAlertPostsMessage(t *testing.T) {
	t.Parallel()

	var path, chat, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		chat = r.PostForm.Get("chat_id")
		text = r.PostForm.Get("text")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier("token", "42").WithAPIBase(srv.URL + "/")
	if err := n.Alert(context.Background(), "run failed: delivery"); err != nil {
		t.Fatalf("Alert: %v", err)
	}
	if path != "/bottoken/sendMessage" || chat != "42" || text != "run failed: delivery" {
		t.Fatalf("unexpected request path=%s chat=%s text=%s", path, chat, text)
	}
}

func TestAlertErrors(t *testing.T) {
	t.Parallel()

	if err := NewNotifier("", "").Alert(context.Background(), "x"); err == nil {
		t.Fatal("expected misconfiguration error")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if err := NewNotifier("token", "42").WithAPIBase(srv.URL).Alert(context.Background(), "x"); err == nil {
		t.Fatal("expected status error")
	}
}
