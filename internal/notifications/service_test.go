package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conduit/internal/config"
	"conduit/internal/mood"
	"conduit/internal/notifications"
)

type captured struct {
	title, tags, priority, body string
}

func ntfyServer(t *testing.T, status int) (*httptest.Server, chan captured) {
	t.Helper()
	got := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			title:    r.Header.Get("Title"),
			tags:     r.Header.Get("Tags"),
			priority: r.Header.Get("Priority"),
			body:     string(body),
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, got
}

func TestServiceWithoutTopicIsNoop(t *testing.T) {
	svc := notifications.NewService(config.Notifications{}, nil)
	if svc.Enabled() {
		t.Fatal("service without topic is enabled")
	}
	svc.Start()
	svc.Send(notifications.Alert{Component: "src", Mood: mood.Sad})
	if err := svc.Deliver(context.Background(), notifications.Alert{Component: "src", Mood: mood.Sad}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestDeliverFormatsAlert(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL}, nil)

	err := svc.Deliver(context.Background(), notifications.Alert{
		Component: "encoder",
		Worker:    "w1",
		Mood:      mood.Sad,
		Previous:  mood.Happy,
		Message:   "disk full",
	})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	c := <-got
	if c.title != "Conduit - encoder is sad" {
		t.Errorf("title = %q", c.title)
	}
	if c.tags != "conduit,sad" || c.priority != "high" {
		t.Errorf("tags = %q priority = %q", c.tags, c.priority)
	}
	if c.body != "encoder went from happy to sad on w1\ndisk full" {
		t.Errorf("body = %q", c.body)
	}
}

func TestDeliverReportsServerErrors(t *testing.T) {
	srv, _ := ntfyServer(t, http.StatusForbidden)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL}, nil)
	if err := svc.Deliver(context.Background(), notifications.Alert{Component: "src", Mood: mood.Lost}); err == nil {
		t.Fatal("expected an error for a 403")
	}
}

func TestSendDeliversInBackground(t *testing.T) {
	srv, got := ntfyServer(t, http.StatusOK)
	svc := notifications.NewService(config.Notifications{NtfyTopic: srv.URL}, nil)
	svc.Start()
	svc.Send(notifications.Alert{Component: "src", Mood: mood.Lost, Previous: mood.Happy})

	select {
	case c := <-got:
		if c.title != "Conduit - src is lost" {
			t.Fatalf("title = %q", c.title)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("alert was not delivered")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	svc.Send(notifications.Alert{Component: "src", Mood: mood.Sad})
}

func TestShouldAlert(t *testing.T) {
	tests := []struct {
		previous, current mood.Mood
		recovery          bool
		want              bool
	}{
		{mood.Happy, mood.Sad, false, true},
		{mood.Hungry, mood.Lost, false, true},
		{mood.Sad, mood.Sad, true, false},
		{mood.Sad, mood.Happy, true, true},
		{mood.Sad, mood.Happy, false, false},
		{mood.Waking, mood.Happy, true, false},
		{mood.Happy, mood.Hungry, true, false},
	}
	for _, tt := range tests {
		if got := notifications.ShouldAlert(tt.previous, tt.current, tt.recovery); got != tt.want {
			t.Errorf("ShouldAlert(%s, %s, %v) = %v", tt.previous, tt.current, tt.recovery, got)
		}
	}
}
