package services_test

import (
	"errors"
	"testing"

	"conduit/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("connection refused")
	err := services.Wrap(services.ErrTransient, "worker", "start", "spawn job", base)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	if got, want := err.Error(), "transient failure: worker: start: spawn job: connection refused"; got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
	var lifecycle *services.LifecycleError
	if !errors.As(err, &lifecycle) || lifecycle.Scope != "worker" || lifecycle.Op != "start" {
		t.Fatalf("errors.As = %+v", lifecycle)
	}
}

func TestWrapMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"blank parts", services.Wrap(services.ErrNotFound, " ", "", "", nil), "not found: lifecycle failure"},
		{"nil marker", services.Wrap(nil, "component", "", "bad type", nil), "transient failure: component: bad type"},
		{"configuration", services.Wrap(services.ErrConfiguration, "component", "producer", "chunk_size must be positive", nil), "configuration error: component: producer: chunk_size must be positive"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
	if errors.Is(services.Wrap(services.ErrNotFound, "", "", "", nil), services.ErrTimeout) {
		t.Fatal("not found matched timeout")
	}
}
