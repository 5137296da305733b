package services_test

import (
	"context"
	"testing"

	"conduit/internal/services"
)

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithAvatarID(ctx, "producer-video")
	ctx = services.WithHeaven(ctx, "component")
	ctx = services.WithRequestID(ctx, "req-7")

	lookups := []struct {
		name string
		get  func(context.Context) (string, bool)
		want string
	}{
		{"avatar", services.AvatarIDFromContext, "producer-video"},
		{"heaven", services.HeavenFromContext, "component"},
		{"request", services.RequestIDFromContext, "req-7"},
	}
	for _, l := range lookups {
		if got, ok := l.get(ctx); !ok || got != l.want {
			t.Fatalf("%s = %q, %v; want %q", l.name, got, ok, l.want)
		}
	}
}

func TestBlankValuesLeaveContextAlone(t *testing.T) {
	base := services.WithHeaven(context.Background(), "worker")
	if ctx := services.WithHeaven(base, ""); ctx != base {
		t.Fatal("blank heaven replaced the context")
	}
	if heaven, _ := services.HeavenFromContext(services.WithHeaven(base, "")); heaven != "worker" {
		t.Fatalf("heaven = %q, want worker", heaven)
	}
	if _, ok := services.AvatarIDFromContext(services.WithAvatarID(context.Background(), "")); ok {
		t.Fatal("blank avatar id was stored")
	}
}
