package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"conduit/internal/bouncer"
	"conduit/internal/mood"
	"conduit/internal/store"
	"conduit/internal/testsupport"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	return testsupport.MustOpenStore(t, testsupport.NewConfig(t))
}

func TestMoodHistoryOrderingAndFilter(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	records := []store.MoodRecord{
		{Component: "producer", Worker: "w1", Mood: mood.Waking},
		{Component: "producer", Worker: "w1", Mood: mood.Happy},
		{Component: "consumer", Worker: "w2", Mood: mood.Hungry},
		{Component: "consumer", Worker: "w2", Mood: mood.Sad, Message: "disk full"},
	}
	for _, rec := range records {
		saved, err := s.RecordMood(ctx, rec)
		if err != nil {
			t.Fatalf("RecordMood: %v", err)
		}
		if saved.ID == 0 || saved.RecordedAt.IsZero() {
			t.Fatalf("expected id and timestamp, got %+v", saved)
		}
	}

	all, err := s.MoodHistory(ctx, "", 0)
	if err != nil {
		t.Fatalf("MoodHistory: %v", err)
	}
	if len(all) != 4 || all[0].Mood != mood.Sad || all[0].Message != "disk full" {
		t.Fatalf("unexpected history %+v", all)
	}

	producer, err := s.MoodHistory(ctx, "producer", 1)
	if err != nil {
		t.Fatalf("MoodHistory producer: %v", err)
	}
	if len(producer) != 1 || producer[0].Mood != mood.Happy || producer[0].Worker != "w1" {
		t.Fatalf("unexpected producer history %+v", producer)
	}

	latest, err := s.LatestMoods(ctx)
	if err != nil {
		t.Fatalf("LatestMoods: %v", err)
	}
	if len(latest) != 2 || latest[0].Component != "consumer" || latest[0].Mood != mood.Sad || latest[1].Mood != mood.Happy {
		t.Fatalf("unexpected latest moods %+v", latest)
	}
}

func TestRecordMoodRejectsInvalidInput(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if _, err := s.RecordMood(ctx, store.MoodRecord{Mood: mood.Happy}); err == nil {
		t.Fatal("expected error for missing component")
	}
	if _, err := s.RecordMood(ctx, store.MoodRecord{Component: "c", Mood: mood.Mood(42)}); err == nil {
		t.Fatal("expected error for invalid mood")
	}
}

func TestKeycardAuditNeverStoresSecrets(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	kc := bouncer.Keycard{
		ID:         "20240506070809-0",
		Type:       bouncer.TypeUACPCC,
		State:      bouncer.Authenticated,
		Username:   "worker",
		Password:   "secret",
		Response:   "deadbeef",
		AvatarID:   "localhost",
		IssuerName: "localhost",
		Address:    "127.0.0.1",
	}
	if _, err := s.RecordKeycard(ctx, store.KeycardRecordFrom(bouncer.ActionAuthenticated, kc)); err != nil {
		t.Fatalf("RecordKeycard: %v", err)
	}
	if _, err := s.RecordKeycard(ctx, store.KeycardRecordFrom(bouncer.ActionExpired, kc)); err != nil {
		t.Fatalf("RecordKeycard: %v", err)
	}

	audit, err := s.KeycardAudit(ctx, 0)
	if err != nil {
		t.Fatalf("KeycardAudit: %v", err)
	}
	if len(audit) != 2 || audit[0].Action != bouncer.ActionExpired || audit[1].Action != bouncer.ActionAuthenticated {
		t.Fatalf("unexpected audit order %+v", audit)
	}
	if audit[1].KeycardID != kc.ID || audit[1].Username != "worker" || audit[1].Type != bouncer.TypeUACPCC {
		t.Fatalf("unexpected audit record %+v", audit[1])
	}
}

func TestPruneDropsOldRows(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

	if _, err := s.RecordMood(ctx, store.MoodRecord{Component: "c", Mood: mood.Happy, RecordedAt: old}); err != nil {
		t.Fatalf("RecordMood: %v", err)
	}
	if _, err := s.RecordMood(ctx, store.MoodRecord{Component: "c", Mood: mood.Lost}); err != nil {
		t.Fatalf("RecordMood: %v", err)
	}
	if _, err := s.RecordKeycard(ctx, store.KeycardRecord{Action: "added", Type: bouncer.TypeGeneric, State: bouncer.Requesting, RecordedAt: old.Add(500 * time.Millisecond)}); err != nil {
		t.Fatalf("RecordKeycard: %v", err)
	}

	removed, err := s.Prune(ctx, old.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows pruned, got %d", removed)
	}
	left, err := s.MoodHistory(ctx, "c", 0)
	if err != nil || len(left) != 1 || left[0].Mood != mood.Lost {
		t.Fatalf("unexpected remaining history %+v %v", left, err)
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manager.db")
	s, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := s.RecordMood(context.Background(), store.MoodRecord{Component: "c", Mood: mood.Sleeping}); err != nil {
		t.Fatalf("RecordMood: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	history, err := reopened.MoodHistory(context.Background(), "", 0)
	if err != nil || len(history) != 1 {
		t.Fatalf("expected history to survive reopen, got %+v %v", history, err)
	}
}

func setUserVersion(t *testing.T, path string, version int) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("PRAGMA user_version = " + strconv.Itoa(version)); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
}

func TestSchemaVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manager.db")
	s, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	if _, err := s.RecordMood(context.Background(), store.MoodRecord{Component: "c", Mood: mood.Happy}); err != nil {
		t.Fatalf("RecordMood: %v", err)
	}
	_ = s.Close()

	setUserVersion(t, path, 99)
	if _, err := store.OpenPath(path); !errors.Is(err, store.ErrSchemaMismatch) {
		t.Fatalf("newer schema error = %v, want ErrSchemaMismatch", err)
	}

	// Version 0 stands in for an older release: its history is discarded.
	setUserVersion(t, path, 0)
	reset, err := store.OpenPath(path)
	if err != nil {
		t.Fatalf("OpenPath after downgrade: %v", err)
	}
	defer reset.Close()
	history, err := reset.MoodHistory(context.Background(), "", 0)
	if err != nil || len(history) != 0 {
		t.Fatalf("history after reset = %+v, %v", history, err)
	}
}
