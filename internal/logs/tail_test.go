package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"conduit/internal/logs"
)

func writeLog(t *testing.T, path, content string, flag int) {
	t.Helper()
	f, err := os.OpenFile(path, flag|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write log: %v", err)
	}
	_ = f.Close()
}

func TestPath(t *testing.T) {
	if got := logs.Path("/var/log/conduit", "worker"); got != "/var/log/conduit/conduit-worker.log" {
		t.Fatalf("Path = %s", got)
	}
	if got := logs.Path("/tmp", ""); got != "/tmp/conduit.log" {
		t.Fatalf("Path without role = %s", got)
	}
}

func TestLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conduit-manager.log")
	writeLog(t, path, "a\nb\nc\n", os.O_TRUNC)

	chunk, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if strings.Join(chunk.Lines, ",") != "b,c" {
		t.Fatalf("lines = %#v", chunk.Lines)
	}
	if chunk.Offset != 6 {
		t.Fatalf("offset = %d, want 6", chunk.Offset)
	}

	missing, err := logs.Last(filepath.Join(t.TempDir(), "none.log"), 5)
	if err != nil || len(missing.Lines) != 0 {
		t.Fatalf("missing file = %+v, %v", missing, err)
	}
}

func TestFromKeepsPartialLinesAndRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conduit-worker.log")
	writeLog(t, path, "one\ntw", os.O_TRUNC)

	chunk, err := logs.From(path, 0)
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if strings.Join(chunk.Lines, ",") != "one" || chunk.Offset != 4 {
		t.Fatalf("chunk = %+v", chunk)
	}

	writeLog(t, path, "o\n", os.O_APPEND)
	chunk, err = logs.From(path, chunk.Offset)
	if err != nil {
		t.Fatalf("From: %v", err)
	}
	if strings.Join(chunk.Lines, ",") != "two" {
		t.Fatalf("lines = %#v", chunk.Lines)
	}

	writeLog(t, path, "x\n", os.O_TRUNC)
	chunk, err = logs.From(path, chunk.Offset)
	if err != nil {
		t.Fatalf("From after truncation: %v", err)
	}
	if strings.Join(chunk.Lines, ",") != "x" {
		t.Fatalf("lines after truncation = %#v", chunk.Lines)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conduit-manager.log")
	writeLog(t, path, "start\n", os.O_TRUNC)
	chunk, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var (
		mu    sync.Mutex
		lines []string
	)
	done := make(chan error, 1)
	go func() {
		done <- logs.Follow(ctx, path, chunk.Offset, func(line string) {
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		})
	}()

	writeLog(t, path, "later\n", os.O_APPEND)
	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := strings.Join(lines, ",")
		mu.Unlock()
		if got == "later" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("followed lines = %q", got)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Follow: %v", err)
	}
}

func TestMatch(t *testing.T) {
	line := "12:00:01 WARN manager: component lost avatar_id=src"
	if !logs.Match(line, []string{"warn", "src"}) {
		t.Fatal("expected match")
	}
	if logs.Match(line, []string{"sink"}) {
		t.Fatal("unexpected match")
	}
	if !logs.Match(line, nil) {
		t.Fatal("no terms should match")
	}
}
