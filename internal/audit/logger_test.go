package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLogWritesJSONLines(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")

	if err := Log(logPath, "Ada", "reconcile", "authenticated", map[string]interface{}{
		"source":  "dev",
		"created": true,
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	if err := Log(logPath, "", "reconcile", "rejected", map[string]interface{}{
		"reason": "missing_username_attribute",
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}
	Close()

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line is not valid JSON: %v", err)
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	first := events[0]
	if first.Username != "Ada" || first.Action != "reconcile" || first.Outcome != "authenticated" {
		t.Errorf("unexpected event: %+v", first)
	}
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Error("event must carry an ID and timestamp")
	}
	if events[1].Metadata["reason"] != "missing_username_attribute" {
		t.Errorf("metadata not preserved: %v", events[1].Metadata)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	defer Close()

	ch, cancel := Subscribe()
	defer cancel()

	if err := Log(logPath, "Ada", "reconcile", "authenticated", nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	select {
	case ev := <-ch:
		if ev.Username != "Ada" {
			t.Errorf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive the event")
	}
}

func TestSubscribeCancelStopsDelivery(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	defer Close()

	ch, cancel := Subscribe()
	cancel()

	if err := Log(logPath, "Ada", "reconcile", "authenticated", nil); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	select {
	case ev := <-ch:
		t.Errorf("cancelled subscriber received event: %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "audit.log")
	defer Close()

	_, cancel := Subscribe()
	defer cancel()

	// Overflow the subscriber buffer; Log must keep returning.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if err := Log(logPath, "Ada", "reconcile", "authenticated", nil); err != nil {
				t.Errorf("Log failed: %v", err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Log blocked on a slow subscriber")
	}
}
