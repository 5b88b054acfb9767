package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEventWriterCreatesFile(t *testing.T) {
	dir := t.TempDir()
	w := NewEventWriter(dir)

	if err := w.Notify(TypeEnrichmentComplete, "evt_abc123"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "events"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 event file, got %d", len(entries))
	}
	if filepath.Ext(entries[0].Name()) != ".event" {
		t.Errorf("expected .event extension, got %s", entries[0].Name())
	}
}

func TestEventWatcherReceivesEvent(t *testing.T) {
	dir := t.TempDir()

	type eventMsg struct {
		notifyType string
		eventID    string
	}
	received := make(chan eventMsg, 1)

	watcher := NewEventWatcher(dir, func(notifyType, eventID string) {
		received <- eventMsg{notifyType, eventID}
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Give fsnotify a moment to register
	time.Sleep(50 * time.Millisecond)

	writer := NewEventWriter(dir)
	if err := writer.Notify(TypeEventCaptured, "evt_test123"); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.notifyType != TypeEventCaptured {
			t.Errorf("expected event type %s, got %s", TypeEventCaptured, msg.notifyType)
		}
		if msg.eventID != "evt_test123" {
			t.Errorf("expected evt_test123, got %s", msg.eventID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestEventWatcherDrainsExisting(t *testing.T) {
	dir := t.TempDir()

	// Write events BEFORE starting watcher
	writer := NewEventWriter(dir)
	_ = writer.Notify(TypeEventCaptured, "evt_drain1")
	_ = writer.Notify(TypeEnrichmentComplete, "evt_drain2")

	received := make(chan string, 10)
	watcher := NewEventWatcher(dir, func(notifyType, eventID string) {
		received <- eventID
	})
	if err := watcher.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer watcher.Stop()

	// Drain should have processed both files synchronously during Start
	time.Sleep(100 * time.Millisecond)

	if len(received) != 2 {
		t.Fatalf("expected 2 drained events, got %d", len(received))
	}
}

func TestNotifyTypeRoundTrip(t *testing.T) {
	// Verify all three notification types survive the write→watch round-trip
	notifyTypes := []string{TypeEventCaptured, TypeEnrichmentComplete, TypeSessionClosed}

	for _, nType := range notifyTypes {
		t.Run(nType, func(t *testing.T) {
			dir := t.TempDir()

			type eventMsg struct {
				notifyType string
				eventID    string
			}
			received := make(chan eventMsg, 1)

			watcher := NewEventWatcher(dir, func(notifyType, eventID string) {
				received <- eventMsg{notifyType, eventID}
			})
			if err := watcher.Start(); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			defer watcher.Stop()

			time.Sleep(50 * time.Millisecond)

			writer := NewEventWriter(dir)
			if err := writer.Notify(nType, "evt_roundtrip"); err != nil {
				t.Fatalf("Notify failed: %v", err)
			}

			select {
			case msg := <-received:
				if msg.notifyType != nType {
					t.Errorf("expected event type %s, got %s", nType, msg.notifyType)
				}
				if msg.eventID != "evt_roundtrip" {
					t.Errorf("expected evt_roundtrip, got %s", msg.eventID)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("timeout waiting for event")
			}
		})
	}
}

func TestSanitizeID(t *testing.T) {
	got := sanitizeID("sess:abc/def")
	if got != "sess_abc_def" {
		t.Errorf("expected sess_abc_def, got %s", got)
	}
}
