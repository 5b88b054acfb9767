package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// EventWatcher is the ucw-mcp side of the notification channel. It consumes
// .event files from {dataPath}/events/ as ucw-proxy drops them, invoking the
// callback once per file. Files are removed as they are read, so two
// watchers on the same directory split the stream rather than duplicate it.
type EventWatcher struct {
	dir      string
	callback func(notifyType, eventID string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewEventWatcher prepares a watcher over {dataPath}/events/. Call Start
// to begin consuming.
func NewEventWatcher(dataPath string, callback func(notifyType, eventID string)) *EventWatcher {
	return &EventWatcher{
		dir:      filepath.Join(dataPath, "events"),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start consumes any files written while no watcher was running, then
// switches to fsnotify for new ones. Call Stop to clean up.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	ew.drainBacklog()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	go ew.loop()
	log.Printf("notify: consuming capture notifications from %s", ew.dir)
	return nil
}

// Stop closes the watcher and waits for the dispatch loop to exit.
func (ew *EventWatcher) Stop() {
	if ew.watcher != nil {
		_ = ew.watcher.Close()
	}
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".event") {
				ew.consume(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

// drainBacklog picks up notifications written before Start, e.g. captures
// made while ucw-mcp was not running.
func (ew *EventWatcher) drainBacklog() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".event") {
			ew.consume(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func (ew *EventWatcher) consume(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // another consumer got there first
	}
	_ = os.Remove(path)

	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("notify: discarding malformed event file %s: %v", filepath.Base(path), err)
		return
	}

	if event.EventID != "" && ew.callback != nil {
		ew.callback(event.Type, event.EventID)
	}
}
