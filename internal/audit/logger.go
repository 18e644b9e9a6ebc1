package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	mu          sync.Mutex
	logFiles    = make(map[string]*os.File)
	subscribers = make(map[chan Event]bool)
)

// Event represents an audit log entry
type Event struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Username  string                 `json:"username"`
	Action    string                 `json:"action"`
	Outcome   string                 `json:"outcome,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Log writes an audit event and fans it out to live subscribers
func Log(logPath, username, action, outcome string, metadata map[string]interface{}) error {
	mu.Lock()
	defer mu.Unlock()

	// Get or create log file
	logFile, exists := logFiles[logPath]
	if !exists {
		var err error
		// Support stdout as special case
		if logPath == "stdout" || logPath == "-" {
			logFile = os.Stdout
		} else {
			logFile, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
		}
		logFiles[logPath] = logFile
	}

	event := Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Username:  username,
		Action:    action,
		Outcome:   outcome,
		Metadata:  metadata,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	if _, err := fmt.Fprintf(logFile, "%s\n", data); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}

	// Live subscribers are best effort; a slow consumer drops events
	// rather than blocking the request path.
	for ch := range subscribers {
		select {
		case ch <- event:
		default:
		}
	}

	return nil
}

// Subscribe registers a live event channel. The returned channel receives
// every event logged after the call; cancel releases it.
func Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	mu.Lock()
	subscribers[ch] = true
	mu.Unlock()

	cancel := func() {
		mu.Lock()
		delete(subscribers, ch)
		mu.Unlock()
	}
	return ch, cancel
}

// Close closes all open log files
func Close() {
	mu.Lock()
	defer mu.Unlock()

	for _, file := range logFiles {
		// Don't close stdout
		if file != os.Stdout {
			file.Close()
		}
	}
	logFiles = make(map[string]*os.File)
}
