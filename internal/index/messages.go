// Package index builds and maintains the project index. The Service owns
// a background worker goroutine and talks to callers exclusively through
// command and event messages, so no caller ever touches the stores while
// a build is running.
package index

import (
	"time"

	"github.com/codelens/codelens/internal/store"
)

// CommandType identifies a command sent to the Service.
type CommandType string

const (
	CmdBuild             CommandType = "build"
	CmdIncrementalUpdate CommandType = "incremental_update"
	CmdPause             CommandType = "pause"
	CmdResume            CommandType = "resume"
	CmdCancel            CommandType = "cancel"
	CmdGetStatus         CommandType = "get_status"
)

// EventType identifies an event emitted by the Service.
type EventType string

const (
	EventProgress         EventType = "progress"
	EventBuildComplete    EventType = "build_complete"
	EventUpdateComplete   EventType = "update_complete"
	EventPaused           EventType = "paused"
	EventResumed          EventType = "resumed"
	EventCancelled        EventType = "cancelled"
	EventStatus           EventType = "status"
	EventError            EventType = "error"
	EventWorkerRecovering EventType = "worker_recovering"
	EventWorkerRecovered  EventType = "worker_recovered"
)

// Command is a request to the Service.
type Command struct {
	Type CommandType

	// ResumeFromCheckpoint applies to CmdBuild: continue an interrupted
	// build from the persisted checkpoint instead of starting over.
	ResumeFromCheckpoint bool

	// Changes applies to CmdIncrementalUpdate. Nil means the Service
	// detects changes itself by rescanning.
	Changes *store.ChangeSet
}

// Event is a notification from the Service. Progress is set for
// progress, status and completion events; Err for error events;
// Attempt for worker recovery events.
type Event struct {
	Type     EventType
	Progress *store.IndexingProgress
	Err      error
	Attempt  int
	Time     time.Time
}

func newEvent(t EventType) Event {
	return Event{Type: t, Time: time.Now()}
}

func progressEvent(t EventType, p *store.IndexingProgress) Event {
	ev := newEvent(t)
	ev.Progress = p
	return ev
}

func errorEvent(err error) Event {
	ev := newEvent(EventError)
	ev.Err = err
	return ev
}
