// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"fmt"
	"sync"
)

// EventCode classifies a listener notification.
type EventCode int

const (
	// EventCaptureURLSucceeded and EventCaptureURLFailed report one
	// URL of a capture batch. The parameter is the URL's index in the
	// Capture call.
	EventCaptureURLSucceeded EventCode = iota + 1
	EventCaptureURLFailed

	// EventCaptureTaskComplete reports the end of a batch, whether it
	// committed, failed, or was cancelled. The parameter is 1 when
	// the batch committed and 0 otherwise.
	EventCaptureTaskComplete

	// EventCaptureQueueDrained follows the EventCaptureTaskComplete
	// of the last queued batch.
	EventCaptureQueueDrained

	// EventUpdateStatusChanged reports each update status the update
	// task writes. The parameter is the new UpdateStatus.
	EventUpdateStatusChanged

	// EventUpdateTaskComplete reports the end of an update task. The
	// parameter is its UpdateOutcome.
	EventUpdateTaskComplete
)

func (c EventCode) String() string {
	switch c {
	case EventCaptureURLSucceeded:
		return "capture_url_succeeded"
	case EventCaptureURLFailed:
		return "capture_url_failed"
	case EventCaptureTaskComplete:
		return "capture_task_complete"
	case EventCaptureQueueDrained:
		return "capture_queue_drained"
	case EventUpdateStatusChanged:
		return "update_status_changed"
	case EventUpdateTaskComplete:
		return "update_task_complete"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Task is the source of an event: a capture batch or an update run.
type Task interface {
	// ID is a unique identifier for logs.
	ID() string
	StoreID() int64

	// Done is closed after the task's completion event has been
	// delivered.
	Done() <-chan struct{}
}

// Listener receives store events. Calls come from the store's
// dispatcher goroutine, one at a time and in the order the task
// produced them.
type Listener interface {
	HandleEvent(code EventCode, param int, source Task)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(code EventCode, param int, source Task)

// HandleEvent calls f.
func (f ListenerFunc) HandleEvent(code EventCode, param int, source Task) { f(code, param, source) }

type event struct {
	code   EventCode
	param  int
	source Task
}

const eventBuffer = 64

// dispatcher moves events from task goroutines to one delivery
// goroutine per store.
type dispatcher struct {
	events  chan event
	stop    chan struct{}
	stopped chan struct{}
	handle  func(event)

	stopOnce sync.Once
}

func newDispatcher(handle func(event)) *dispatcher {
	d := &dispatcher{
		events:  make(chan event, eventBuffer),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		handle:  handle,
	}
	go d.run()
	return d
}

// post queues an event. Events posted after the dispatcher stopped
// are dropped.
func (d *dispatcher) post(code EventCode, param int, source Task) {
	select {
	case d.events <- event{code: code, param: param, source: source}:
	case <-d.stopped:
	}
}

func (d *dispatcher) run() {
	defer close(d.stopped)
	for {
		select {
		case ev := <-d.events:
			d.handle(ev)
		case <-d.stop:
			for {
				select {
				case ev := <-d.events:
					d.handle(ev)
				default:
					return
				}
			}
		}
	}
}

// close delivers everything already posted and stops the goroutine.
func (d *dispatcher) close() {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.stopped
}
