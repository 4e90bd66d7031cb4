package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(10, TopicTask)

	bus.Publish(TaskStartedEvent{
		ID:        "exec-1",
		Name:      "collect rewards",
		WorkerID:  2,
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "exec-1" {
			t.Errorf("expected task ID 'exec-1', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch1 := bus.Subscribe(10, TopicTask)
	ch2 := bus.Subscribe(10, TopicTask)

	bus.Publish(TaskFinishedEvent{
		ID:        "exec-2",
		State:     "completed",
		Attempts:  1,
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "exec-2" {
				t.Errorf("subscriber %d: expected task ID 'exec-2', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

func TestNonBlockingSend(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch := bus.Subscribe(1, TopicScene)

	done := make(chan bool)
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(SceneChangedEvent{From: "home", To: "battle", Timestamp: time.Now()})
		}
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped deliveries, got %d", got)
	}

	select {
	case received := <-ch:
		if received == nil {
			t.Error("received nil event")
		}
	default:
		t.Error("expected at least one event in buffer")
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewBus()

	// Same channel under two topics must only be closed once.
	ch := bus.Subscribe(10, TopicTask, TopicQueue)
	bus.Close()
	bus.Close()

	received := 0
	for range ch {
		received++
	}
	if received != 0 {
		t.Errorf("expected 0 events after close, got %d", received)
	}
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	ch := bus.Subscribe(10, TopicTask)
	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Publish(TaskQueuedEvent{ID: "exec-1", Timestamp: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}

	late := bus.Subscribe(1, TopicTask)
	if _, ok := <-late; ok {
		t.Error("subscription after close should yield a closed channel")
	}
}

func TestNilBusIsNoop(t *testing.T) {
	var bus *Bus
	bus.Publish(TaskQueuedEvent{ID: "exec-1"})
	bus.Close()
	if bus.Dropped() != 0 {
		t.Error("nil bus should report zero drops")
	}
}

func TestMultipleTopics(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	taskCh := bus.Subscribe(10, TopicTask)
	queueCh := bus.Subscribe(10, TopicQueue)

	bus.Publish(TaskStartedEvent{ID: "exec-1", Timestamp: time.Now()})
	bus.Publish(QueueProgressEvent{Total: 10, Completed: 5, Running: 2, Queued: 3, Timestamp: time.Now()})

	select {
	case received := <-taskCh:
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("task channel: expected task event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("task channel: timeout waiting for event")
	}

	select {
	case received := <-queueCh:
		if received.EventType() != EventTypeQueueProgress {
			t.Errorf("queue channel: expected queue event, got %s", received.EventType())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("queue channel: timeout waiting for event")
	}

	select {
	case <-taskCh:
		t.Error("task channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}

	select {
	case <-queueCh:
		t.Error("queue channel received unexpected event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	allCh := bus.SubscribeAll(20)

	bus.Publish(TaskStartedEvent{ID: "exec-1", Timestamp: time.Now()})
	bus.Publish(BackpressureEvent{Reason: "cpu", CPUPercent: 91, Timestamp: time.Now()})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskStarted] {
		t.Error("SubscribeAll did not receive task event")
	}
	if !receivedTypes[EventTypeBackpressure] {
		t.Error("SubscribeAll did not receive backpressure event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}
