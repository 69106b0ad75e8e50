package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/cloudplan/pkg/engine"
)

// EventSubscriber receives published events in publish order.
type EventSubscriber func(event engine.Event)

// EventFilter selects events. A nil filter selects everything.
type EventFilter func(event engine.Event) bool

// EventPublisher fans engine events out to subscribers and sinks. It
// implements engine.EventPublisher. Delivery is synchronous so subscribers
// observe the engine's order.
type EventPublisher struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
	sinks       []sinkEntry
	now         func() time.Time
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

type sinkEntry struct {
	name   string
	sink   engine.EventPublisher
	filter EventFilter
}

// NewEventPublisher creates an empty publisher.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{now: time.Now}
}

// Subscribe registers a callback for events matching filter.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.subscribers = append(ep.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// AddSink registers a persistent sink such as the run history store.
func (ep *EventPublisher) AddSink(name string, sink engine.EventPublisher, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.sinks = append(ep.sinks, sinkEntry{name: name, sink: sink, filter: filter})
}

// Publish assigns a missing id and timestamp and delivers event. Sink
// errors are joined; subscribers always receive the event.
func (ep *EventPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if event == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = ep.now().UTC()
	}
	if event.Level == "" {
		event.Level = event.Type.Severity()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(*event) {
			continue
		}
		entry.subscriber(*event)
	}

	var errs []error
	for _, entry := range ep.sinks {
		if entry.filter != nil && !entry.filter(*event) {
			continue
		}
		if err := entry.sink.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("event sink %s: %w", entry.name, err))
		}
	}
	return errors.Join(errs...)
}

var levelRank = map[string]int{
	"debug": -1,
	"info":  0,
	"warn":  1,
	"error": 2,
}

// FilterByLevel selects events at or above minLevel (info, warn, error).
func FilterByLevel(minLevel string) EventFilter {
	threshold := levelRank[minLevel]
	return func(event engine.Event) bool {
		return levelRank[event.Level] >= threshold
	}
}

// FilterByType selects events of the given types.
func FilterByType(types ...engine.EventType) EventFilter {
	typeSet := make(map[engine.EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event engine.Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID selects events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event engine.Event) bool {
		return event.RunID == runID
	}
}

// FilterByResourceID selects events about one resource.
func FilterByResourceID(resourceID string) EventFilter {
	return func(event engine.Event) bool {
		return event.ResourceID == resourceID
	}
}
