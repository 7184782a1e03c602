package emulator

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    "github.com/KevinKickass/HostEmu/internal/protocol"
    "github.com/KevinKickass/HostEmu/internal/types"
    "github.com/google/uuid"
)

type EventSource string

const (
    // SourceDevice marks a request the device sent to the emulator
    SourceDevice EventSource = "device"
    // SourceEmulator marks a push from the emulator to the device
    SourceEmulator EventSource = "emulator"
)

// Event records one handled request or push.
type Event struct {
    ID        uuid.UUID              `json:"id"`
    Timestamp time.Time              `json:"timestamp"`
    Source    EventSource            `json:"source"`
    Object    protocol.ObjectType    `json:"object"`
    Name      string                 `json:"name"`
    Operation protocol.OperationType `json:"operation"`
    Status    types.Status           `json:"status"`
    Request   json.RawMessage        `json:"request,omitempty"`
    Reply     json.RawMessage        `json:"reply,omitempty"`
}

type EventStreamer struct {
    mu          sync.RWMutex
    subscribers []chan *Event
}

func NewEventStreamer() *EventStreamer {
    return &EventStreamer{}
}

func (s *EventStreamer) Subscribe() <-chan *Event {
    s.mu.Lock()
    defer s.mu.Unlock()

    ch := make(chan *Event, 100)
    s.subscribers = append(s.subscribers, ch)
    return ch
}

func (s *EventStreamer) Unsubscribe(ch <-chan *Event) {
    s.mu.Lock()
    defer s.mu.Unlock()

    for i, sub := range s.subscribers {
        if sub == ch {
            s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
            close(sub)
            break
        }
    }
}

func (s *EventStreamer) Broadcast(event *Event) {
    s.mu.RLock()
    defer s.mu.RUnlock()

    for _, ch := range s.subscribers {
        select {
        case ch <- event:
        default:
            // Skip if channel is full
        }
    }
}

// Expect subscribes immediately and returns a wait function that blocks
// until an event accepted by match arrives. Subscribing before the action
// that causes the event means it cannot be missed. The wait function must
// be called once; it releases the subscription.
func (s *EventStreamer) Expect(match func(*Event) bool) func(ctx context.Context) (*Event, error) {
    ch := s.Subscribe()
    return func(ctx context.Context) (*Event, error) {
        defer s.Unsubscribe(ch)
        for {
            select {
            case event, ok := <-ch:
                if !ok {
                    return nil, fmt.Errorf("event stream closed: %w", types.StatusConnectionClosed)
                }
                if match == nil || match(event) {
                    return event, nil
                }
            case <-ctx.Done():
                return nil, fmt.Errorf("waiting for event: %w", types.StatusTimeout)
            }
        }
    }
}

// WaitFor blocks until a matching event arrives. Only events broadcast
// after the call are seen.
func (s *EventStreamer) WaitFor(ctx context.Context, match func(*Event) bool) (*Event, error) {
    return s.Expect(match)(ctx)
}

// Operation matches events of one operation on the named peripheral.
func Operation(object protocol.ObjectType, name string, op protocol.OperationType) func(*Event) bool {
    return func(e *Event) bool {
        return e.Object == object && e.Name == name && e.Operation == op
    }
}
