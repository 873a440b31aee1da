package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type OperationKind string

const (
	KindRemoteCall     OperationKind = "remote_call"
	KindStorageWrite   OperationKind = "storage_write"
	KindTelemetryEvent OperationKind = "telemetry_event"
)

// RemoteCall is an HTTP request against a storefront backend.
type RemoteCall struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     json.RawMessage   `json:"body,omitempty"`
}

// StorageWrite persists a document into a collection.
type StorageWrite struct {
	Collection string          `json:"collection"`
	Payload    json.RawMessage `json:"payload"`
}

// TelemetryEvent is an analytics event.
type TelemetryEvent struct {
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Operation is one side-effecting unit of work. Exactly one payload matching
// Kind must be set.
type Operation struct {
	ID           string          `json:"id"`
	Kind         OperationKind   `json:"kind"`
	RemoteCall   *RemoteCall     `json:"remoteCall,omitempty"`
	StorageWrite *StorageWrite   `json:"storageWrite,omitempty"`
	Telemetry    *TelemetryEvent `json:"telemetry,omitempty"`
}

func NewRemoteCall(endpoint, method string, body json.RawMessage) Operation {
	return Operation{
		Kind:       KindRemoteCall,
		RemoteCall: &RemoteCall{Endpoint: endpoint, Method: method, Body: body},
	}
}

func NewStorageWrite(collection string, payload json.RawMessage) Operation {
	return Operation{
		Kind:         KindStorageWrite,
		StorageWrite: &StorageWrite{Collection: collection, Payload: payload},
	}
}

func NewTelemetryEvent(name string, properties map[string]any) Operation {
	return Operation{
		Kind:      KindTelemetryEvent,
		Telemetry: &TelemetryEvent{Name: name, Properties: properties},
	}
}

// Validate checks that the payload matches the declared kind.
func (o Operation) Validate() error {
	switch o.Kind {
	case KindRemoteCall:
		if o.RemoteCall == nil || o.RemoteCall.Endpoint == "" {
			return errors.New("remote call requires an endpoint")
		}
	case KindStorageWrite:
		if o.StorageWrite == nil || o.StorageWrite.Collection == "" {
			return errors.New("storage write requires a collection")
		}
	case KindTelemetryEvent:
		if o.Telemetry == nil || o.Telemetry.Name == "" {
			return errors.New("telemetry event requires a name")
		}
	default:
		return fmt.Errorf("unknown operation kind: %q", o.Kind)
	}
	return nil
}

// QueuedItem is an operation parked in the offline queue. ID is assigned at
// enqueue time and is unique per item, independent of Operation.ID.
type QueuedItem struct {
	ID         string    `json:"id"`
	Operation  Operation `json:"operation"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Result carries whatever the executor returned; only remote calls produce data.
type Result struct {
	Data json.RawMessage `json:"data,omitempty"`
}

type RemoteCaller interface {
	Call(ctx context.Context, call RemoteCall) (json.RawMessage, error)
}

type DocumentWriter interface {
	WriteDocument(ctx context.Context, collection string, payload json.RawMessage) error
}

type TelemetrySink interface {
	// Track publishes an analytics event. eventID is stable across retries
	// so downstream consumers can deduplicate replays.
	Track(ctx context.Context, eventID, name string, properties map[string]any) error
}

// Executors are the collaborators that actually perform operations.
type Executors struct {
	Remote    RemoteCaller
	Documents DocumentWriter
	Telemetry TelemetrySink
}

var errNoExecutor = errors.New("no executor configured for operation kind")

func missingPayload(kind OperationKind) error {
	return &CodedError{Code: CodeInvalidArgument, Message: fmt.Sprintf("%s operation has no payload", kind)}
}

func (e Executors) run(ctx context.Context, op Operation) (Result, error) {
	switch op.Kind {
	case KindRemoteCall:
		if e.Remote == nil {
			return Result{}, fmt.Errorf("%w: %s", errNoExecutor, op.Kind)
		}
		if op.RemoteCall == nil {
			return Result{}, missingPayload(op.Kind)
		}
		data, err := e.Remote.Call(ctx, *op.RemoteCall)
		return Result{Data: data}, err
	case KindStorageWrite:
		if e.Documents == nil {
			return Result{}, fmt.Errorf("%w: %s", errNoExecutor, op.Kind)
		}
		if op.StorageWrite == nil {
			return Result{}, missingPayload(op.Kind)
		}
		return Result{}, e.Documents.WriteDocument(ctx, op.StorageWrite.Collection, op.StorageWrite.Payload)
	case KindTelemetryEvent:
		if e.Telemetry == nil {
			return Result{}, fmt.Errorf("%w: %s", errNoExecutor, op.Kind)
		}
		if op.Telemetry == nil {
			return Result{}, missingPayload(op.Kind)
		}
		return Result{}, e.Telemetry.Track(ctx, op.ID, op.Telemetry.Name, op.Telemetry.Properties)
	default:
		return Result{}, fmt.Errorf("unknown operation kind: %q", op.Kind)
	}
}
