// Package types defines the core domain types shared by the hearth supervisor:
// events, the event-type catalogue, permission categories and process roles.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"encoding/binary"
	"fmt"
)

// EventType identifies an entry in the versioned event catalogue.
type EventType uint32

// Event type constants. Values are part of the wire format and must not be
// renumbered.
const (
	EventTypeResetRequest      EventType = 1
	EventTypeResetAcknowledged EventType = 2
	EventTypePermissionDenied  EventType = 3
	EventTypePasswordRequired  EventType = 4
	EventTypeServiceReady      EventType = 5
	EventTypeNotification      EventType = 6
	EventTypeListenString      EventType = 7
	EventTypeListenStart       EventType = 8
	EventTypeListenStop        EventType = 9
	EventTypeSpeakText         EventType = 10
	EventTypeSpeakDone         EventType = 11
	EventTypeDisplayText       EventType = 12
	EventTypeLaunchApp         EventType = 13
	EventTypeLaunchRequest     EventType = 14
	EventTypeStopRequest       EventType = 15
	EventTypePasswordVerified  EventType = 16

	// Protocol version 2.
	EventTypeSystemShutdown EventType = 17
	EventTypeVolumeSet      EventType = 18
)

// NoGroup is the group id carried by events that belong to no foreground
// session (asynchronous notifications, service readiness).
const NoGroup uint32 = 0

// Event is a typed, variable-length message exchanged between the core and a
// child process. Events are treated as immutable once constructed; the
// constructors copy the payload so callers may reuse their buffers.
type Event struct {
	// GroupID correlates the event with a foreground session.
	GroupID uint32
	// Type is the catalogue entry of the event.
	Type EventType
	// Payload is opaque to the core. Its length is the wire data size.
	Payload []byte
}

// NewEvent builds an event, copying payload.
func NewEvent(groupID uint32, eventType EventType, payload []byte) Event {
	var data []byte
	if len(payload) > 0 {
		data = make([]byte, len(payload))
		copy(data, payload)
	}
	return Event{GroupID: groupID, Type: eventType, Payload: data}
}

// NewStringEvent builds an event whose payload is the bytes of s.
func NewStringEvent(groupID uint32, eventType EventType, s string) Event {
	return NewEvent(groupID, eventType, []byte(s))
}

// NewTypeReply builds a reply event (PermissionDenied, PasswordRequired) whose
// payload is the offending event type in native byte order.
func NewTypeReply(groupID uint32, replyType, about EventType) Event {
	payload := make([]byte, 4)
	binary.NativeEndian.PutUint32(payload, uint32(about))
	return Event{GroupID: groupID, Type: replyType, Payload: payload}
}

// ReplySubject extracts the event type carried by a reply built with
// NewTypeReply.
func (e Event) ReplySubject() (EventType, bool) {
	if len(e.Payload) != 4 {
		return 0, false
	}
	return EventType(binary.NativeEndian.Uint32(e.Payload)), true
}

// Size returns the payload length in bytes.
func (e Event) Size() int {
	return len(e.Payload)
}

// String implements fmt.Stringer.
func (e Event) String() string {
	return fmt.Sprintf("%s(group=%d, size=%d)", e.Type, e.GroupID, len(e.Payload))
}

// String returns the catalogue name of the event type.
func (t EventType) String() string {
	if spec, ok := catalogue[t]; ok {
		return spec.Name
	}
	return fmt.Sprintf("event_type(%d)", uint32(t))
}

// IsReplyOnly reports whether the type exists only to flow toward the
// foreground process. Such events are never redistributed to platform
// services.
func (t EventType) IsReplyOnly() bool {
	switch t {
	case EventTypeResetAcknowledged, EventTypePermissionDenied, EventTypePasswordRequired:
		return true
	}
	return false
}

// IsControl reports whether the type is a request addressed to the core
// itself. Control events are consumed by the input interpreter and never
// delivered to any process.
func (t EventType) IsControl() bool {
	switch t {
	case EventTypeLaunchRequest, EventTypeStopRequest, EventTypePasswordVerified:
		return true
	}
	return false
}
