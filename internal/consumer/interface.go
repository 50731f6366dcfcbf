package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrInvalidEvent = errors.New("invalid avatar-processed event")

// AvatarObjectRef identifies a stored object by its bucket and key.
type AvatarObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// AvatarProcessedObjects holds bucket+key refs for each processed size variant.
type AvatarProcessedObjects struct {
	Sm AvatarObjectRef `json:"sm"`
	Md AvatarObjectRef `json:"md"`
	Lg AvatarObjectRef `json:"lg"`
}

// AvatarProcessedEvent is published by the resize pipeline once an uploaded
// avatar has been scaled.
type AvatarProcessedEvent struct {
	UserID    string                 `json:"user_id"`
	Raw       AvatarObjectRef        `json:"raw"`
	Processed AvatarProcessedObjects `json:"processed"`
	Timestamp int64                  `json:"timestamp"`
}

// DisplayObject picks the variant served as the avatar: medium, then
// large, then small.
func (e *AvatarProcessedEvent) DisplayObject() (AvatarObjectRef, bool) {
	for _, ref := range []AvatarObjectRef{e.Processed.Md, e.Processed.Lg, e.Processed.Sm} {
		if ref.Key != "" {
			return ref, true
		}
	}
	return AvatarObjectRef{}, false
}

// DecodeAvatarProcessed parses and validates a message payload.
func DecodeAvatarProcessed(data []byte) (*AvatarProcessedEvent, error) {
	var event AvatarProcessedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if event.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidEvent)
	}
	if _, ok := event.DisplayObject(); !ok {
		return nil, fmt.Errorf("%w: no processed objects", ErrInvalidEvent)
	}
	return &event, nil
}

// AvatarProcessedHandler handles incoming avatar-processed events.
type AvatarProcessedHandler interface {
	HandleAvatarProcessed(ctx context.Context, event *AvatarProcessedEvent) error
}

// AvatarProcessedConsumer defines the interface for consuming avatar-processed events.
type AvatarProcessedConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
