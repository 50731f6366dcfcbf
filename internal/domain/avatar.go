package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// AvatarType tags the variant of an AvatarRecord.
type AvatarType string

const (
	// AvatarNone is the explicit "no picture" state a reset writes.
	AvatarNone AvatarType = "none"
	// AvatarGravatar delegates to gravatar.com. Users that never chose an
	// avatar are read as gravatar.
	AvatarGravatar AvatarType = "gravatar"
	// AvatarAttachment points at an uploaded image.
	AvatarAttachment AvatarType = "attachment"
)

var (
	ErrUnknownAvatarType = errors.New("unknown avatar type")
	ErrInvalidSource     = errors.New("attachment source must be an absolute http(s) URL or a root-relative path")
	ErrInvalidObject     = errors.New("attachment object key must be a relative storage key")
)

// AvatarRecord is a user's avatar configuration. Source and Object are only
// meaningful for attachments: Object names an image in object storage whose
// URL is signed at resolve time, Source is a fixed URL and is used when
// Object is empty.
type AvatarRecord struct {
	Type   AvatarType `json:"type"`
	Source string     `json:"source,omitempty"`
	Object string     `json:"object,omitempty"`
}

// NoAvatar returns the reset state.
func NoAvatar() AvatarRecord { return AvatarRecord{Type: AvatarNone} }

// Gravatar returns a gravatar record.
func Gravatar() AvatarRecord { return AvatarRecord{Type: AvatarGravatar} }

// Attachment returns an attachment record for source.
func Attachment(source string) AvatarRecord {
	return AvatarRecord{Type: AvatarAttachment, Source: source}
}

// StoredAttachment returns an attachment record for an object storage key.
func StoredAttachment(object string) AvatarRecord {
	return AvatarRecord{Type: AvatarAttachment, Object: object}
}

// ParseAvatarRecord builds a record from its stored columns. An empty type
// is a user who never chose an avatar.
func ParseAvatarRecord(typ, source, object string) (AvatarRecord, error) {
	switch AvatarType(typ) {
	case "", AvatarGravatar:
		return Gravatar(), nil
	case AvatarNone:
		return NoAvatar(), nil
	case AvatarAttachment:
		return AvatarRecord{Type: AvatarAttachment, Source: source, Object: object}, nil
	default:
		return AvatarRecord{}, fmt.Errorf("%w: %q", ErrUnknownAvatarType, typ)
	}
}

// Validate checks the record before it is persisted.
func (r AvatarRecord) Validate() error {
	switch r.Type {
	case AvatarNone, AvatarGravatar:
		return nil
	case AvatarAttachment:
		if r.Object != "" {
			if strings.HasPrefix(r.Object, "/") || strings.Contains(r.Object, "..") {
				return ErrInvalidObject
			}
			return nil
		}
		if !IsAbsoluteURL(r.Source) && !IsRootRelative(r.Source) {
			return ErrInvalidSource
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAvatarType, r.Type)
	}
}

// Normalized drops fields that do not belong to the variant.
func (r AvatarRecord) Normalized() AvatarRecord {
	if r.Type != AvatarAttachment {
		return AvatarRecord{Type: r.Type}
	}
	object := strings.TrimSpace(r.Object)
	if object != "" {
		return AvatarRecord{Type: r.Type, Object: object}
	}
	return AvatarRecord{Type: r.Type, Source: strings.TrimSpace(r.Source)}
}

// IsAbsoluteURL reports whether s is an http or https URL with a host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// IsRootRelative reports whether s is a path starting with a single slash.
// Protocol-relative "//host/path" values are not root-relative.
func IsRootRelative(s string) bool {
	if !strings.HasPrefix(s, "/") || strings.HasPrefix(s, "//") {
		return false
	}
	_, err := url.Parse(s)
	return err == nil
}
