// Package device declares the capability collaborators the note flows consume.
// The implementations are platform plumbing supplied by the embedding
// application; this core only depends on the contracts.
package device

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrPermissionDenied indicates the user refused a capability prompt.
var ErrPermissionDenied = errors.New("device: permission denied")

// Accuracy requests a geolocation fix quality.
type Accuracy int

const (
	AccuracyLow Accuracy = iota
	AccuracyMedium
	AccuracyHigh
)

// Coordinates is one geolocation fix.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Geolocation samples the device position. A timed-out or unavailable fix
// returns (nil, nil): "no location available" is a normal outcome, not an
// error, and there is no retry here.
type Geolocation interface {
	Current(ctx context.Context, accuracy Accuracy, timeout time.Duration) (*Coordinates, error)
}

// Photo is a captured or picked image handle. The caller owns closing it.
type Photo struct {
	Name   string
	Reader io.ReadCloser
}

// MediaPicker captures a new photo or picks one from the gallery. A nil photo
// with nil error means the user cancelled.
type MediaPicker interface {
	CapturePhoto(ctx context.Context) (*Photo, error)
	PickPhoto(ctx context.Context) (*Photo, error)
}

// Capability names a permission-gated device feature.
type Capability string

const (
	CapabilityLocation      Capability = "location"
	CapabilityCamera        Capability = "camera"
	CapabilityMediaLibrary  Capability = "media-library"
	CapabilityNotifications Capability = "notifications"
)

// Permissions checks and prompts for capability access.
type Permissions interface {
	Check(ctx context.Context, capability Capability) (bool, error)
	Request(ctx context.Context, capability Capability) (bool, error)
}
