package notify

import (
	"context"
	"log/slog"
)

// Device is the phone's alerting surface.
type Device interface {
	Vibrate(ctx context.Context) error
	// PresentSilent shows an empty system notification so the platform
	// plays its sound, and returns a handle to retract it.
	PresentSilent(ctx context.Context) (handle string, err error)
	Retract(ctx context.Context, handle string) error
}

// LogDevice only logs.
type LogDevice struct {
	Logger *slog.Logger
}

func (d LogDevice) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d LogDevice) Vibrate(context.Context) error {
	d.logger().Debug("device vibrate")
	return nil
}

func (d LogDevice) PresentSilent(context.Context) (string, error) {
	d.logger().Debug("device silent notification")
	return "silent", nil
}

func (d LogDevice) Retract(_ context.Context, handle string) error {
	d.logger().Debug("device retract", "handle", handle)
	return nil
}
