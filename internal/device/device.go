// Package device adapts raw device-agent connections into the serialized
// command and frame surfaces the rest of the engine consumes.
package device

import (
	"context"
	"image"
	"time"

	"github.com/droidpilot/droidpilot/internal/pool"
	"github.com/droidpilot/droidpilot/internal/vision"
)

// RawConn is one device-agent transport. Implementations are blocking and
// NOT concurrency-safe; Device serializes every call through the device's
// single-worker queue.
type RawConn interface {
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, from, to image.Point, dur time.Duration) error
	Back(ctx context.Context) error
	// Screenshot returns the most recent capture. (nil, nil) is a transient
	// gap: no frame is available yet, try again later.
	Screenshot(ctx context.Context) (image.Image, error)
	Close() error
}

// Device is the engine-facing handle for one connected device. All raw
// operations funnel through the device's serial queue, so interleaved
// callers (navigation, popup dismissal, session loop) never overlap on the
// underlying transport.
type Device struct {
	id     string
	conn   RawConn
	serial *pool.Serial
	pools  *pool.Pools
}

// New wraps a raw connection. The serial queue is claimed from the shared
// substrate under the device id.
func New(id string, conn RawConn, pools *pool.Pools) *Device {
	return &Device{
		id:     id,
		conn:   conn,
		serial: pools.Serial(id),
		pools:  pools,
	}
}

// ID returns the device identifier.
func (d *Device) ID() string { return d.id }

// Tap issues a tap through the serial queue.
func (d *Device) Tap(ctx context.Context, x, y int) error {
	t := pool.Do(d.serial, func() error {
		return d.conn.Tap(ctx, x, y)
	})
	_, err := t.Wait(ctx)
	return err
}

// Swipe issues a drag through the serial queue.
func (d *Device) Swipe(ctx context.Context, from, to image.Point, dur time.Duration) error {
	t := pool.Do(d.serial, func() error {
		return d.conn.Swipe(ctx, from, to, dur)
	})
	_, err := t.Wait(ctx)
	return err
}

// Back issues the platform back gesture through the serial queue.
func (d *Device) Back(ctx context.Context) error {
	t := pool.Do(d.serial, func() error {
		return d.conn.Back(ctx)
	})
	_, err := t.Wait(ctx)
	return err
}

// Frame captures and wraps the latest screenshot. A (nil, nil) return
// mirrors the transport's transient-gap contract.
func (d *Device) Frame(ctx context.Context) (*vision.Frame, error) {
	t := pool.Run(d.serial, func() (image.Image, error) {
		return d.conn.Screenshot(ctx)
	})
	img, err := t.Wait(ctx)
	if err != nil || img == nil {
		return nil, err
	}
	return vision.NewFrame(img), nil
}

// Close releases the serial queue and closes the transport. Safe to call
// once per device; in-flight commands are abandoned.
func (d *Device) Close() error {
	d.pools.Remove(d.id)
	return d.conn.Close()
}
