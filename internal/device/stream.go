package device

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/droidpilot/droidpilot/internal/syncx"
	"github.com/droidpilot/droidpilot/internal/trace"
)

// Outbound command messages. The agent protocol is JSON text for commands,
// binary for frame pushes.
type tapMessage struct {
	Type string `json:"type"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

type swipeMessage struct {
	Type       string `json:"type"`
	FromX      int    `json:"from_x"`
	FromY      int    `json:"from_y"`
	ToX        int    `json:"to_x"`
	ToY        int    `json:"to_y"`
	DurationMS int    `json:"duration_ms"`
}

type keyMessage struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// capture is one decoded frame push with its arrival time.
type capture struct {
	img image.Image
	at  time.Time
}

// Stream is a RawConn over a device agent's websocket. The agent pushes
// frames continuously as binary messages; a reader goroutine decodes them
// and keeps only the latest. Commands go out as JSON.
type Stream struct {
	addr   string
	conn   *websocket.Conn
	latest *syncx.RWGuard[capture]
	cancel context.CancelFunc
}

// Dial connects to a device agent and starts the frame reader.
func Dial(ctx context.Context, addr string) (*Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial device agent %s: %w", addr, err)
	}
	// Frame pushes are full screenshots.
	conn.SetReadLimit(maxFrameBytes)

	readCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	s := &Stream{
		addr:   addr,
		conn:   conn,
		latest: syncx.NewGuard(capture{}),
		cancel: stop,
	}
	go s.readFrames(readCtx)
	return s, nil
}

// readFrames drains the connection, decoding binary pushes into the latest
// frame slot. Text messages are agent acks and are ignored.
func (s *Stream) readFrames(ctx context.Context) {
	log := trace.Logger(ctx)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("device stream closed", "addr", s.addr, "error", err)
			}
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			log.Debug("undecodable frame push", "addr", s.addr, "error", err)
			continue
		}
		s.latest.Set(capture{img: img, at: time.Now()})
	}
}

func (s *Stream) Tap(ctx context.Context, x, y int) error {
	return wsjson.Write(ctx, s.conn, tapMessage{Type: "tap", X: x, Y: y})
}

func (s *Stream) Swipe(ctx context.Context, from, to image.Point, dur time.Duration) error {
	return wsjson.Write(ctx, s.conn, swipeMessage{
		Type:       "swipe",
		FromX:      from.X,
		FromY:      from.Y,
		ToX:        to.X,
		ToY:        to.Y,
		DurationMS: int(dur.Milliseconds()),
	})
}

func (s *Stream) Back(ctx context.Context) error {
	return wsjson.Write(ctx, s.conn, keyMessage{Type: "key", Key: "back"})
}

// Screenshot returns the latest pushed frame. Nothing received yet, or a
// frame older than the staleness bound, is a transient gap: (nil, nil).
func (s *Stream) Screenshot(ctx context.Context) (image.Image, error) {
	c := s.latest.Get()
	if c.img == nil || time.Since(c.at) > staleFrameAge {
		return nil, nil
	}
	return c.img, nil
}

func (s *Stream) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
