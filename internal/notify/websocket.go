package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

const wsReconnectDelay = 5 * time.Second

// WebsocketNotifier receives blob events pushed by the storage layer
// over a websocket, reconnecting with a fixed delay when the
// connection drops.
type WebsocketNotifier struct {
	url    string
	events chan BlobEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebsocketNotifier starts reading events from url.
func NewWebsocketNotifier(url string) *WebsocketNotifier {
	ctx, cancel := context.WithCancel(context.Background())

	n := &WebsocketNotifier{
		url:    url,
		events: make(chan BlobEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go n.run(ctx)
	return n
}

// Events returns the event channel.
func (n *WebsocketNotifier) Events() <-chan BlobEvent {
	return n.events
}

// Close stops the reader and closes the event channel.
func (n *WebsocketNotifier) Close() error {
	n.cancel()
	<-n.done
	return nil
}

func (n *WebsocketNotifier) run(ctx context.Context) {
	defer close(n.done)
	defer close(n.events)

	for {
		if err := n.readLoop(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("url", n.url).Msg("Blob notification connection lost")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (n *WebsocketNotifier) readLoop(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, n.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "closing")

	log.Debug().Str("url", n.url).Msg("Blob notification channel connected")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var evt BlobEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			log.Warn().Err(err).Msg("Malformed blob notification, skipping")
			continue
		}
		if evt.Container == "" || evt.Name == "" {
			continue
		}

		select {
		case n.events <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
