package events

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/logging"
)

// sseKeepAlive is how often an idle stream gets a comment line, so proxies
// do not time it out.
const sseKeepAlive = 30 * time.Second

// ServeSSE streams tenant's events as Server-Sent Events until the client
// goes away.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, tenant string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(tenant, TransportSSE)
	defer b.Unsubscribe(tenant, ch)

	log := logging.WithContext(r.Context())
	log.Debug("sse subscriber connected", zap.String("tenant", tenant))

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("sse subscriber disconnected", zap.String("tenant", tenant))
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			data, err := MarshalEvent(event)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
