package httpapi

import (
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tyredesk/quotesync/internal/quote"
)

// handleWatchQuotes streams the canonical quotation list over a websocket:
// one message on connect, then one per change.
func (s *Server) handleWatchQuotes(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.logf("websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "closing")

	ctx := r.Context()
	updates := s.orch.Subscribe()
	defer s.orch.Unsubscribe(updates)

	send := func(quotes []quote.Quotation) error {
		return wsjson.Write(ctx, conn, map[string]any{
			"quotes": quotes,
			"sync":   s.orch.Status(),
		})
	}
	if err := send(s.orch.Snapshot()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "done")
			return
		case quotes := <-updates:
			if err := send(quotes); err != nil {
				return
			}
		}
	}
}
