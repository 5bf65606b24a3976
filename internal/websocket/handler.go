package websocket

import (
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/keyledger/internal/auth"
)

// HandleEvents upgrades the request and streams hub events to it. Only
// origins matching originPatterns (host patterns, see
// websocket.AcceptOptions) may connect from a browser.
func HandleEvents(hub *Hub, originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			hub.logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		accountID := auth.AccountID(r.Context())
		hub.logger.Info("event subscriber connected", "account_id", accountID)

		NewClient(hub, conn, accountID).Run(r.Context())

		conn.Close(ws.StatusNormalClosure, "")
		hub.logger.Info("event subscriber disconnected", "account_id", accountID)
	}
}
