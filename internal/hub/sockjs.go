package hub

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"go.uber.org/zap"
)

// SockJSHandler serves display boards under prefix. Boards are public and
// only receive data; they choose a branch, desk or service by sending a
// subscribe message.
func SockJSHandler(h *Hub, prefix string) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				if err := session.Send(string(msg)); err != nil {
					return
				}
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := ParseSubscribe([]byte(msg))
			if !ok {
				h.logger.Debug("ignored realtime message", zap.String("client_id", client.ID))
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, Subscription{})
				continue
			}
			h.UpdateSubscription(client, Subscription{
				BranchID:  parsed.BranchID,
				DeskID:    parsed.DeskID,
				ServiceID: parsed.ServiceID,
			})
		}
	})
}
