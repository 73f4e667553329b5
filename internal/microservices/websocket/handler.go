package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"chatrelay/internal/relay"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// HTTP upgrade handler to WebSocket connections

// Options tune every connection accepted by a Handler
type Options struct {
	AllowedOrigins []string      // "*" allows all; empty Origin header is always allowed
	WriteTimeout   time.Duration // per-frame write deadline
	RateLimit      float64       // inbound messages per second, <= 0 disables limiting
	RateBurst      int
}

type Handler struct {
	service  *relay.Service
	local    *relay.LocalDelivery // socket table the broadcast engine delivers through
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger
}

func NewHandler(service *relay.Service, local *relay.LocalDelivery, opts Options) *Handler {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	return &Handler{
		service: service,
		local:   local,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(opts.AllowedOrigins),
		},
		opts:   opts,
		logger: slog.Default(),
	}
}

// WSHandler: upgrade the HTTP request and run the connection until it closes
func (h *Handler) WSHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		// the upgrader already answered the request on failure
		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket_upgrade_failed",
				"remote_addr", c.Request.RemoteAddr,
				"error", err.Error(),
			)
			return
		}

		// the request context ends with this handler; the connection outlives it
		ctx := context.WithoutCancel(c.Request.Context())
		client := NewClient(uuid.NewString(), conn, h.opts.WriteTimeout, h.newLimiter())

		if err := client.Send(ctx, []byte(relay.WelcomeText)); err != nil {
			h.logger.Warn("welcome_send_failed",
				"connection_id", client.ID,
				"error", err.Error(),
			)
			client.Close()
			return
		}

		// attach before registering so the first broadcast after Register can reach it
		h.local.Attach(client.ID, client)
		if err := h.service.OnConnect(ctx, client.ID); err != nil {
			h.local.Detach(client.ID)
			_ = client.Send(ctx, relay.ErrorReply(err))
			client.Close()
			return
		}

		go h.run(ctx, client)
	}
}

// run owns the connection: ping loop in the background, read loop here,
// disconnect path on exit whichever side closed first.
func (h *Handler) run(ctx context.Context, client *Client) {
	defer func() {
		h.local.Detach(client.ID)
		// failure is logged by the lifecycle handler; the next broadcast evicts the ID as Gone
		_ = h.service.OnDisconnect(ctx, client.ID)
	}()

	go client.WritePump()
	client.ReadPump(ctx, h.service)
}

func (h *Handler) newLimiter() *rate.Limiter {
	if h.opts.RateLimit <= 0 {
		return nil
	}
	burst := h.opts.RateBurst
	if burst <= 0 {
		burst = 1
	}
	// the limiter auto depletes tokens when Allow is called and refills over time
	return rate.NewLimiter(rate.Limit(h.opts.RateLimit), burst)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
