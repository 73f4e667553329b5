package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"

	"chatrelay/internal/relay"

	"github.com/gin-gonic/gin"
)

const (
	HeaderConnectionID     = "X-Connection-Id"
	HeaderCallbackEndpoint = "X-Callback-Endpoint"
)

var errMissingConnectionID = errors.New("missing " + HeaderConnectionID + " header")

// RelayService is what the gateway handlers need from the relay
type RelayService interface {
	OnConnect(ctx context.Context, id string) error
	OnDisconnect(ctx context.Context, id string) error
	OnMessage(ctx context.Context, id string, payload []byte) (relay.Report, error)
	MaxMessageSize() int
}

// Handler serves the connect / disconnect / message callbacks of an external
// connection gateway. It keeps no per-connection state of its own.
type Handler struct {
	service RelayService
}

func NewHandler(service RelayService) *Handler {
	return &Handler{
		service: service,
	}
}

// RegisterRoutes mounts the handlers under /gateway
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	g := r.Group("/gateway")
	g.POST("/connect", h.Connect)
	g.POST("/disconnect", h.Disconnect)
	g.POST("/message", h.Message)
}

func (h *Handler) Connect(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	if err := h.service.OnConnect(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to connect."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Connected."})
}

func (h *Handler) Disconnect(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	if err := h.service.OnDisconnect(context.WithoutCancel(c.Request.Context()), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to disconnect."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Disconnected."})
}

func (h *Handler) Message(c *gin.Context) {
	id, ok := connectionID(c)
	if !ok {
		return
	}
	// one byte past the limit is enough for the service to reject it
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, int64(h.service.MaxMessageSize())+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read body."})
		return
	}

	// deliveries and evictions run to completion even if the gateway hangs up
	ctx := context.WithoutCancel(c.Request.Context())
	if endpoint := c.GetHeader(HeaderCallbackEndpoint); endpoint != "" {
		ctx = WithEndpoint(ctx, endpoint)
	}

	report, err := h.service.OnMessage(ctx, id, payload)
	switch {
	case err == nil:
	case relay.IsClientInputError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve connections."})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Message sent.",
		"delivered": report.Delivered,
		"gone":      report.Gone,
		"transient": report.Transient,
	})
}

func connectionID(c *gin.Context) (string, bool) {
	id := c.GetHeader(HeaderConnectionID)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": errMissingConnectionID.Error()})
		return "", false
	}
	return id, true
}
