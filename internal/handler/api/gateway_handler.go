package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/activemerchant/active-merchant-sub021/internal/gateway"
	"github.com/activemerchant/active-merchant-sub021/internal/payment"
	"github.com/activemerchant/active-merchant-sub021/internal/pkg/httpclient"
)

// Registry resolves configured gateways by name.
type Registry interface {
	Get(name string) (payment.Gateway, bool)
	Names() []string
}

// GatewayHandler exposes the uniform gateway API over HTTP.
type GatewayHandler struct {
	gateways    Registry
	logger      *zap.Logger
	transcripts bool
}

// NewGatewayHandler creates the handler. With transcripts enabled every
// call's wire transcript is scrubbed and logged at debug level.
func NewGatewayHandler(gateways Registry, logger *zap.Logger, transcripts bool) *GatewayHandler {
	return &GatewayHandler{gateways: gateways, logger: logger, transcripts: transcripts}
}

type gatewayInfo struct {
	Name         string               `json:"name"`
	Type         string               `json:"type"`
	Capabilities payment.Capabilities `json:"capabilities"`
}

// List returns every configured gateway with its capabilities.
// GET /api/gateways
func (h *GatewayHandler) List(c echo.Context) error {
	names := h.gateways.Names()
	items := make([]gatewayInfo, 0, len(names))
	for _, name := range names {
		gw, _ := h.gateways.Get(name)
		items = append(items, gatewayInfo{Name: name, Type: gw.Name(), Capabilities: gw.Capabilities()})
	}
	return successResponse(c, "Successful", items)
}

// Process runs one operation.
// POST /api/gateways/:gateway/:operation
func (h *GatewayHandler) Process(c echo.Context) error {
	gw, ok := h.gateways.Get(c.Param("gateway"))
	if !ok {
		return errorResponse(c, http.StatusNotFound, "Unknown gateway: "+c.Param("gateway"))
	}
	op, err := payment.ParseOperation(c.Param("operation"))
	if err != nil {
		return errorResponse(c, http.StatusNotFound, err.Error())
	}

	var req gateway.Request
	if err := c.Bind(&req); err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	if key := c.Request().Header.Get("Idempotency-Key"); key != "" && req.Options.IdempotencyKey == "" {
		req.Options.IdempotencyKey = key
	}

	ctx := c.Request().Context()
	var tr *httpclient.Transcript
	if h.transcripts {
		tr = httpclient.NewTranscript()
		ctx = httpclient.WithTranscript(ctx, tr)
	}

	r, err := gateway.Call(ctx, gw, op, req)
	if tr != nil {
		h.logger.Debug("gateway transcript",
			zap.String("gateway", c.Param("gateway")),
			zap.String("operation", string(op)),
			zap.String("transcript", gw.Scrub(tr.String())),
		)
	}

	var badRequest *gateway.BadRequestError
	switch {
	case errors.As(err, &badRequest):
		return errorResponse(c, http.StatusBadRequest, badRequest.Error())
	case errors.Is(err, payment.ErrNotSupported):
		return errorResponse(c, http.StatusNotImplemented, err.Error())
	case payment.IsTransport(err):
		return errorResponse(c, http.StatusBadGateway, err.Error())
	case err != nil:
		h.logger.Error("gateway call failed", zap.String("gateway", c.Param("gateway")), zap.Error(err))
		return errorResponse(c, http.StatusInternalServerError, "Internal error")
	}
	return resultResponse(c, r.Message(), r.Success(), r)
}

// Scrub filters a raw transcript with the gateway's rules.
// POST /api/gateways/:gateway/scrub
func (h *GatewayHandler) Scrub(c echo.Context) error {
	gw, ok := h.gateways.Get(c.Param("gateway"))
	if !ok {
		return errorResponse(c, http.StatusNotFound, "Unknown gateway: "+c.Param("gateway"))
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return errorResponse(c, http.StatusBadRequest, "Invalid request body")
	}
	return c.String(http.StatusOK, gw.Scrub(string(raw)))
}
