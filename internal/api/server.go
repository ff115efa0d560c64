// Package api exposes the order entry and inspection HTTP surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"execpipe/internal/intake"
	"execpipe/internal/obs"
	"execpipe/internal/og"
	"execpipe/internal/pipeline"
)

// Server binds the HTTP handlers to the pipeline.
type Server struct {
	intake    *intake.Intake
	pipeline  *pipeline.Pipeline
	lifecycle *og.Lifecycle
	metrics   *obs.Metrics
	engine    *gin.Engine
}

// New builds the HTTP server and its routes.
func New(in *intake.Intake, p *pipeline.Pipeline, lifecycle *og.Lifecycle, metrics *obs.Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		intake:    in,
		pipeline:  p,
		lifecycle: lifecycle,
		metrics:   metrics,
		engine:    gin.New(),
	}
	s.engine.Use(gin.Recovery())

	v1 := s.engine.Group("/v1")
	v1.POST("/orders", s.submitOrder)
	v1.GET("/orders/:id", s.getOrder)
	v1.POST("/orders/:id/cancel", s.cancelOrder)

	s.engine.GET("/healthz", s.health)
	if metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the http handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context ends, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type submitResponse struct {
	ID     uint64 `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type orderResponse struct {
	ID         uint64          `json:"id"`
	Instrument uint32          `json:"instrument_id"`
	Client     uint32          `json:"client_id"`
	Side       string          `json:"side"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	VenueID    uint16          `json:"venue_id,omitempty"`
	Price      int64           `json:"price"`
	Qty        int64           `json:"qty"`
	History    []string        `json:"history"`
	Trades     []tradeResponse `json:"trades,omitempty"`
}

type tradeResponse struct {
	ID        string `json:"id"`
	VenueID   uint16 `json:"venue_id"`
	Result    string `json:"result"`
	Reason    string `json:"reason,omitempty"`
	ExecPrice int64  `json:"exec_price"`
	ExecQty   int64  `json:"exec_qty"`
}

func (s *Server) submitOrder(c *gin.Context) {
	var req intake.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	order, err := s.intake.Submit(req)
	if err != nil {
		var ve intake.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":  "validation failed",
				"field":  ve.Field,
				"reason": ve.Reason,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	switch err := s.pipeline.Submit(order); {
	case err == nil:
		c.JSON(http.StatusAccepted, submitResponse{ID: order.ID, Status: order.Status.String()})
	case errors.Is(err, pipeline.ErrPipelineBusy):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "pipeline busy"})
	case errors.Is(err, pipeline.ErrPipelineClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "shutting down"})
	case errors.Is(err, og.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, errorResponse{Error: "duplicate order"})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) getOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	order, ok := s.lifecycle.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "order not found"})
		return
	}

	history := s.lifecycle.History(id)
	resp := orderResponse{
		ID:         order.ID,
		Instrument: uint32(order.InstrumentID),
		Client:     uint32(order.ClientID),
		Side:       order.Side.String(),
		Type:       order.Type.String(),
		Status:     order.Status.String(),
		Reason:     order.Reason,
		VenueID:    uint16(order.VenueID),
		Price:      int64(order.Price),
		Qty:        int64(order.Qty),
		History:    make([]string, 0, len(history)),
	}
	for _, status := range history {
		resp.History = append(resp.History, status.String())
	}
	for _, trade := range s.lifecycle.Trades(id) {
		resp.Trades = append(resp.Trades, tradeResponse{
			ID:        trade.ID,
			VenueID:   uint16(trade.VenueID),
			Result:    trade.Result.String(),
			Reason:    trade.Reason,
			ExecPrice: int64(trade.ExecPrice),
			ExecQty:   int64(trade.ExecQty),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid order id"})
		return
	}
	switch err := s.pipeline.Cancel(id); {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"id": id, "cancel": "requested"})
	case errors.Is(err, og.ErrUnknownOrder):
		c.JSON(http.StatusNotFound, errorResponse{Error: "order not found"})
	case errors.Is(err, pipeline.ErrOrderTerminal):
		c.JSON(http.StatusConflict, errorResponse{Error: "order already terminal"})
	default:
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
