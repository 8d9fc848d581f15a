package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/CallRelay/internal/app/orch"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	// CallRateLimit bounds initiate-call messages per user per CallRateWindow.
	CallRateLimit  int
	CallRateWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.CallRateLimit <= 0 {
		o.CallRateLimit = 10
	}
	if o.CallRateWindow <= 0 {
		o.CallRateWindow = time.Minute
	}
	return o
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Metrics *metrics.Metrics

	opts     Options
	limiter  *CallRateLimiter
	validate *validator.Validate
	upgrader websocket.Upgrader
	// pumps counts running read and write pumps.
	pumps sync.WaitGroup
}

func NewSignalWSController(o *orch.Orchestrator, m *metrics.Metrics, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Orch:     o,
		Metrics:  m,
		opts:     opts,
		limiter:  NewCallRateLimiter(opts.CallRateLimit, opts.CallRateWindow),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WsSignalConn is one client transport. It implements core.SignalConnection.
type WsSignalConn struct {
	id   core.ConnID
	conn *websocket.Conn
	send chan core.Frame
	// identity is the verified user for this connection, empty when
	// authentication is disabled.
	identity domain.UserID

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) ID() core.ConnID { return c.id }

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// HandleSignal upgrades the request and runs the connection until either
// side closes. identity is the caller verified by the HTTP layer.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, identity domain.UserID) {
	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		id:       core.ConnID(uuid.NewString()),
		conn:     ws,
		send:     make(chan core.Frame, ctl.opts.SendBuffer),
		identity: identity,
	}
	log.Info().Str("module", "signal").Str("conn", string(conn.id)).Str("identity", string(identity)).Msg("new WS connection")
	ctl.Metrics.ConnOpened()

	ctx, cancel := context.WithCancel(ctx)
	ctl.pumps.Add(2)
	go func() {
		defer ctl.pumps.Done()
		ctl.writePump(ctx, conn)
	}()
	go func() {
		defer ctl.pumps.Done()
		ctl.readPump(ctx, cancel, conn)
	}()
}

// Wait blocks until every connection has been torn down, or ctx is done.
// Connections close once the context given to HandleSignal is canceled.
func (ctl *SignalWSController) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		ctl.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Housekeep drops rate limiter state for users idle past the window.
func (ctl *SignalWSController) Housekeep(time.Time) {
	ctl.limiter.Forget()
}
