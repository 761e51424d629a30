package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/webkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webkernel/internal/kernel"
	"github.com/GriffinCanCode/webkernel/internal/process"
	"github.com/GriffinCanCode/webkernel/internal/syserr"
)

const (
	writeWait   = 10 * time.Second
	outboxSize  = 64
	spawnWait   = 10 * time.Second
	readLimit   = 1 << 20
	pingPeriod  = 30 * time.Second
	welcomeText = "Connected to webkernel"
)

// Message types.
const (
	TypeSystem  = "system"
	TypeConsole = "console"
	TypeEvent   = "event"
	TypeSpawned = "spawned"
	TypePong    = "pong"
	TypeError   = "error"

	TypeInput  = "input"
	TypeEOF    = "eof"
	TypeResize = "resize"
	TypeSpawn  = "spawn"
	TypePing   = "ping"
)

// Message is one frame in either direction. Fields not used by a type are
// left empty.
type Message struct {
	Type      string                   `json:"type"`
	Data      string                   `json:"data,omitempty"`
	Message   string                   `json:"message,omitempty"`
	Cols      int                      `json:"cols,omitempty"`
	Rows      int                      `json:"rows,omitempty"`
	Spawn     *process.SpawnDescriptor `json:"spawn,omitempty"`
	Pid       int                      `json:"pid,omitempty"`
	Event     *kernel.Event            `json:"event,omitempty"`
	Error     *syserr.Envelope         `json:"error,omitempty"`
	Timestamp int64                    `json:"timestamp"`
}

var inbound = map[string]bool{TypeInput: true, TypeEOF: true, TypeResize: true, TypeSpawn: true, TypePing: true}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler attaches browser terminals to a kernel: console output and
// kernel events stream out, keystrokes and control messages come in.
type Handler struct {
	kernel  *kernel.Kernel
	feed    *Feed
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a handler. feed must be the writer the kernel's
// console tees into for output to reach clients.
func NewHandler(k *kernel.Kernel, feed *Feed, logger *logging.Logger) *Handler {
	return &Handler{
		kernel:  k,
		feed:    feed,
		logger:  logging.OrNop(logger).Named("ws"),
		metrics: k.Metrics(),
	}
}

// HandleConnection upgrades the request and serves the connection until
// either side closes it.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	outbox := make(chan Message, outboxSize)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, conn, outbox)
	}()

	output, stopOutput := h.feed.subscribe()
	defer stopOutput()
	events, stopEvents := h.kernel.Events().Subscribe()
	defer stopEvents()
	go h.forward(ctx, output, events, outbox)

	send(ctx, outbox, Message{Type: TypeSystem, Message: welcomeText})

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			break
		}
		label := msg.Type
		if !inbound[label] {
			label = "unknown"
		}
		h.metrics.RecordWSMessage("in", label)
		if reply, ok := h.handle(ctx, msg); ok {
			send(ctx, outbox, reply)
		}
	}

	cancel()
	<-writerDone
}

func (h *Handler) handle(ctx context.Context, msg Message) (Message, bool) {
	switch msg.Type {
	case TypePing:
		return Message{Type: TypePong}, true
	case TypeInput:
		if err := h.kernel.Input([]byte(msg.Data)); err != nil {
			return errorMessage(err), true
		}
	case TypeEOF:
		h.kernel.Console().EndInput()
	case TypeResize:
		if msg.Cols <= 0 || msg.Rows <= 0 {
			return errorMessage(syserr.Errorf(syserr.InvalidArgument, "resize", "bad size %dx%d", msg.Cols, msg.Rows)), true
		}
		h.kernel.Console().Resize(msg.Cols, msg.Rows)
	case TypeSpawn:
		if msg.Spawn == nil || len(msg.Spawn.Cmd) == 0 {
			return errorMessage(syserr.Errorf(syserr.InvalidArgument, "spawn", "empty command")), true
		}
		spawnCtx, cancel := context.WithTimeout(ctx, spawnWait)
		defer cancel()
		res, err := h.kernel.Spawn(spawnCtx, *msg.Spawn)
		if err != nil {
			return errorMessage(err), true
		}
		return Message{Type: TypeSpawned, Pid: res.Pid}, true
	default:
		return errorMessage(syserr.Errorf(syserr.NotSupported, "ws", "unknown message type %q", msg.Type)), true
	}
	return Message{}, false
}

func (h *Handler) forward(ctx context.Context, output <-chan []byte, events <-chan kernel.Event, outbox chan<- Message) {
	for {
		select {
		case chunk := <-output:
			send(ctx, outbox, Message{Type: TypeConsole, Data: string(chunk)})
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			send(ctx, outbox, Message{Type: TypeEvent, Event: &ev})
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the only writer on conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, outbox <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-outbox:
			msg.Timestamp = time.Now().Unix()
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
			h.metrics.RecordWSMessage("out", msg.Type)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

func send(ctx context.Context, outbox chan<- Message, msg Message) {
	select {
	case outbox <- msg:
	case <-ctx.Done():
	}
}

func errorMessage(err error) Message {
	env := syserr.ToEnvelope(err)
	return Message{Type: TypeError, Message: env.Message, Error: env}
}
