package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Request is an incoming JSON-RPC request or notification. ID is empty for
// notifications.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the message expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is an outgoing JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// notification is an outgoing server notification.
type notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Replier sends the response to one request. Calls after the first are
// ignored. A nil err with a nil result replies with a null result.
type Replier func(result any, err error) error

// Handler processes one incoming message. It must call reply exactly once
// for requests, either before returning or later from another goroutine.
type Handler func(ctx context.Context, reply Replier, req *Request) error

// Conn is a server-side JSON-RPC 2.0 connection using the LSP base protocol
// with Content-Length headers.
type Conn struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]context.CancelFunc

	closed atomic.Bool
}

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithConnLogger sets the logger for protocol errors.
func WithConnLogger(l *slog.Logger) ConnOption {
	return func(c *Conn) {
		c.logger = l
	}
}

// NewConn creates a connection reading from r and writing to w. c, when not
// nil, is closed by Close.
func NewConn(r io.Reader, w io.Writer, c io.Closer, opts ...ConnOption) *Conn {
	conn := &Conn{
		reader:  bufio.NewReaderSize(r, 64*1024),
		writer:  w,
		closer:  c,
		logger:  slog.New(slog.DiscardHandler),
		pending: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(conn)
	}
	return conn
}

// Run reads messages and dispatches them to h until the input ends, ctx is
// cancelled or the connection is closed. Handlers run on the read loop, so
// a handler that blocks must reply from its own goroutine. Run returns nil
// at end of input.
func (c *Conn) Run(ctx context.Context, h Handler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := c.readMessage()
		if err != nil {
			if c.closed.Load() || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			if errors.Is(err, ErrMissingContentLength) {
				c.logger.Warn("dropping malformed message", "error", err)
				continue
			}
			return fmt.Errorf("read message: %w", err)
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			c.logger.Warn("unparseable message", "error", err)
			_ = c.send(&Response{JSONRPC: "2.0", ID: json.RawMessage("null"), Error: NewRPCError(CodeParseError, "%v", err)})
			continue
		}
		c.dispatch(ctx, h, &req)
	}
}

func (c *Conn) dispatch(ctx context.Context, h Handler, req *Request) {
	if req.Method == "$/cancelRequest" {
		c.cancelRequest(req.Params)
		return
	}

	if req.IsNotification() {
		noReply := func(any, error) error { return nil }
		if err := h(ctx, noReply, req); err != nil {
			c.logger.Warn("notification failed", "method", req.Method, "error", err)
		}
		return
	}

	reqCtx, cancel := context.WithCancel(ctx)
	key := string(req.ID)
	c.mu.Lock()
	c.pending[key] = cancel
	c.mu.Unlock()

	var once sync.Once
	reply := func(result any, err error) error {
		var sendErr error
		once.Do(func() {
			c.mu.Lock()
			delete(c.pending, key)
			c.mu.Unlock()
			cancel()
			sendErr = c.reply(req.ID, result, err)
		})
		return sendErr
	}

	if err := h(reqCtx, reply, req); err != nil {
		c.logger.Warn("request failed", "method", req.Method, "error", err)
		_ = reply(nil, err)
	}
}

func (c *Conn) cancelRequest(params json.RawMessage) {
	var p struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	c.mu.Lock()
	cancel, ok := c.pending[string(p.ID)]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *Conn) reply(id json.RawMessage, result any, err error) error {
	resp := &Response{JSONRPC: "2.0", ID: id}
	if err != nil {
		var rpcErr *RPCError
		switch {
		case errors.As(err, &rpcErr):
			resp.Error = rpcErr
		case errors.Is(err, context.Canceled):
			resp.Error = NewRPCError(CodeRequestCancelled, "request cancelled")
		default:
			resp.Error = NewRPCError(CodeInternalError, "%v", err)
		}
		return c.send(resp)
	}

	data, merr := json.Marshal(result)
	if merr != nil {
		resp.Error = NewRPCError(CodeInternalError, "marshal result: %v", merr)
		return c.send(resp)
	}
	resp.Result = data
	return c.send(resp)
}

// Notify sends a server notification.
func (c *Conn) Notify(method string, params any) error {
	return c.send(&notification{JSONRPC: "2.0", Method: method, Params: params})
}

// Close closes the underlying connection and cancels pending requests.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.mu.Lock()
	for id, cancel := range c.pending {
		cancel()
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// send writes a message with LSP content-length header.
func (c *Conn) send(msg any) error {
	if c.closed.Load() {
		return ErrConnClosed
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := io.WriteString(c.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := c.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

// readMessage reads a single LSP message.
func (c *Conn) readMessage() ([]byte, error) {
	var contentLength int
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
				contentLength = n
			}
		}
		// Content-Type and other headers are ignored.
	}

	if contentLength <= 0 {
		return nil, ErrMissingContentLength
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(c.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
