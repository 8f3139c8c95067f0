package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/wire"
)

// LineWriter is the write half of the transport.
//
// This interface is satisfied by subprocess.Transport but allows for testing
// with mock writers.
type LineWriter interface {
	WriteLine(ctx context.Context, data []byte) error
}

// Client issues tool requests and waits for their replies.
//
// Each call gets a fresh ULID, registers a single-slot channel with the
// Dispatcher, writes the request and blocks until the reply, the deadline,
// context cancellation or dispatcher failure, whichever comes first.
// Concurrent calls are independent; replies may arrive in any order.
type Client struct {
	log        *slog.Logger
	writer     LineWriter
	dispatcher *Dispatcher
	inline     bool
	probeTool  string
}

// NewClient creates a client. With inline set, params are merged into the
// request object instead of nested under "params".
func NewClient(log *slog.Logger, writer LineWriter, dispatcher *Dispatcher, inline bool, probeTool string) *Client {
	return &Client{
		log:        log.With("component", "client"),
		writer:     writer,
		dispatcher: dispatcher,
		inline:     inline,
		probeTool:  probeTool,
	}
}

// Call sends a request for tool and waits up to timeout for its reply.
//
// Returns the raw result on success, *errors.ToolError when the server
// reported a failure, an error wrapping errors.ErrRequestTimeout when the
// deadline passes, and an error matching errors.ErrTransportClosed when the
// write fails or the dispatcher has failed.
func (c *Client) Call(
	ctx context.Context,
	tool string,
	params map[string]any,
	timeout time.Duration,
) (json.RawMessage, error) {
	select {
	case <-c.dispatcher.Done():
		return nil, c.dispatcher.Err()
	default:
	}

	requestID := ulid.Make().String()

	data, err := wire.Encode(wire.NewRequest(requestID, tool, params), c.inline)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	response, cancel, err := c.dispatcher.Register(requestID, tool)
	if err != nil {
		return nil, err
	}

	c.log.Debug("Sending tool request", "request_id", requestID, "tool", tool)

	// The deadline covers the write too: a server that stopped reading its
	// input must not hold the caller past timeout.
	callCtx, cancelCall := context.WithTimeout(ctx, timeout)
	defer cancelCall()

	if err := c.writer.WriteLine(callCtx, data); err != nil {
		cancel()

		c.log.Debug("Failed to send tool request", "request_id", requestID, "error", err)

		if ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
			c.log.Warn("Tool request timed out while sending", "request_id", requestID, "tool", tool, "timeout", timeout)

			return nil, fmt.Errorf("%w after %s (request not sent)", errors.ErrRequestTimeout, timeout)
		}

		return nil, fmt.Errorf("send request: %w", err)
	}

	select {
	case msg := <-response:
		return c.reply(requestID, tool, msg)

	case <-c.dispatcher.Done():
		cancel()

		// A reply may have raced the failure.
		select {
		case msg := <-response:
			return c.reply(requestID, tool, msg)
		default:
		}

		err := c.dispatcher.Err()
		c.log.Debug("Transport failed during request", "request_id", requestID, "error", err)

		return nil, err

	case <-callCtx.Done():
		cancel()

		if err := ctx.Err(); err != nil {
			c.log.Debug("Tool request cancelled", "request_id", requestID)

			return nil, err
		}

		c.log.Warn("Tool request timed out", "request_id", requestID, "tool", tool, "timeout", timeout)

		return nil, fmt.Errorf("%w after %s", errors.ErrRequestTimeout, timeout)
	}
}

func (c *Client) reply(requestID, tool string, msg *wire.Inbound) (json.RawMessage, error) {
	if msg.Kind == wire.KindError {
		c.log.Debug("Tool request returned error", "request_id", requestID, "error", msg.Error)

		return nil, &errors.ToolError{Tool: tool, RequestID: requestID, Message: msg.Error}
	}

	c.log.Debug("Received tool response", "request_id", requestID)

	return msg.Result, nil
}

// Probe performs one round trip with the reserved probe tool.
func (c *Client) Probe(ctx context.Context, timeout time.Duration) error {
	result, err := c.Call(ctx, c.probeTool, map[string]any{}, timeout)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}

	c.log.Debug("Probe succeeded", "result", string(result))

	return nil
}
