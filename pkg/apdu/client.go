package apdu

import (
	"context"
	"fmt"
)

// CLIENT & PROTOCOL LOGIC:
//
// Client is a high-level driver over a raw byte Transmitter. It implements
// ISO/IEC 7816-3 T=0 transport behaviors that would otherwise leak to the
// application layer:
//
//  1. "61 XX" (Response Available): the client automatically issues
//     GET RESPONSE to retrieve the XX waiting bytes.
//  2. "6C XX" (Wrong Length): the client automatically re-sends the
//     original command with Le = XX.
//
// Send returns a Trace: the log of every atomic transaction performed to
// fulfill the logical request. CardSession.Transmit (pkg/session) layers
// on top of Client.Send and hands the caller only the final Response,
// keeping the 61XX/6CXX chaining internal per spec.md's "session does not
// interpret sw" rule.

// Transmitter abstracts the physical card connection: one encoded command
// in, one raw response out.
type Transmitter interface {
	Transmit(ctx context.Context, cmd []byte) ([]byte, error)
}

// TransmitterFunc adapts a plain function to a Transmitter.
type TransmitterFunc func(ctx context.Context, cmd []byte) ([]byte, error)

// Transmit implements Transmitter.
func (f TransmitterFunc) Transmit(ctx context.Context, cmd []byte) ([]byte, error) {
	return f(ctx, cmd)
}

// Client manages high-level communication with the card.
type Client struct {
	Card Transmitter
}

// NewClient creates a Client over the given Transmitter.
func NewClient(card Transmitter) *Client {
	return &Client{Card: card}
}

// Send transmits cmd and transparently handles the 61XX/6CXX protocol
// conventions, returning the full Trace of transactions performed.
func (c *Client) Send(ctx context.Context, cmd *Command) (Trace, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	rawResp, err := c.Card.Transmit(ctx, rawCmd)
	if err != nil {
		return nil, fmt.Errorf("transmission error: %w", err)
	}

	resp, err := ParseResponse(rawResp)
	if err != nil {
		return nil, err
	}

	currentTx := Transaction{Command: cmd, Response: resp}
	trace := Trace{currentTx}

	sw1 := resp.Status.SW1()
	sw2 := resp.Status.SW2()

	if sw1 == 0x61 {
		respCls := cmd.Class
		respCls.IsChained = false

		ins, _ := NewInstruction(InsGetResponse)
		getRespCmd := NewCommand(respCls, ins, 0x00, 0x00, nil, int(sw2))

		subTrace, err := c.Send(ctx, getRespCmd)
		if err != nil {
			return trace, err
		}
		return append(trace, subTrace...), nil
	}

	if sw1 == 0x6C {
		newCmd := *cmd
		newCmd.Le = int(sw2)

		subTrace, err := c.Send(ctx, &newCmd)
		if err != nil {
			return trace, err
		}
		return append(trace, subTrace...), nil
	}

	return trace, nil
}
