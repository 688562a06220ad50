package jsonsock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marmos91/knsock/pkg/conn"
)

// SendJSON encodes doc and sends it as one frame.
func SendJSON(c *conn.Connection, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return c.SendFrame(payload)
}

// Request sends doc and decodes exactly one response frame into out.
// out may be nil to discard the response. An error envelope is returned as
// *RemoteError.
func Request(c *conn.Connection, doc any, out any) error {
	if err := SendJSON(c, doc); err != nil {
		return err
	}

	payload, err := c.ReceiveFrame()
	if err != nil {
		return fmt.Errorf("receive response: %w", err)
	}

	if remote := asRemoteError(payload); remote != nil {
		return remote
	}
	if out == nil {
		return nil
	}
	return unmarshal(payload, out)
}

// SendJSONTo dials addr, sends doc and closes the connection.
func SendJSONTo(ctx context.Context, addr string, doc any, opts conn.Options) error {
	c, err := conn.Dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	return SendJSON(c, doc)
}

// RequestTo dials addr, performs one Request and closes the connection.
func RequestTo(ctx context.Context, addr string, doc any, out any, opts conn.Options) error {
	c, err := conn.Dial(ctx, addr, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	return Request(c, doc, out)
}
