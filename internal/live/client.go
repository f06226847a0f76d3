package live

import (
	"context"
	"log/slog"

	"meridian/pkg/meridian"
)

// Client connects to a trader's status gRPC stream and populates a local
// StatusModel, providing an automatic mirror of the remote model.
type Client struct {
	addr  string
	model *StatusModel
	log   *slog.Logger
}

// NewClient creates a client targeting the given gRPC address.
func NewClient(addr string, model *StatusModel, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{addr: addr, model: model, log: log}
}

// Sync connects to the gRPC server and streams status events into the local
// model. It blocks until ctx is cancelled or the stream ends.
func (c *Client) Sync(ctx context.Context) error {
	conn, err := meridian.DialGRPC(c.addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	c.log.Info("connected to status stream", "addr", c.addr)
	err = meridian.NewGRPCClient(conn).WatchStatus(ctx, func(ev meridian.StatusEvent) error {
		c.model.Apply(ev)
		return nil
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}
