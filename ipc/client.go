package ipc

import (
	"encoding/json"
	"net"
	"time"

	cerrors "netguardd/errors"
)

// Client is the thin dialing counterpart to Server, used by netguardctl,
// which sends one request per connection. Call may also be issued several
// times in sequence on one connection; the server answers each framed
// request in turn.
type Client struct {
	conn          *net.UnixConn
	maxFrameBytes int
}

// Dial opens one connection to a netguardd control socket.
func Dial(socketPath string, maxFrameBytes int, timeout time.Duration) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", socketPath)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.IoError, "ipc client: resolve socket addr")
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("unix", addr.String())
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.IoError, "ipc client: dial")
	}
	return &Client{conn: conn.(*net.UnixConn), maxFrameBytes: maxFrameBytes}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call marshals req, sends it framed, and decodes the framed Reply.
func (c *Client) Call(req map[string]any) (*Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.InvalidArgument, "ipc client: marshal request")
	}
	if err := writeFrame(c.conn, payload); err != nil {
		return nil, cerrors.Wrap(err, cerrors.IoError, "ipc client: write request")
	}

	out, err := readFrame(c.conn, c.maxFrameBytes)
	if err != nil {
		return nil, cerrors.Wrap(err, cerrors.IoError, "ipc client: read reply")
	}

	var r Reply
	if err := json.Unmarshal(out, &r); err != nil {
		return nil, cerrors.Wrap(err, cerrors.IoError, "ipc client: decode reply")
	}
	return &r, nil
}
