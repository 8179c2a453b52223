// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package feed

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Thermoquad/tpmscope/pkg/tpms"
	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned by Next after the connection has failed
var ErrConnectionClosed = errors.New("websocket connection closed")

// DialOptions configure a feed client
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	Format        Format
}

// Client reads readings from a remote feed
type Client struct {
	conn   *websocket.Conn
	closed bool
}

// Dial connects to a feed URL (ws:// or wss://, path /feed) with HTTP Basic
// auth when a username is given
func Dial(ctx context.Context, feedURL string, opts DialOptions) (*Client, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/feed"
	}
	if opts.Format == FormatJSON {
		q := u.Query()
		q.Set("format", "json")
		u.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks until the next reading arrives. Binary frames are CBOR and
// text frames are JSON.
func (c *Client) Next() (tpms.Reading, error) {
	if c.closed {
		return tpms.Reading{}, ErrConnectionClosed
	}
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closed = true
			return tpms.Reading{}, err
		}
		switch msgType {
		case websocket.BinaryMessage:
			return DecodeCBOR(data)
		case websocket.TextMessage:
			var r tpms.Reading
			if err := json.Unmarshal(data, &r); err != nil {
				return tpms.Reading{}, fmt.Errorf("failed to decode JSON frame: %w", err)
			}
			return r, nil
		}
	}
}

// Close sends a close frame and closes the connection
func (c *Client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
