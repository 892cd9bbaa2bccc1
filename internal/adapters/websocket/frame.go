// Package websocket exposes a remote store over WebSocket and provides a
// client store that talks to it.
//
// Every message is one JSON Frame. A client opens one connection per
// subscription plus a shared connection for write and delete requests.
// Requests carry a ULID in ID; the server answers with an ack or error frame
// carrying the same ID.
package websocket

import (
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bft-labs/listycity/internal/domain"
)

// Frame types.
const (
	FrameSubscribe = "subscribe"
	FrameSnapshot  = "snapshot"
	FrameWrite     = "write"
	FrameDelete    = "delete"
	FrameAck       = "ack"
	FrameError     = "error"
)

// CollectionPath is the route prefix collections are served under.
const CollectionPath = "/v1/collections/"

const (
	writeTimeout = 10 * time.Second
	readLimit    = 16 << 20
)

// Frame is the single wire message.
type Frame struct {
	Type       string            `json:"type"`
	ID         string            `json:"id,omitempty"`
	Collection string            `json:"collection,omitempty"`
	Key        string            `json:"key,omitempty"`
	Record     *domain.Record    `json:"record,omitempty"`
	Docs       []domain.Document `json:"docs,omitempty"`
	Error      string            `json:"error,omitempty"`

	// Lost marks an error frame that ended the subscription.
	Lost bool `json:"lost,omitempty"`
}

func newID() string {
	return ulid.Make().String()
}

// Endpoint returns the WebSocket URL of collection on the server at base.
// http and https schemes are mapped to ws and wss.
func Endpoint(base, collection string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	// Path holds the decoded form and RawPath the escaped one, so a space or
	// slash in collection is escaped exactly once.
	prefix := strings.TrimSuffix(u.Path, "/")
	rawPrefix := strings.TrimSuffix(u.EscapedPath(), "/")
	u.Path = prefix + CollectionPath + collection
	u.RawPath = rawPrefix + CollectionPath + url.PathEscape(collection)
	return u.String(), nil
}
