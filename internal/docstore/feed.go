package docstore

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Frame types exchanged on the gateway's document feed.
const (
	FrameWatch    = "watch"
	FrameUnwatch  = "unwatch"
	FrameSnapshot = "snapshot"
	FrameError    = "error"
)

// FeedPath is where the gateway serves the document feed.
const FeedPath = "/api/v1/feed"

type FeedRequest struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	Query *Query `json:"query,omitempty"`
}

func (r FeedRequest) Target() Target {
	return Target{Path: r.Path, Query: r.Query}
}

type FeedFrame struct {
	Type      string     `json:"type"`
	ID        string     `json:"id,omitempty"`
	Documents []Document `json:"documents,omitempty"`
	Code      string     `json:"code,omitempty"`
	Message   string     `json:"message,omitempty"`
}

type TokenFunc func(ctx context.Context) (string, error)

// FeedClient subscribes to documents through the gateway's websocket feed.
// It only implements Subscriber; reads and writes go through a Store.
type FeedClient struct {
	endpoint string
	token    TokenFunc
	logger   Logger
}

func NewFeedClient(baseURL string, token TokenFunc, logger Logger) (*FeedClient, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported feed url scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + FeedPath
	if logger == nil {
		logger = log.Default()
	}
	return &FeedClient{endpoint: parsed.String(), token: token, logger: logger}, nil
}

// Subscribe dials in the background; dial and stream failures are reported
// through onError, never returned synchronously.
func (c *FeedClient) Subscribe(
	ctx context.Context,
	target Target,
	onSnapshot SnapshotFunc,
	onError ErrorFunc,
) (func(), error) {
	if err := target.Validate(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	stop := &feedStream{cancel: cancel}
	go c.stream(streamCtx, stop, target, onSnapshot, onError)
	return stop.close, nil
}

type feedStream struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	closed bool
}

func (s *feedStream) attach(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

func (s *feedStream) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
	}
}

func (c *FeedClient) stream(
	ctx context.Context,
	stream *feedStream,
	target Target,
	onSnapshot SnapshotFunc,
	onError ErrorFunc,
) {
	report := func(err error) {
		if ctx.Err() != nil || onError == nil {
			return
		}
		onError(err)
	}

	token, err := c.token(ctx)
	if err != nil {
		report(&StoreError{Code: CodeUnauthenticated, Message: err.Error()})
		return
	}

	endpoint := c.endpoint + "?token=" + url.QueryEscape(token)
	conn, resp, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			report(&StoreError{Code: CodeUnauthenticated, Message: "feed rejected token"})
			return
		}
		report(&StoreError{Code: CodeUnavailable, Message: err.Error()})
		return
	}
	if !stream.attach(conn) {
		_ = conn.Close(websocket.StatusNormalClosure, "unsubscribed")
		return
	}
	conn.SetReadLimit(4 << 20)

	request := FeedRequest{Type: FrameWatch, ID: "w1", Path: target.Path, Query: target.Query}
	if err := wsjson.Write(ctx, conn, request); err != nil {
		report(translateFeedError(err))
		return
	}

	for {
		var frame FeedFrame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			report(translateFeedError(err))
			return
		}
		switch frame.Type {
		case FrameSnapshot:
			if ctx.Err() == nil && onSnapshot != nil {
				docs := frame.Documents
				if docs == nil {
					docs = []Document{}
				}
				onSnapshot(docs)
			}
		case FrameError:
			report(&StoreError{Code: frame.Code, Message: frame.Message})
			stream.close()
			return
		default:
			c.logger.Printf("docstore feed: ignoring frame type %q", frame.Type)
		}
	}
}

func translateFeedError(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.StatusPolicyViolation {
			code := CodeUnauthenticated
			if strings.HasPrefix(closeErr.Reason, CodePermissionDenied) {
				code = CodePermissionDenied
			}
			return &StoreError{Code: code, Message: closeErr.Reason}
		}
		return &StoreError{Code: CodeUnavailable, Message: closeErr.Reason}
	}
	return &StoreError{Code: CodeUnavailable, Message: err.Error()}
}
