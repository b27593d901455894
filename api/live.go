package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/adda/projection"
	"github.com/tcriess/adda/types"
)

const (
	maxMessageSize = 4096
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second
	sendBufferSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Frames sent to live clients. A snapshot carries the complete current state of the view.
const (
	eventSnapshot = "snapshot"
	eventGone     = "gone"
	eventError    = "error"
	eventJoined   = "joined"
)

type liveFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// liveCommand is what clients may send. Only the feed accepts commands ("join").
type liveCommand struct {
	Event     string `json:"event"`
	HangoutId string `json:"hangout_id"`
}

type notificationsSnapshot struct {
	Notifications []*types.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

// liveView is what every projection offers to a live connection.
type liveView interface {
	Updates() <-chan struct{}
	Close()
}

// liveClient is a middleman between the websocket connection and one projection.
type liveClient struct {
	conn   *websocket.Conn
	send   chan liveFrame
	done   chan struct{} // closed by the read loop
	stop   chan struct{} // closed once the write loop is gone
	logger hclog.Logger
}

func (s *Server) feedLive(w http.ResponseWriter, r *http.Request) {
	activity := types.ActivityType(r.URL.Query().Get("activity"))
	view := projection.NewFeedView(s.hub, s.controller, userId(r), activity, s.policy.FeedDebounce)
	err := view.Start(r.Context())
	if err != nil {
		view.Close()
		s.writeError(w, r, err)
		return
	}
	s.serveLive(w, r, view, func() liveFrame {
		return liveFrame{Event: eventSnapshot, Data: view.Items()}
	}, func(c *liveClient, cmd *liveCommand) {
		if cmd.Event != "join" {
			c.push(liveFrame{Event: eventError, Data: errorBody{Error: "validation", Message: "unknown event " + cmd.Event}})
			return
		}
		participant, err := view.RequestJoin(r.Context(), cmd.HangoutId)
		if err != nil {
			_, body := errorResponse(err)
			c.push(liveFrame{Event: eventError, Data: body})
			return
		}
		c.push(liveFrame{Event: eventJoined, Data: participant})
	})
}

func (s *Server) hangoutLive(w http.ResponseWriter, r *http.Request) {
	view := projection.NewDetailView(s.hub, s.controller, mux.Vars(r)["id"], userId(r), s.policy.PollInterval, s.policy.EndingSoonWindow)
	err := view.Start(r.Context())
	if err != nil {
		view.Close()
		s.writeError(w, r, err)
		return
	}
	s.serveLive(w, r, view, func() liveFrame {
		if view.Gone() {
			return liveFrame{Event: eventGone}
		}
		return liveFrame{Event: eventSnapshot, Data: view.Detail()}
	}, nil)
}

func (s *Server) chatLive(w http.ResponseWriter, r *http.Request) {
	view, err := projection.NewChatView(s.hub, s.controller, s.store, mux.Vars(r)["id"], userId(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = view.Start(r.Context())
	if err != nil {
		view.Close()
		s.writeError(w, r, err)
		return
	}
	s.serveLive(w, r, view, func() liveFrame {
		return liveFrame{Event: eventSnapshot, Data: view.Messages()}
	}, nil)
}

func (s *Server) notificationsLive(w http.ResponseWriter, r *http.Request) {
	view := projection.NewNotificationsView(s.hub, s.store, userId(r))
	err := view.Start(r.Context())
	if err != nil {
		view.Close()
		s.writeError(w, r, err)
		return
	}
	s.serveLive(w, r, view, func() liveFrame {
		return liveFrame{Event: eventSnapshot, Data: notificationsSnapshot{Notifications: view.Notifications(), Unread: view.Unread()}}
	}, nil)
}

// serveLive upgrades the connection and pushes a snapshot of the started view after every update. The view is
// closed when the client goes away. A "gone" frame ends the connection.
func (s *Server) serveLive(w http.ResponseWriter, r *http.Request, view liveView, snapshot func() liveFrame, handle func(c *liveClient, cmd *liveCommand)) {
	defer view.Close()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	c := &liveClient{
		conn:   conn,
		send:   make(chan liveFrame, sendBufferSize),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
		logger: s.logger.With("path", r.URL.Path, "user", userId(r)),
	}
	go c.readLoop(handle)
	c.writeLoop(view.Updates(), snapshot)
	close(c.stop)
}

// push queues a frame for the write loop. Frames are dropped once the client is gone.
func (c *liveClient) push(frame liveFrame) {
	select {
	case c.send <- frame:
	case <-c.stop:
	}
}

// readLoop pumps commands from the websocket connection to handle. Without a handler incoming messages are
// ignored, the loop still answers pings and notices when the client goes away.
func (c *liveClient) readLoop(handle func(c *liveClient, cmd *liveCommand)) {
	defer close(c.done)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("ws closed unexpected", "error", err)
			}
			return
		}
		if handle == nil {
			continue
		}
		cmd := &liveCommand{}
		err = json.Unmarshal(raw, cmd)
		if err != nil {
			c.push(liveFrame{Event: eventError, Data: errorBody{Error: "validation", Message: "malformed message"}})
			continue
		}
		handle(c, cmd)
	}
}

// writeLoop pumps snapshots and queued frames to the websocket connection and pings the client.
func (c *liveClient) writeLoop(updates <-chan struct{}, snapshot func() liveFrame) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case _, ok := <-updates:
			if !ok {
				c.close()
				return
			}
			frame := snapshot()
			if !c.write(frame) {
				return
			}
			if frame.Event == eventGone {
				c.close()
				return
			}

		case frame := <-c.send:
			if !c.write(frame) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop")
				return
			}

		case <-c.done:
			return
		}
	}
}

func (c *liveClient) write(frame liveFrame) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteJSON(frame)
	if err != nil {
		c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
		return false
	}
	return true
}

func (c *liveClient) close() {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
