// Package ws implements the streaming transport of §6: the
// /signalk/v1/stream WebSocket endpoint, one session per connection,
// grounded on the teacher's hdl_websock.go readLoop/writeLoop split.
package ws

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"

	"github.com/signalk/signalk-server-go/internal/logs"
	"github.com/signalk/signalk-server-go/internal/session"
	"github.com/signalk/signalk-server-go/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Pipeline is the subset of the hub a session needs to submit client deltas
// into the delta pipeline and to register for broadcast delivery.
type Pipeline interface {
	session.Pipeline
	Join(sess *session.Session)
	Leave(id string)
}

// Handler serves the streaming WebSocket endpoint.
type Handler struct {
	store    *store.Store
	pipeline Pipeline
	putter   *session.PutRouter
	implName string

	connSeq atomic.Uint64
}

// New constructs a streaming-transport handler bound to st and pipeline.
// implName is reported in every session's Hello message.
func New(st *store.Store, pipeline Pipeline, putter *session.PutRouter, implName string) *Handler {
	return &Handler{store: st, pipeline: pipeline, putter: putter, implName: implName}
}

// ServeHTTP upgrades the request to a WebSocket, parses the query-string
// options of §6 (subscribe, sendCachedValues, serverevents, sendMeta), and
// runs the session until the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warning.Println("ws: upgrade failed:", err)
		return
	}

	opts := optionsFromQuery(r, h.implName)
	id := uuid.NewString()

	defaultSourceRef := "ws." + strconv.FormatUint(h.connSeq.Add(1), 10)
	sess := session.New(id, h.store, h.pipeline, h.putter, defaultSourceRef, opts)

	h.pipeline.Join(sess)
	sess.Open(h.store.SelfURN())

	logs.Info.Println("ws: session started", id, r.RemoteAddr)

	done := make(chan struct{})
	go h.writeLoop(conn, sess, done)
	h.readLoop(conn, sess, id)
	close(done)
}

func optionsFromQuery(r *http.Request, implName string) session.Options {
	q := r.URL.Query()
	opts := session.Options{
		InitialMode:      "self",
		SendCachedValues: true,
		ImplName:         implName,
	}
	if v := q.Get("subscribe"); v != "" {
		opts.InitialMode = v
	}
	if v := q.Get("sendCachedValues"); v != "" {
		opts.SendCachedValues, _ = strconv.ParseBool(v)
	}
	opts.ServerEvents = q.Get("serverevents") == "all"
	opts.SendMeta = q.Get("sendMeta") == "all"
	return opts
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *session.Session, id string) {
	defer func() {
		sess.Close()
		h.pipeline.Leave(id)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logs.Warning.Println("ws: readLoop", id, err)
			}
			return
		}
		sess.Dispatch(ctx, raw)
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, sess *session.Session, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-sess.Outbound():
			if !ok {
				return
			}
			if err := write(conn, websocket.TextMessage, frame); err != nil {
				logs.Warning.Println("ws: writeLoop", sess.ID(), err)
				return
			}
		case <-ticker.C:
			if err := write(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func write(conn *websocket.Conn, mt int, payload []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(mt, payload)
}
