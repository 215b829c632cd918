// Package ws serves store subscriptions to browser clients over Socket.IO.
package ws

import (
	"context"
	"sync"

	"github.com/gin-gonic/gin"
	socketio "github.com/googollee/go-socket.io"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/vibecheck/internal/store"
)

type ConnCtx struct {
	Subs int
}

type emitFunc func(event string, payload map[string]any)

type Server struct {
	Store store.Store

	log  zerolog.Logger
	mu   sync.Mutex
	subs map[string]map[string]*store.Subscription // socketID -> subscriptionID -> sub
}

func New(s store.Store, logger *zerolog.Logger) *Server {
	srv := &Server{Store: s, log: log.Logger, subs: make(map[string]map[string]*store.Subscription)}
	if logger != nil {
		srv.log = *logger
	}
	return srv
}

// Mount attaches the Socket.IO server with handlers to the given Gin engine.
func (srv *Server) Mount(r *gin.Engine) *socketio.Server {
	io := socketio.NewServer(nil)

	io.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext(&ConnCtx{})
		srv.log.Info().Str("sid", s.ID()).Msg("socket connected")
		return nil
	})

	// store:subscribe
	io.OnEvent("/", "store:subscribe", func(s socketio.Conn, payload struct {
		Path string `json:"path"`
	}) map[string]any {
		emit := func(event string, p map[string]any) { s.Emit(event, p) }
		id, err := srv.open(s.ID(), payload.Path, emit)
		if err != nil {
			return srv.err(s, "subscribe_failed", err.Error())
		}
		if ctx, ok := s.Context().(*ConnCtx); ok {
			ctx.Subs++
		}
		return map[string]any{"id": id}
	})

	// store:unsubscribe
	io.OnEvent("/", "store:unsubscribe", func(s socketio.Conn, payload struct {
		ID string `json:"id"`
	}) map[string]any {
		if !srv.release(s.ID(), payload.ID) {
			return srv.err(s, "unknown_subscription", "Subscription not found")
		}
		if ctx, ok := s.Context().(*ConnCtx); ok && ctx.Subs > 0 {
			ctx.Subs--
		}
		return map[string]any{"ok": true}
	})

	// store:read
	io.OnEvent("/", "store:read", func(s socketio.Conn, payload struct {
		Path string `json:"path"`
	}) map[string]any {
		v, ok, err := srv.read(payload.Path)
		if err != nil {
			return srv.err(s, "read_failed", err.Error())
		}
		return map[string]any{"path": payload.Path, "exists": ok, "value": v}
	})

	io.OnError("/", func(s socketio.Conn, e error) {
		sid := ""
		if s != nil {
			sid = s.ID()
		}
		srv.log.Error().Str("sid", sid).Err(e).Msg("socket error")
	})
	io.OnDisconnect("/", func(s socketio.Conn, reason string) {
		n := srv.closeConn(s.ID())
		srv.log.Info().Str("sid", s.ID()).Str("reason", reason).Int("released", n).Msg("socket disconnected")
	})

	go io.Serve()

	r.GET("/socket.io/*any", gin.WrapH(io))
	r.POST("/socket.io/*any", gin.WrapH(io))

	return io
}

// open subscribes a connection to path and forwards every snapshot as a
// store:snapshot event until the subscription is released.
func (srv *Server) open(sid, path string, emit emitFunc) (string, error) {
	if err := checkPath(path); err != nil {
		return "", err
	}
	sub, err := srv.Store.Subscribe(context.Background(), path)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()

	srv.mu.Lock()
	if srv.subs[sid] == nil {
		srv.subs[sid] = make(map[string]*store.Subscription)
	}
	srv.subs[sid][id] = sub
	srv.mu.Unlock()

	go func() {
		for snap := range sub.C {
			emit("store:snapshot", map[string]any{
				"id":     id,
				"path":   snap.Path,
				"exists": snap.Exists,
				"value":  snap.Value,
			})
		}
	}()
	srv.log.Debug().Str("sid", sid).Str("path", path).Str("sub", id).Msg("store:subscribe")
	return id, nil
}

func (srv *Server) read(path string) (any, bool, error) {
	if err := checkPath(path); err != nil {
		return nil, false, err
	}
	return srv.Store.Read(context.Background(), path)
}

// checkPath rejects malformed paths and the store root.
func checkPath(path string) error {
	segs, err := store.Split(path)
	if err != nil {
		return err
	}
	if len(segs) == 0 {
		return store.ErrInvalidPath
	}
	return nil
}

func (srv *Server) release(sid, id string) bool {
	srv.mu.Lock()
	sub := srv.subs[sid][id]
	if sub != nil {
		delete(srv.subs[sid], id)
		if len(srv.subs[sid]) == 0 {
			delete(srv.subs, sid)
		}
	}
	srv.mu.Unlock()
	if sub == nil {
		return false
	}
	sub.Close()
	return true
}

// closeConn releases every subscription held by a connection.
func (srv *Server) closeConn(sid string) int {
	srv.mu.Lock()
	subs := srv.subs[sid]
	delete(srv.subs, sid)
	srv.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
	return len(subs)
}

func (srv *Server) err(s socketio.Conn, code, message string) map[string]any {
	s.Emit("error", map[string]any{"code": code, "message": message})
	return map[string]any{"error": message}
}
