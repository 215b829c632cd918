// Package api exposes the room store and the leaderboards over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/kiliankoe/vibecheck/internal/game"
	"github.com/kiliankoe/vibecheck/internal/identity"
	"github.com/kiliankoe/vibecheck/internal/leaderboard"
	"github.com/kiliankoe/vibecheck/internal/store"
	"github.com/kiliankoe/vibecheck/internal/store/remote"
)

const (
	identityKey = "identity"
	qrSize      = 320
	pingPeriod  = 30 * time.Second
	pongWait    = 60 * time.Second
	writeWait   = 10 * time.Second
)

type Options struct {
	// JWTSecret verifies bearer tokens. Without it identity is not checked.
	JWTSecret []byte
	PublicURL string
	Logger    *zerolog.Logger
}

type Server struct {
	Store  store.Store
	Boards leaderboard.Repository

	secret    []byte
	publicURL string
	log       zerolog.Logger
	upgrader  websocket.Upgrader
}

func New(s store.Store, boards leaderboard.Repository, opts Options) *Server {
	srv := &Server{
		Store:     s,
		Boards:    boards,
		secret:    opts.JWTSecret,
		publicURL: strings.TrimRight(opts.PublicURL, "/"),
		log:       log.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if opts.Logger != nil {
		srv.log = *opts.Logger
	}
	return srv
}

// Mount registers every route on r.
func (srv *Server) Mount(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC()})
	})

	api := r.Group("/api")
	api.GET("/store/*path", srv.read)
	api.PUT("/store/*path", srv.write)
	api.PATCH("/store/*path", srv.patch)
	api.DELETE("/store/*path", srv.remove)
	api.POST("/store/*path", srv.appendChild)
	api.GET("/subscribe/*path", srv.subscribe)

	api.GET("/leaderboard/:type", srv.requireIdentity, srv.leaderboard)
	api.GET("/played", srv.played)
	api.GET("/rooms/:code/qr.png", srv.qr)
}

func storePath(c *gin.Context) (string, bool) {
	path := strings.Trim(c.Param("path"), "/")
	segs, err := store.Split(path)
	if err != nil || len(segs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_path"})
		return "", false
	}
	return path, true
}

func (srv *Server) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_path"})
	case errors.Is(err, store.ErrUnavailable):
		srv.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store_unavailable"})
	default:
		srv.log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}

func (srv *Server) read(c *gin.Context) {
	path, ok := storePath(c)
	if !ok {
		return
	}
	v, exists, err := srv.Store.Read(c.Request.Context(), path)
	if err != nil {
		srv.fail(c, err)
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": v})
}

func (srv *Server) write(c *gin.Context) {
	path, ok := storePath(c)
	if !ok {
		return
	}
	var value any
	if err := c.ShouldBindJSON(&value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	if err := srv.Store.Write(c.Request.Context(), path, value); err != nil {
		srv.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (srv *Server) patch(c *gin.Context) {
	path, ok := storePath(c)
	if !ok {
		return
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	if err := srv.Store.Patch(c.Request.Context(), path, fields); err != nil {
		srv.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (srv *Server) remove(c *gin.Context) {
	path, ok := storePath(c)
	if !ok {
		return
	}
	if err := srv.Store.Delete(c.Request.Context(), path); err != nil {
		srv.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (srv *Server) appendChild(c *gin.Context) {
	path, ok := storePath(c)
	if !ok {
		return
	}
	var value any
	if err := c.ShouldBindJSON(&value); err != nil || value == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_body"})
		return
	}
	key, err := srv.Store.AppendChild(c.Request.Context(), path, value)
	if err != nil {
		srv.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

// subscribe upgrades to a WebSocket and streams one message per snapshot
// until either side goes away.
func (srv *Server) subscribe(c *gin.Context) {
	path, ok := storePath(c)
	if !ok {
		return
	}
	conn, err := srv.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		srv.log.Warn().Err(err).Str("path", path).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := srv.Store.Subscribe(ctx, path)
	if err != nil {
		srv.log.Error().Err(err).Str("path", path).Msg("subscribe failed")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"), time.Now().Add(writeWait))
		return
	}
	defer sub.Close()
	srv.log.Debug().Str("path", path).Msg("subscriber connected")

	// The reader only watches for the close frame and pongs.
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snap, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(remote.Message{Path: path, Exists: snap.Exists, Value: snap.Value}); err != nil {
				srv.log.Debug().Err(err).Str("path", path).Msg("subscriber write failed")
				return
			}
		}
	}
}

// requireIdentity rejects requests without a bearer identity. With a secret
// configured the token signature is verified; without one the token only
// has to be well formed.
func (srv *Server) requireIdentity(c *gin.Context) {
	header := c.GetHeader("Authorization")
	var (
		id  *identity.Identity
		err error
	)
	if len(srv.secret) > 0 {
		id, err = identity.Verify(header, srv.secret)
	} else {
		raw := strings.TrimPrefix(strings.TrimSpace(header), "Bearer ")
		id, err = identity.Token{Raw: raw}.Current(c.Request.Context())
	}
	if err != nil || id == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(identityKey, id)
	c.Next()
}

func (srv *Server) leaderboard(c *gin.Context) {
	t, err := game.ParseRoomType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_board"})
		return
	}
	entries, err := leaderboard.Ranked(c.Request.Context(), srv.Boards, t)
	if err != nil {
		srv.fail(c, err)
		return
	}
	if entries == nil {
		entries = []game.LeaderboardEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"type": t, "entries": entries})
}

func (srv *Server) played(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing_email"})
		return
	}
	played, err := leaderboard.HasPlayed(c.Request.Context(), srv.Boards, email)
	if err != nil {
		srv.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "played": played})
}

// qr renders a PNG QR code of the join link for a room.
func (srv *Server) qr(c *gin.Context) {
	code, err := game.NormalizeRoomCode(c.Param("code"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_code"})
		return
	}
	base := srv.publicURL
	if base == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + c.Request.Host
	}
	png, err := qrcode.Encode(base+"/?room="+code, qrcode.Medium, qrSize)
	if err != nil {
		srv.log.Error().Err(err).Str("code", code).Msg("qr generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "qr_failed"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
