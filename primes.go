// Primebox Prime Hunt
//
// The server issues a grid of numbers to every connected player.
// Players pick the cells they believe are prime before the deadline;
// each correct prime is worth +2 points, each wrong pick costs 3.
// When the timer runs out, or everyone has locked in an answer, the
// highest score wins. Ties are shared wins.
//
// Features:
// - WebSockets per game ID: /primes/:gameid and /primes/:gameid/ws
// - Lobby ready-up: the round starts once every player is ready
// - Authoritative scoring in the session package; primality never
//   leaves the server
// - One submission per player per round; disconnecting mid-round
//   forfeits the remaining submission without ending the game for
//   the others
// - Players identified by cookie (playerID)
// - Late connections during a round are rejected from joining
// - Games auto-reaped after configurable idle timeout
// - Random 8-char game IDs via crypto/rand, with server-side
//   collision check
// - In-browser QR button to share the current session, backed by
//   go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/primebox/session"
)

// Messages coming from clients
type ClientMessage struct {
	Type    string `json:"type"`              // "join", "ready", "submit", "again"
	Name    string `json:"name,omitempty"`    // join
	Indices []int  `json:"indices,omitempty"` // submit
}

// SessionInfoMessage is sent immediately on connect so the client
// knows the game state and whether this cookie already joined.
type SessionInfoMessage struct {
	Type   string `json:"type"` // "session_info"
	GameID string `json:"game_id"`
	State  string `json:"state"`
	Joined bool   `json:"joined"`
	Name   string `json:"name,omitempty"`
}

// LobbyMessage broadcasts the player roster with ready flags and
// running scores.
type LobbyMessage struct {
	Type    string               `json:"type"` // "lobby"
	State   string               `json:"state"`
	Players []session.PlayerView `json:"players"`
}

// RoundStartMessage carries the board. Values only; whether a cell is
// prime stays server-side until the round ends.
type RoundStartMessage struct {
	Type     string    `json:"type"` // "round_start"
	Values   []int     `json:"values"`
	Deadline time.Time `json:"deadline"`
	Seconds  int       `json:"seconds"`
}

// SubmitAckMessage tells the submitting client what their picks were
// worth.
type SubmitAckMessage struct {
	Type   string `json:"type"` // "submit_ack"
	Points int    `json:"points"`
}

// RoundResultMessage announces final standings and the winner set.
type RoundResultMessage struct {
	Type    string                `json:"type"` // "round_result"
	Scores  []session.PlayerScore `json:"scores"`
	Winners []string              `json:"winners"`
	Reason  string                `json:"reason"`
}

// ErrorMessage is sent only to the offending client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type inbound struct {
	client *Client
	msg    ClientMessage
}

type Hub struct {
	id      string
	sess    *session.Session
	clients map[*Client]bool

	register chan *Client
	unreg    chan *Client
	inbox    chan inbound

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
}

func newHub(cfg *Config, gameID string) (*Hub, error) {
	now := time.Now()
	h := &Hub{
		id:         gameID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unreg:      make(chan *Client),
		inbox:      make(chan inbound),
		createdAt:  now,
		lastActive: now,
	}

	sess, err := session.New(cfg.sessionConfig(), nil, session.Hooks{
		RoundStarted: h.onRoundStarted,
		RoundEnded:   h.onRoundEnded,
	})
	if err != nil {
		return nil, err
	}
	h.sess = sess

	return h, nil
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unreg:
			h.handleUnregister(c)

		case in := <-h.inbox:
			h.handleMessage(in)
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	snap := h.sess.Snapshot()
	name, joined := h.sess.PlayerName(c.playerID)

	h.mu.Lock()
	h.lastActive = time.Now()
	h.clients[c] = true
	h.mu.Unlock()

	c.send <- SessionInfoMessage{
		Type:   "session_info",
		GameID: h.id,
		State:  snap.State.String(),
		Joined: joined,
		Name:   name,
	}
	c.send <- lobbyMessage(snap)
}

func (h *Hub) handleUnregister(c *Client) {
	h.mu.Lock()
	h.lastActive = time.Now()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}

	// Another tab with the same cookie keeps the player seated.
	stillConnected := false
	for other := range h.clients {
		if other.playerID == c.playerID {
			stillConnected = true
			break
		}
	}
	h.mu.Unlock()

	if stillConnected || c.playerID == "" {
		return
	}

	if err := h.sess.Leave(c.playerID); err == nil {
		log.Debug().Str("game", h.id).Str("player", c.playerID).Msg("player left")
		h.broadcast(lobbyMessage(h.sess.Snapshot()))
	}
}

func (h *Hub) handleMessage(in inbound) {
	c := in.client
	msg := in.msg

	h.mu.Lock()
	h.lastActive = time.Now()
	h.mu.Unlock()

	switch msg.Type {
	case "join":
		if msg.Name == "" || c.playerID == "" {
			return
		}
		if err := h.sess.Join(c.playerID, msg.Name); err != nil {
			h.sendError(c, err)
			return
		}
		log.Debug().Str("game", h.id).Str("player", msg.Name).Msg("player joined")
		h.broadcast(lobbyMessage(h.sess.Snapshot()))

	case "ready":
		if err := h.sess.SetReady(c.playerID); err != nil {
			h.sendError(c, err)
			return
		}
		h.broadcast(lobbyMessage(h.sess.Snapshot()))

	case "submit":
		points, err := h.sess.Submit(c.playerID, msg.Indices)
		if err != nil {
			h.sendError(c, err)
			return
		}
		h.trySend(c, SubmitAckMessage{Type: "submit_ack", Points: points})
		h.broadcast(lobbyMessage(h.sess.Snapshot()))

	case "again":
		if err := h.sess.Reset(); err != nil {
			h.sendError(c, err)
			return
		}
		h.broadcast(lobbyMessage(h.sess.Snapshot()))
	}
}

// onRoundStarted and onRoundEnded run as session hooks, outside the
// session lock.
func (h *Hub) onRoundStarted(rs session.RoundStart) {
	log.Info().Str("game", h.id).Int("cells", len(rs.Values)).Time("deadline", rs.Deadline).Msg("round started")
	h.broadcast(RoundStartMessage{
		Type:     "round_start",
		Values:   rs.Values,
		Deadline: rs.Deadline,
		Seconds:  int(rs.Duration.Seconds()),
	})
}

func (h *Hub) onRoundEnded(result session.Result) {
	log.Info().Str("game", h.id).Strs("winners", result.Winners).Str("reason", string(result.Reason)).Msg("round ended")
	h.broadcast(RoundResultMessage{
		Type:    "round_result",
		Scores:  result.Scores,
		Winners: result.Winners,
		Reason:  string(result.Reason),
	})
	h.broadcast(lobbyMessage(h.sess.Snapshot()))
}

func lobbyMessage(snap session.Snapshot) LobbyMessage {
	players := snap.Players
	if players == nil {
		players = []session.PlayerView{}
	}
	return LobbyMessage{
		Type:    "lobby",
		State:   snap.State.String(),
		Players: players,
	}
}

func (h *Hub) sendError(c *Client, err error) {
	h.trySend(c, ErrorMessage{
		Type:    "error",
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

// trySend delivers to a single client, dropping the client if its
// send buffer is full.
func (h *Hub) trySend(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.sess.EndRound()

	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, session.ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, session.ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, session.ErrRoundNotActive):
		return "round_not_active"
	case errors.Is(err, session.ErrAlreadySubmitted):
		return "already_submitted"
	case errors.Is(err, session.ErrInvalidIndex):
		return "invalid_index"
	case errors.Is(err, session.ErrInvalidGridConfig):
		return "invalid_grid_configuration"
	default:
		return "internal"
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "primebox_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

// GameManager holds a set of hubs keyed by game ID, so each
// /primes/:gameid is its own isolated session.
type GameManager struct {
	mu          sync.Mutex
	cfg         *Config
	hubs        map[string]*Hub
	idleTimeout time.Duration
}

func newGameManager(cfg *Config) *GameManager {
	gm := &GameManager{
		cfg:         cfg,
		hubs:        make(map[string]*Hub),
		idleTimeout: cfg.sessionTimeout,
	}
	if gm.idleTimeout > 0 {
		go gm.reaperLoop()
	}
	return gm
}

func (gm *GameManager) getHub(gameID string) (*Hub, error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	if hub, ok := gm.hubs[gameID]; ok {
		return hub, nil
	}

	hub, err := newHub(gm.cfg, gameID)
	if err != nil {
		return nil, err
	}
	gm.hubs[gameID] = hub
	go hub.run()
	return hub, nil
}

// newGameID generates a crypto-random game ID and ensures it doesn't
// collide with existing games.
func (gm *GameManager) newGameID() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	for {
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}
		out := make([]byte, 8)
		for i := range out {
			out[i] = letters[int(buf[i])%len(letters)]
		}
		id := string(out)

		gm.mu.Lock()
		_, exists := gm.hubs[id]
		gm.mu.Unlock()

		if !exists {
			return id
		}
	}
}

// reaperLoop periodically removes hubs that have been idle longer
// than idleTimeout.
func (gm *GameManager) reaperLoop() {
	ticker := time.NewTicker(gm.idleTimeout / 2)
	for range ticker.C {
		cutoff := time.Now().Add(-gm.idleTimeout)

		gm.mu.Lock()
		for id, hub := range gm.hubs {
			hub.mu.RLock()
			last := hub.lastActive
			hub.mu.RUnlock()

			if last.Before(cutoff) {
				delete(gm.hubs, id)
				log.Debug().Str("game", id).Msg("reaping idle game")
				go hub.closeAll()
			}
		}
		gm.mu.Unlock()
	}
}

// WebSocket handler that picks the hub based on :gameid
func serveWSForManager(gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if gameID == "" {
			http.Error(w, "missing game id", http.StatusBadRequest)
			return
		}

		playerID := getOrSetPlayerID(w, r)

		hub, err := gm.getHub(gameID)
		if err != nil {
			http.Error(w, "invalid game configuration", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("websocket upgrade failed")
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "join", "ready", "submit", "again":
			h.inbox <- inbound{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the current game URL using
// go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := ps.ByName("gameid")
	if gameID == "" {
		http.Error(w, "missing game id", http.StatusBadRequest)
		return
	}

	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../:gameid/qr; strip trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed primes/index.html
var indexHTML []byte

//go:embed primes/app.css
var primeboxCSS []byte

//go:embed primes/app.js
var primeboxJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(primeboxCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(primeboxJS)
	}
}

// redirectNewGame handles GET /primes by generating a new random game
// ID (with server-side collision detection) and redirecting to
// /primes/:gameid.
func redirectNewGame(path string, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		gameID := gm.newGameID()
		log.Debug().Str("game", gameID).Msg("created game")
		http.Redirect(w, r, path+"/"+gameID, http.StatusTemporaryRedirect)
	}
}

// registerPrimesGame sets up routes so that:
//   - $path                  → redirects to new random game (8-char ID)
//   - $path/:gameid          → HTML client
//   - $path/:gameid/ws       → WebSocket for that game
//   - $path/:gameid/qr       → PNG QR code for that game URL
func registerPrimesGame(cfg *Config, path string, mux *httprouter.Router) *GameManager {
	gm := newGameManager(cfg)

	// Root path → redirect to new random game
	mux.GET(path, redirectNewGame(path, gm))

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path+"/:gameid", getIndexHandler(cfg))

	// Shared assets (no gameid in route)
	mux.GET(cfg.prefix+"/assets/primes/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/primes/app.js", getJsHandler(cfg))

	// Per-game websocket
	mux.GET(cfg.prefix+path+"/:gameid/ws", serveWSForManager(gm))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/:gameid/qr", qrHandler)

	return gm
}
