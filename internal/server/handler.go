package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/doodlelabs/doodlechat/internal/ai"
	"github.com/doodlelabs/doodlechat/internal/logger"
	"github.com/doodlelabs/doodlechat/internal/metrics"
	"github.com/doodlelabs/doodlechat/internal/room"
	"github.com/doodlelabs/doodlechat/internal/session"
	"github.com/doodlelabs/doodlechat/internal/userstore"
)

type connState int

const (
	statePreAuth connState = iota
	stateLobby
	stateInRoom
	stateTerminated
)

// aiHistoryLines is how much room history feeds a completion request.
const aiHistoryLines = 100

// handler drives one client connection through the protocol state machine.
// All state fields are touched only by the Run goroutine; writes to the
// transport are serialized through writeMu so the heartbeat goroutine and
// the delivery queue never interleave partial lines.
type handler struct {
	conn    net.Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	srv     *Server
	log     *logger.Logger
	limiter *rate.Limiter

	state     connState
	sess      *session.Session
	current   *room.Room
	loggedOut bool

	stopHeartbeat chan struct{}
	heartbeatDone chan struct{}
}

func newHandler(conn net.Conn, srv *Server) *handler {
	connID := logger.GenerateConnID()
	ctx := logger.WithConnID(context.Background(), connID)
	return &handler{
		conn:          conn,
		reader:        bufio.NewReader(conn),
		srv:           srv,
		log:           srv.log.WithComponent("handler").WithContext(ctx),
		limiter:       rate.NewLimiter(rate.Limit(srv.cfg.MessageRate), srv.cfg.MessageBurst),
		state:         statePreAuth,
		stopHeartbeat: make(chan struct{}),
		heartbeatDone: make(chan struct{}),
	}
}

// Run processes the connection until it terminates.
func (h *handler) Run() {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	defer h.conn.Close()

	if err := h.send("AUTH_REQUIRED"); err != nil {
		h.log.Debug("Client gone before auth", "error", err)
		return
	}

	go h.heartbeatLoop()
	defer func() {
		close(h.stopHeartbeat)
		<-h.heartbeatDone
	}()

	for h.state != stateTerminated {
		h.conn.SetReadDeadline(time.Now().Add(h.srv.cfg.ReadTimeout))
		line, err := h.reader.ReadString('\n')
		if err != nil {
			if h.state != stateTerminated && !h.loggedOut {
				h.log.Info("Connection lost", "error", err)
				h.onDisconnect()
			}
			return
		}
		h.dispatch(strings.TrimRight(line, "\r\n"))
	}
}

func (h *handler) dispatch(line string) {
	if line == "" {
		return
	}
	// Pre-auth heartbeat skew from an earlier connection is tolerated.
	if line == "HEARTBEAT_ACK" {
		return
	}

	cmd, arg, _ := strings.Cut(line, " ")

	if h.state == statePreAuth {
		h.dispatchPreAuth(cmd, arg)
		return
	}

	switch cmd {
	case "LIST_ROOMS":
		h.sendRoomList()
	case "JOIN_ROOM":
		if arg == "" {
			h.send("INVALID_FORMAT")
			return
		}
		h.joinRoom(arg)
	case "CREATE_ROOM":
		if arg == "" {
			h.send("INVALID_FORMAT")
			return
		}
		h.createRoom(arg, false, "")
	case "CREATE_AI_ROOM":
		if arg == "" {
			h.send("INVALID_FORMAT")
			return
		}
		name, prompt, ok := strings.Cut(arg, "|")
		if !ok || name == "" || prompt == "" {
			h.send("INVALID_FORMAT_AI_ROOM")
			return
		}
		h.createRoom(name, true, prompt)
	case "MESSAGE":
		if arg == "" {
			h.send("INVALID_FORMAT")
			return
		}
		h.message(arg)
	case "LEAVE_ROOM":
		h.leaveRoom()
	case "LOGOUT":
		h.onLogout()
	case "HEARTBEAT":
		h.send("HEARTBEAT_ACK")
	default:
		h.send("UNKNOWN_COMMAND")
	}
}

func (h *handler) dispatchPreAuth(cmd, arg string) {
	switch cmd {
	case "LOGIN":
		username, password, ok := strings.Cut(arg, " ")
		if !ok || username == "" || password == "" {
			h.send("INVALID_FORMAT")
			return
		}
		h.login(username, password)
	case "REGISTER":
		username, password, ok := strings.Cut(arg, " ")
		if !ok || username == "" || password == "" {
			h.send("INVALID_FORMAT")
			return
		}
		h.register(username, password)
	case "RECONNECT":
		if arg == "" {
			h.send("INVALID_FORMAT")
			return
		}
		token, roomName, _ := strings.Cut(arg, " ")
		h.reconnect(token, roomName)
	default:
		h.send("UNKNOWN_COMMAND")
	}
}

func (h *handler) login(username, password string) {
	user, err := h.srv.users.Authenticate(username, password)
	if err != nil {
		h.log.Info("Authentication failed", "username", username)
		h.send("AUTH_FAILED")
		return
	}

	h.sess = h.srv.sessions.Create(user.Username)
	h.state = stateLobby
	h.log = h.log.With("username", user.Username)
	h.log.Info("User authenticated")

	h.send(fmt.Sprintf("AUTH_SUCCESS %s %s", user.Username, h.sess.Token))
	h.sendRoomList()
}

func (h *handler) register(username, password string) {
	err := h.srv.users.Register(username, password)
	switch {
	case err == nil:
		h.log.Info("User registered", "username", username)
		h.send("REGISTER_SUCCESS")
	case errors.Is(err, userstore.ErrUserExists):
		h.send("REGISTER_FAILED User already exists")
	default:
		h.log.Error("Registration failed", "username", username, "error", err)
		h.send("REGISTER_FAILED Internal error")
	}
}

func (h *handler) reconnect(token, roomName string) {
	sess := h.srv.sessions.Get(token)
	if sess == nil {
		h.send("SESSION_EXPIRED")
		return
	}

	// A client-supplied room name overrides the remembered one when valid.
	if roomName != "" && h.srv.rooms.Exists(roomName) {
		sess.SetRoom(roomName)
	}

	h.sess = sess
	h.log = h.log.With("username", sess.Username)

	target := sess.Room()
	var r *room.Room
	if target != "" {
		var err error
		r, err = h.srv.rooms.Get(target)
		if err != nil {
			// Remembered room is gone; land the client in the lobby.
			sess.ClearRoom()
			target = ""
		}
	}

	if target == "" {
		h.state = stateLobby
		h.send("RECONNECT_SUCCESS " + sess.Username)
		h.sendRoomList()
		h.log.Info("User reconnected to lobby")
		return
	}

	h.state = stateInRoom
	h.current = r
	h.send(fmt.Sprintf("RECONNECT_SUCCESS %s %s", sess.Username, target))
	q := r.AddUser(sess.Username, h.deliver)
	// Queued after the history snapshot, addressed to this client only.
	q.Enqueue("[System: Reconnected to room " + target + "]")
	h.log.Info("User reconnected", "room", target)
}

func (h *handler) sendRoomList() {
	h.send("ROOM_LIST " + strings.Join(h.srv.rooms.Names(), ","))
}

func (h *handler) joinRoom(name string) {
	if h.state == stateInRoom {
		h.leaveRoom()
	}

	r, err := h.srv.rooms.Get(name)
	if err != nil {
		h.send("ERROR Room not found")
		return
	}

	h.current = r
	h.sess.SetRoom(name)
	h.state = stateInRoom

	r.AddUser(h.sess.Username, h.deliver)
	h.send("JOINED_ROOM " + name)
	r.SystemMessage(h.sess.Username + " enters the room")
	h.log.Info("User joined room", "room", name)
}

func (h *handler) createRoom(name string, isAI bool, prompt string) {
	var err error
	if isAI {
		_, err = h.srv.rooms.CreateAIRoom(name, prompt)
	} else {
		_, err = h.srv.rooms.CreateRoom(name)
	}
	if err != nil {
		h.send("ERROR Room already exists")
		return
	}

	if isAI {
		h.send("AI_ROOM_CREATED " + name)
	} else {
		h.send("ROOM_CREATED " + name)
	}
	h.joinRoom(name)
}

func (h *handler) message(text string) {
	if h.state != stateInRoom || h.current == nil {
		h.send("ERROR Not in a room")
		return
	}
	if !h.limiter.Allow() {
		h.send("ERROR Rate limit exceeded")
		return
	}

	r := h.current
	r.UserMessage(h.sess.Username, text)

	if r.IsAI() {
		go h.botReply(r)
	}
}

// botReply runs the completion pipeline and re-enters the result into the
// room as a bot message. The room always gets some reply.
func (h *handler) botReply(r *room.Room) {
	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer cancel()

	reply, err := h.srv.completer.Complete(ctx, r.SystemPrompt(), r.HistorySnapshot(aiHistoryLines))
	switch {
	case errors.Is(err, ai.ErrEmptyCompletion):
		r.SystemMessage("Error: Bot did not generate a valid response")
	case err != nil:
		r.SystemMessage("Error: Bot not available - " + err.Error())
	default:
		r.BotMessage(reply)
	}
}

func (h *handler) leaveRoom() {
	if h.state != stateInRoom || h.current == nil {
		h.send("ERROR Not in a room")
		return
	}

	r := h.current
	r.SystemMessage(h.sess.Username + " leaves the room")
	r.RemoveUser(h.sess.Username)

	h.current = nil
	h.sess.ClearRoom()
	h.state = stateLobby
	h.send("LEFT_ROOM")
}

// onDisconnect is the soft cleanup path: the subscriber is detached but the
// session keeps its room so a later RECONNECT can reattach.
func (h *handler) onDisconnect() {
	if h.current != nil {
		h.current.RemoveUser(h.sess.Username)
		h.log.Info("Keeping session for reconnect", "room", h.sess.Room())
	}
	h.state = stateTerminated
}

// onLogout is the hard cleanup path: the session is destroyed.
func (h *handler) onLogout() {
	if h.current != nil {
		h.current.SystemMessage(h.sess.Username + " leaves the room")
		h.current.RemoveUser(h.sess.Username)
		h.current = nil
	}
	h.sess.ClearRoom()
	h.srv.sessions.Remove(h.sess.Token)
	h.loggedOut = true
	h.send("LOGGED_OUT")
	h.state = stateTerminated
	h.log.Info("User logged out")
}

// deliver is the queue's delivery closure for this connection.
func (h *handler) deliver(msg string) error {
	return h.send("ROOM_MESSAGE " + msg)
}

func (h *handler) send(line string) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.conn.Write([]byte(line + "\n"))
	return err
}

func (h *handler) heartbeatLoop() {
	defer close(h.heartbeatDone)

	ticker := time.NewTicker(h.srv.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.send("HEARTBEAT"); err != nil {
				h.log.Debug("Heartbeat write failed", "error", err)
				h.conn.Close()
				return
			}
		case <-h.stopHeartbeat:
			return
		}
	}
}
