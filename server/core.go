package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/WesleyDev184/bananaChat/domain"
	"github.com/WesleyDev184/bananaChat/domain/event"
	"github.com/WesleyDev184/bananaChat/errors"
	"github.com/WesleyDev184/bananaChat/groups"
	"github.com/WesleyDev184/bananaChat/moderation"
	"github.com/WesleyDev184/bananaChat/ordering"
	"github.com/WesleyDev184/bananaChat/presence"
	"github.com/WesleyDev184/bananaChat/repositories"
	"github.com/WesleyDev184/bananaChat/router"
	"github.com/WesleyDev184/bananaChat/session"
)

// Core dispatches protocol operations onto the chat services. One Core
// serves every connection.
type Core struct {
	log      *slog.Logger
	registry *session.Registry
	router   *router.Router
	engine   *ordering.Engine
	groups   *groups.Service
	tracker  *presence.Tracker
	censor   *moderation.Censor
	users    repositories.IUserRepository

	maxContent   int
	historyLimit int

	mu    sync.Mutex
	conns map[string]*Conn
}

type CoreDeps struct {
	Log      *slog.Logger
	Registry *session.Registry
	Router   *router.Router
	Engine   *ordering.Engine
	Groups   *groups.Service
	Tracker  *presence.Tracker
	Censor   *moderation.Censor
	Users    repositories.IUserRepository

	MaxContentLength int
	HistoryPageLimit int
}

func NewCore(deps CoreDeps) *Core {
	core := &Core{
		log:          deps.Log,
		registry:     deps.Registry,
		router:       deps.Router,
		engine:       deps.Engine,
		groups:       deps.Groups,
		tracker:      deps.Tracker,
		censor:       deps.Censor,
		users:        deps.Users,
		maxContent:   deps.MaxContentLength,
		historyLimit: deps.HistoryPageLimit,
		conns:        make(map[string]*Conn),
	}
	core.router.OnDropped(core.closeConnection)
	return core
}

// attach registers a fresh connection with the session registry and the
// router, and remembers it for teardown.
func (c *Core) attach(conn *Conn) string {
	connectionID := c.registry.Register()
	conn.connectionID = connectionID

	c.mu.Lock()
	c.conns[connectionID] = conn
	c.mu.Unlock()

	c.router.Attach(connectionID, conn)
	return connectionID
}

// disconnect tears a session down: all subscriptions disappear, and when
// this was the user's last connection the presence tracker takes over.
// In-flight publishes already accepted are not retracted.
func (c *Core) disconnect(connectionID string) {
	c.router.Detach(connectionID)
	c.registry.Unregister(connectionID)

	c.mu.Lock()
	delete(c.conns, connectionID)
	c.mu.Unlock()
}

// closeConnection is the router's slow-subscriber callback. Closing the
// socket makes the read pump exit, which performs the full teardown.
func (c *Core) closeConnection(connectionID string) {
	c.mu.Lock()
	conn := c.conns[connectionID]
	c.mu.Unlock()
	if conn != nil {
		conn.close()
	}
}

func (c *Core) handleFrame(conn *Conn, raw []byte) {
	var frame ClientFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		conn.push(errorFrame("", "", errors.ErrInvalidMessage))
		return
	}
	if err := validate.Struct(frame); err != nil {
		conn.push(errorFrame(frame.Ref, frame.Op, errors.ErrInvalidMessage))
		return
	}

	var reply ServerFrame
	switch frame.Op {
	case OpJoin:
		reply = c.handleJoin(conn, frame)
	case OpPublish:
		reply = c.handlePublish(conn, frame)
	case OpEdit:
		reply = c.handleEdit(conn, frame)
	case OpSubscribe:
		reply = c.handleSubscribe(conn, frame)
	case OpUnsubscribe:
		reply = c.handleUnsubscribe(conn, frame)
	case OpHistory:
		reply = c.handleHistory(conn, frame)
	case OpSearch:
		reply = c.handleSearch(conn, frame)
	case OpPresence:
		reply = c.handlePresence(conn, frame)
	case OpGroupCreate, OpGroupJoin, OpGroupLeave, OpGroupUpdate,
		OpGroupRemove, OpGroupDelete, OpGroupList, OpGroupGet:
		reply = c.handleGroupOp(conn, frame)
	default:
		reply = errorFrame(frame.Ref, frame.Op, errors.ErrInvalidMessage)
	}
	conn.push(reply)
}

// handleJoin binds the connection to a username. The bind transition feeds
// the presence tracker through the registry listener; here we only record
// the user sighting and put the session on the groups-update feed.
func (c *Core) handleJoin(conn *Conn, frame ClientFrame) ServerFrame {
	if err := validateJoin(frame.Username); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	if err := c.registry.Bind(conn.connectionID, frame.Username); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	if err := c.users.TouchUser(frame.Username, time.Now().UTC()); err != nil {
		c.log.Warn("Failed to record user sighting", "username", frame.Username, "error", err)
	}
	if err := c.router.SubscribeFeed(conn.connectionID, event.GroupsChannel); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	return resultFrame(frame.Ref, frame.Op)
}

// handlePublish runs the full accept path: authorize, censor, order,
// persist, then hand to fan-out. A failed publish never fans out.
func (c *Core) handlePublish(conn *Conn, frame ClientFrame) ServerFrame {
	sender, bound := c.registry.Username(conn.connectionID)
	if !bound {
		return errorFrame(frame.Ref, frame.Op, errors.ErrNotBound)
	}
	scope, err := frame.Scope.ToScope()
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}

	msgType := domain.MessageType(frame.MsgType)
	if frame.MsgType == "" {
		msgType = domain.MessageChat
	}
	if msgType != domain.MessageChat && msgType != domain.MessageSystem {
		// JOIN/LEAVE messages only originate from the presence tracker.
		return errorFrame(frame.Ref, frame.Op, errors.ErrInvalidMessage)
	}
	if err := validatePublish(sender, frame.Content, string(msgType), c.maxContent); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	if scope.Kind == domain.ScopeKindGroup {
		if err := c.groups.CanSend(scope.Group, sender); err != nil {
			return errorFrame(frame.Ref, frame.Op, err)
		}
	}

	// Accept stores the message and hands it to fan-out in one step, so
	// subscribers see every scope in acceptance order.
	msg, err := c.engine.Accept(domain.RawMessage{
		Sender:  sender,
		Scope:   scope,
		Content: c.censor.Apply(frame.Content),
		Type:    msgType,
		Nonce:   frame.Nonce,
	})
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}

	body := toMessageBody(msg)
	reply := resultFrame(frame.Ref, frame.Op)
	reply.Message = &body
	return reply
}

// handleEdit rewrites the content of a message the caller authored. The
// message keeps its place in the partition; subscribers get the updated
// body with the edited flag set.
func (c *Core) handleEdit(conn *Conn, frame ClientFrame) ServerFrame {
	sender, bound := c.registry.Username(conn.connectionID)
	if !bound {
		return errorFrame(frame.Ref, frame.Op, errors.ErrNotBound)
	}
	scope, err := frame.Scope.ToScope()
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	id, err := uuid.Parse(frame.MessageID)
	if err != nil || frame.Seq == 0 {
		return errorFrame(frame.Ref, frame.Op, errors.ErrInvalidMessage)
	}
	if err := validatePublish(sender, frame.Content, string(domain.MessageChat), c.maxContent); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	if scope.Kind == domain.ScopeKindGroup {
		if err := c.groups.CanSend(scope.Group, sender); err != nil {
			return errorFrame(frame.Ref, frame.Op, err)
		}
	}

	msg, err := c.engine.Edit(scope, frame.Seq, id, sender, c.censor.Apply(frame.Content))
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}

	body := toMessageBody(msg)
	reply := resultFrame(frame.Ref, frame.Op)
	reply.Message = &body
	return reply
}

func (c *Core) handleSubscribe(conn *Conn, frame ClientFrame) ServerFrame {
	scope, err := frame.Scope.ToScope()
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	if err := c.router.Subscribe(conn.connectionID, scope); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	reply := resultFrame(frame.Ref, frame.Op)
	reply.Scope = selectorFor(scope)
	return reply
}

func (c *Core) handleUnsubscribe(conn *Conn, frame ClientFrame) ServerFrame {
	scope, err := frame.Scope.ToScope()
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	c.router.Unsubscribe(conn.connectionID, scope)
	return resultFrame(frame.Ref, frame.Op)
}

// handleHistory serves one ascending page of the durable log. Private
// queues only open for their owner; group history requires membership.
func (c *Core) handleHistory(conn *Conn, frame ClientFrame) ServerFrame {
	username, bound := c.registry.Username(conn.connectionID)
	if !bound {
		return errorFrame(frame.Ref, frame.Op, errors.ErrNotBound)
	}
	scope, err := frame.Scope.ToScope()
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	switch scope.Kind {
	case domain.ScopeKindPrivate:
		if scope.User != username {
			return errorFrame(frame.Ref, frame.Op, errors.ErrForbidden)
		}
	case domain.ScopeKindGroup:
		if !c.groups.GroupActive(scope.Group) {
			return errorFrame(frame.Ref, frame.Op, errors.ErrGroupNotFound)
		}
		if !c.groups.IsMember(scope.Group, username) {
			return errorFrame(frame.Ref, frame.Op, errors.ErrNotMember)
		}
	}

	limit := frame.Limit
	if limit <= 0 || limit > c.historyLimit {
		limit = c.historyLimit
	}
	messages, cursor, err := c.engine.History(scope, frame.Cursor, limit)
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}

	reply := resultFrame(frame.Ref, frame.Op)
	reply.Scope = selectorFor(scope)
	reply.Cursor = cursor
	reply.Messages = make([]MessageBody, len(messages))
	for i, msg := range messages {
		reply.Messages[i] = toMessageBody(msg)
	}
	return reply
}

// handleSearch runs a full-text query over one scope, under the same
// authorization rules as history.
func (c *Core) handleSearch(conn *Conn, frame ClientFrame) ServerFrame {
	username, bound := c.registry.Username(conn.connectionID)
	if !bound {
		return errorFrame(frame.Ref, frame.Op, errors.ErrNotBound)
	}
	scope, err := frame.Scope.ToScope()
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	if strings.TrimSpace(frame.Query) == "" {
		return errorFrame(frame.Ref, frame.Op, errors.ErrInvalidMessage)
	}
	switch scope.Kind {
	case domain.ScopeKindPrivate:
		if scope.User != username {
			return errorFrame(frame.Ref, frame.Op, errors.ErrForbidden)
		}
	case domain.ScopeKindGroup:
		if !c.groups.GroupActive(scope.Group) {
			return errorFrame(frame.Ref, frame.Op, errors.ErrGroupNotFound)
		}
		if !c.groups.IsMember(scope.Group, username) {
			return errorFrame(frame.Ref, frame.Op, errors.ErrNotMember)
		}
	}

	limit := frame.Limit
	if limit <= 0 || limit > c.historyLimit {
		limit = c.historyLimit
	}
	messages, err := c.engine.Search(context.Background(), scope, frame.Query, limit)
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}

	reply := resultFrame(frame.Ref, frame.Op)
	reply.Scope = selectorFor(scope)
	reply.Messages = make([]MessageBody, len(messages))
	for i, msg := range messages {
		reply.Messages[i] = toMessageBody(msg)
	}
	return reply
}

// handlePresence returns the current snapshot and puts the session on the
// delta feed, so no further polling is needed.
func (c *Core) handlePresence(conn *Conn, frame ClientFrame) ServerFrame {
	if err := c.router.SubscribeFeed(conn.connectionID, event.PresenceChannel); err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}
	usernames := c.tracker.Snapshot()
	reply := resultFrame(frame.Ref, frame.Op)
	reply.Snapshot = &PresenceSnapshot{Usernames: usernames, Count: len(usernames)}
	return reply
}

func (c *Core) handleGroupOp(conn *Conn, frame ClientFrame) ServerFrame {
	username, bound := c.registry.Username(conn.connectionID)
	if !bound {
		return errorFrame(frame.Ref, frame.Op, errors.ErrNotBound)
	}
	payload := frame.Group
	if payload == nil && frame.Op != OpGroupList {
		return errorFrame(frame.Ref, frame.Op, errors.ErrInvalidMessage)
	}

	var view domain.GroupView
	var err error
	switch frame.Op {
	case OpGroupCreate:
		view, err = c.groups.Create(username, groups.CreateGroupRequest{
			Name:        payload.Name,
			Description: payload.Description,
			Type:        domain.GroupType(payload.Type),
			MaxMembers:  payload.MaxMembers,
		})
	case OpGroupJoin:
		if payload.Target != "" && payload.Target != username {
			view, err = c.groups.AddMember(payload.ID, username, payload.Target)
		} else {
			view, err = c.groups.Join(payload.ID, username)
		}
	case OpGroupLeave:
		view, err = c.groups.Leave(payload.ID, username)
		if err == nil {
			c.router.Unsubscribe(conn.connectionID, domain.Group(payload.ID))
		}
	case OpGroupUpdate:
		view, err = c.groups.Update(payload.ID, username, payload.Name, payload.Description)
	case OpGroupRemove:
		view, err = c.groups.RemoveMember(payload.ID, username, payload.Target)
	case OpGroupDelete:
		err = c.groups.Delete(payload.ID, username)
		if err == nil {
			return resultFrame(frame.Ref, frame.Op)
		}
	case OpGroupGet:
		view, err = c.groups.Get(payload.ID, username)
	case OpGroupList:
		views, listErr := c.groups.List(username)
		if listErr != nil {
			return errorFrame(frame.Ref, frame.Op, listErr)
		}
		reply := resultFrame(frame.Ref, frame.Op)
		reply.Groups = views
		return reply
	}
	if err != nil {
		return errorFrame(frame.Ref, frame.Op, err)
	}

	reply := resultFrame(frame.Ref, frame.Op)
	reply.Group = &view
	return reply
}
