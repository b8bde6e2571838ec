// Package connector implements the per-client session state machine of
// spec §4.5: Authenticating -> Negotiating -> Streaming -> Closing ->
// Closed, ferrying sync-protocol frames between a Transport and the
// workspace's shared Replica/Hub.
package connector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Polqt/workspacesync/internal/auth"
	"github.com/Polqt/workspacesync/internal/crdt"
	"github.com/Polqt/workspacesync/internal/hub"
	"github.com/Polqt/workspacesync/internal/metrics"
)

// Close codes, per spec §6.
const (
	CloseNormal   = 1000
	CloseShutdown = 1001
	ClosePolicy   = 1008
	CloseInternal = 1011
)

// State is a Connector's position in its session lifecycle.
type State int

const (
	StateAuthenticating State = iota
	StateNegotiating
	StateStreaming
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateNegotiating:
		return "negotiating"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connector drives one client's session from upgrade to close.
type Connector struct {
	transport Transport
	keyCtx    *auth.KeyContext
	userStore auth.UserStore
	manager   *Manager

	// id uniquely identifies this connection, distinct from the shared
	// Replica's own (process-lifetime, per-workspace) ClientID: the Hub
	// uses it to skip echoing this connector's own changes back to it,
	// which a Replica-level id can't do since one Replica backs every
	// connector on a workspace.
	id string

	workspaceID string
	token       string
	userID      string

	replica *crdt.Replica
	h       *hub.Hub
	sub     hub.Subscriber

	state  State
	logger zerolog.Logger
}

// New creates a Connector for one upgraded connection. workspaceID and
// token come from the connect URL (spec §6: "/<workspace-id>?token=<opaque>").
func New(transport Transport, workspaceID, token string, keyCtx *auth.KeyContext, userStore auth.UserStore, manager *Manager, logger zerolog.Logger) *Connector {
	return &Connector{
		transport:   transport,
		keyCtx:      keyCtx,
		userStore:   userStore,
		manager:     manager,
		id:          uuid.NewString(),
		workspaceID: workspaceID,
		token:       token,
		state:       StateAuthenticating,
		logger:      logger,
	}
}

// State returns the Connector's current lifecycle state.
func (c *Connector) State() State { return c.state }

// Run drives the Connector through its full lifecycle, blocking until
// the session reaches Closed.
func (c *Connector) Run(ctx context.Context) {
	if !c.authenticate(ctx) {
		metrics.ConnectionsTotal.WithLabelValues("unauthorized").Inc()
		return
	}
	if !c.negotiate(ctx) {
		metrics.ConnectionsTotal.WithLabelValues("negotiate_failed").Inc()
		return
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	c.stream(ctx)
	metrics.ConnectionsTotal.WithLabelValues("closed").Inc()
}

// authenticate implements the Authenticating state: decrypt the token,
// validate it and workspace read access with the user store. Any
// failure closes with policy code 1008 (spec §4.5).
func (c *Connector) authenticate(ctx context.Context) bool {
	rt, err := c.keyCtx.DecodeRefreshToken(c.token)
	if err != nil {
		c.reject("invalid token")
		return false
	}

	valid, err := c.userStore.VerifyRefreshToken(ctx, rt)
	if err != nil || !valid {
		c.reject("token not valid")
		return false
	}

	canRead, err := c.userStore.CanReadWorkspace(ctx, rt.UserID, c.workspaceID)
	if err != nil || !canRead {
		c.reject("forbidden workspace")
		return false
	}

	c.userID = rt.UserID
	c.state = StateNegotiating
	return true
}

func (c *Connector) reject(reason string) {
	c.logger.Warn().Str("workspace_id", c.workspaceID).Str("reason", reason).Msg("unauthorized connector rejected")
	_ = c.transport.Close(ClosePolicy, "Unauthorized")
	c.state = StateClosed
}

// negotiate implements the Negotiating state: materialize the shared
// Replica, attach to its Hub, and send the initial sync message.
func (c *Connector) negotiate(ctx context.Context) bool {
	replica, h, err := c.manager.Acquire(c.workspaceID)
	if err != nil {
		c.logger.Error().Err(err).Str("workspace_id", c.workspaceID).Msg("replica negotiation failed")
		_ = c.transport.Close(CloseInternal, "internal error")
		c.state = StateClosed
		return false
	}
	c.replica = replica
	c.h = h
	c.sub = h.Subscribe(c.id)

	frames, err := replica.BuildInitMessage()
	if err != nil {
		c.logger.Error().Err(err).Str("workspace_id", c.workspaceID).Msg("build init message failed")
		h.Unsubscribe(c.sub)
		_ = c.transport.Close(CloseInternal, "internal error")
		c.state = StateClosed
		return false
	}
	for _, f := range frames {
		data, err := crdt.EncodeFrame(f)
		if err != nil {
			c.logger.Error().Err(err).Msg("encode init frame failed")
			continue
		}
		if err := c.transport.WriteFrame(data); err != nil {
			h.Unsubscribe(c.sub)
			c.state = StateClosed
			return false
		}
	}

	c.state = StateStreaming
	metrics.ConnectionsTotal.WithLabelValues("authenticated").Inc()
	return true
}

// stream implements the Streaming state: concurrently pump inbound
// socket frames into the Replica and outbound Hub events onto the
// socket, until either side signals teardown.
func (c *Connector) stream(ctx context.Context) {
	closeCode := CloseNormal
	closeReason := "normal closure"

	inbound := make(chan []byte)
	inboundErr := make(chan error, 1)
	go func() {
		for {
			data, err := c.transport.ReadFrame()
			if err != nil {
				inboundErr <- err
				return
			}
			inbound <- data
		}
	}()

streamLoop:
	for {
		select {
		case <-ctx.Done():
			closeCode, closeReason = CloseShutdown, "server shutdown"
			break streamLoop

		case err := <-inboundErr:
			c.logger.Debug().Err(err).Str("workspace_id", c.workspaceID).Msg("connector socket closed")
			break streamLoop

		case data := <-inbound:
			c.handleInboundFrame(data)

		case ev, ok := <-c.sub:
			if !ok {
				break streamLoop
			}
			code, reason, shouldClose := c.handleHubEvent(ev)
			if shouldClose {
				closeCode, closeReason = code, reason
				break streamLoop
			}
		}
	}

	c.closeSession(closeCode, closeReason)
}

func (c *Connector) handleInboundFrame(data []byte) {
	frame, err := crdt.DecodeFrame(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("workspace_id", c.workspaceID).Msg("dropping malformed inbound frame")
		return
	}

	timer := metrics.NewTimer()
	reply, err := c.replica.HandleMessage(frame, c.id)
	timer.ObserveDurationVec(metrics.FrameHandleDuration, fmt.Sprintf("%T", frame))
	if err != nil {
		c.logger.Warn().Err(err).Str("workspace_id", c.workspaceID).Msg("dropping frame that failed to apply")
		return
	}
	if reply == nil {
		return
	}
	out, err := crdt.EncodeFrame(reply)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode reply frame failed")
		return
	}
	if err := c.transport.WriteFrame(out); err != nil {
		c.logger.Debug().Err(err).Msg("write reply frame failed")
	}
}

// handleHubEvent forwards a Hub event to the socket, or decides the
// session must close. Returns (code, reason, true) when the caller
// should stop streaming.
func (c *Connector) handleHubEvent(ev hub.Event) (int, string, bool) {
	switch e := ev.(type) {
	case hub.AwarenessDeltaEvent:
		c.forward(crdt.AwarenessUpdate{Update: e.Update})
		return 0, "", false
	case hub.ContentDeltaEvent:
		c.forward(crdt.Update{Update: e.Update})
		return 0, "", false
	case hub.CloseUserEvent:
		if e.UserID == c.userID {
			return ClosePolicy, e.Reason, true
		}
		return 0, "", false
	case hub.CloseAllEvent:
		return ClosePolicy, e.Reason, true
	case hub.Lagged:
		c.logger.Warn().Int("dropped", e.Dropped).Str("workspace_id", c.workspaceID).Msg("connector lagged behind hub, resyncing")
		c.resync()
		return 0, "", false
	default:
		panic(fmt.Sprintf("connector: unreachable hub event variant %T", ev))
	}
}

func (c *Connector) resync() {
	frames, err := c.replica.BuildInitMessage()
	if err != nil {
		c.logger.Error().Err(err).Msg("resync after lag failed")
		return
	}
	for _, f := range frames {
		c.forward(f)
	}
}

func (c *Connector) forward(f crdt.Frame) {
	data, err := crdt.EncodeFrame(f)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode forwarded frame failed")
		return
	}
	if err := c.transport.WriteFrame(data); err != nil {
		c.logger.Debug().Err(err).Msg("write forwarded frame failed")
	}
}

// closeSession implements the Closing state: send the close frame,
// drop the Hub subscription, trigger Registry GC if now empty.
func (c *Connector) closeSession(code int, reason string) {
	c.state = StateClosing
	_ = c.transport.Close(code, reason)
	if c.h != nil && c.sub != nil {
		c.h.Unsubscribe(c.sub)
		c.manager.Release(c.workspaceID)
	}
	c.state = StateClosed
}
