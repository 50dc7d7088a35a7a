package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lucidbank/backend/internal/dispatcher"
	"github.com/lucidbank/backend/internal/models"
	"github.com/lucidbank/backend/internal/session"
)

const operationTimeout = 10 * time.Second

// client is one live websocket. Writes are serialized through mu because
// both the reader goroutine and the bus handler deliver frames to the same
// connection.
type client struct {
	conn    *websocket.Conn
	userID  string
	isAdmin bool
	mu      sync.Mutex
}

func (c *client) send(frame *models.OutboundFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(frame)
}

func (c *client) sendRaw(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Gateway owns the websocket endpoint of one instance. It upgrades
// connections, registers them in the shared directory, pumps inbound
// envelopes into the dispatcher and delivers outbound frames either to a
// local socket or across the bus to the instance that owns the target user.
type Gateway struct {
	upgrader   websocket.Upgrader
	directory  *session.Directory
	bus        *session.Bus
	dispatcher *dispatcher.Dispatcher
	ledger     dispatcher.Ledger
	logger     *zap.Logger
	jwtSecret  string
	tenantID   string

	mu      sync.RWMutex
	clients map[string]*client
}

func New(directory *session.Directory, bus *session.Bus, disp *dispatcher.Dispatcher, ledger dispatcher.Ledger, logger *zap.Logger, jwtSecret, tenantID string) *Gateway {
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		directory:  directory,
		bus:        bus,
		dispatcher: disp,
		ledger:     ledger,
		logger:     logger,
		jwtSecret:  jwtSecret,
		tenantID:   tenantID,
		clients:    make(map[string]*client),
	}
}

// Start subscribes the gateway to its instance channel on the bus.
func (g *Gateway) Start(ctx context.Context) error {
	return g.bus.Start(ctx, g.handleBusMessage)
}

// Stop unsubscribes from the bus and closes every local socket.
func (g *Gateway) Stop() error {
	err := g.bus.Stop()

	g.mu.Lock()
	for _, c := range g.clients {
		c.conn.Close()
	}
	g.clients = make(map[string]*client)
	g.mu.Unlock()

	return err
}

// HandleWS is the websocket endpoint. The token is validated before the
// upgrade; a connection that fails validation is never registered.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	claims, err := ValidateToken(r.URL.Query().Get("token"), g.jwtSecret)
	if err != nil {
		g.logger.Warn("websocket auth rejected", zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, userID: claims.UserID, isAdmin: claims.IsAdmin}
	g.addClient(c)

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	if err := g.directory.Register(ctx, claims.UserID, claims.UserName, claims.IsAdmin); err != nil {
		g.logger.Error("session registration failed",
			zap.String("user_id", claims.UserID), zap.Error(err))
	}
	cancel()

	g.logger.Info("client connected",
		zap.String("user_id", claims.UserID), zap.Bool("is_admin", claims.IsAdmin))

	g.sendInitialState(c)
	g.readLoop(c)
	g.disconnect(c)
}

func (g *Gateway) addClient(c *client) {
	g.mu.Lock()
	defer g.mu.Unlock()
	// A reconnect replaces the previous socket for the same user.
	if prev, ok := g.clients[c.userID]; ok {
		prev.conn.Close()
	}
	g.clients[c.userID] = c
}

func (g *Gateway) localClient(userID string) *client {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.clients[userID]
}

func (g *Gateway) disconnect(c *client) {
	c.conn.Close()

	g.mu.Lock()
	// Only remove the map entry if it is still this socket; a reconnect may
	// already have replaced it.
	if g.clients[c.userID] == c {
		delete(g.clients, c.userID)
	}
	stillLocal := g.clients[c.userID] != nil
	g.mu.Unlock()

	if stillLocal {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	removed, err := g.directory.Unregister(ctx, c.userID)
	if err != nil {
		g.logger.Error("session unregister failed",
			zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	g.logger.Info("client disconnected",
		zap.String("user_id", c.userID), zap.Bool("removed", removed))
}

// sendInitialState pushes the post-connect snapshot: admins get every
// account plus the connected-user roster, regular users get their own
// accounts and the history of their first active account.
func (g *Gateway) sendInitialState(c *client) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	if c.isAdmin {
		accounts, err := g.ledger.AllAccounts(ctx, g.tenantID)
		if err != nil {
			g.logger.Error("initial account listing failed", zap.Error(err))
			return
		}
		connections, err := g.directory.Connections(ctx)
		if err != nil {
			g.logger.Warn("connection roster unavailable", zap.Error(err))
		}
		frame := &models.OutboundFrame{
			DataRead:                &models.FramePayload{Accounts: accounts},
			IsAdmin:                 true,
			ConnectionsAndUsernames: connections,
		}
		if err := c.send(frame); err != nil {
			g.logger.Warn("initial state send failed", zap.Error(err))
		}
		return
	}

	accounts, err := g.ledger.AccountsByUser(ctx, c.userID)
	if err != nil {
		g.logger.Error("initial account listing failed",
			zap.String("user_id", c.userID), zap.Error(err))
		return
	}
	if err := c.send(&models.OutboundFrame{DataRead: &models.FramePayload{Accounts: accounts}}); err != nil {
		g.logger.Warn("initial state send failed", zap.Error(err))
		return
	}

	for _, account := range accounts {
		if account.IsDisabled {
			continue
		}
		transactions, err := g.ledger.AccountTransactions(ctx, account.TenantID, account.AccountID)
		if err != nil {
			g.logger.Warn("initial history load failed",
				zap.String("account_id", account.AccountID), zap.Error(err))
			return
		}
		if err := c.send(&models.OutboundFrame{DataRead: &models.FramePayload{Transactions: transactions}}); err != nil {
			g.logger.Warn("initial state send failed", zap.Error(err))
		}
		return
	}
}

func (g *Gateway) readLoop(c *client) {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("websocket read failed",
					zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		g.handleInbound(c, raw)
	}
}

// handleInbound routes one raw envelope. Self-addressed and locally owned
// targets dispatch here; targets owned by another instance forward the
// envelope over the bus so the owning instance executes it. A malformed
// envelope answers the sender with an error frame and never tears down the
// connection.
func (g *Gateway) handleInbound(c *client, raw []byte) {
	cmd, err := models.DecodeEnvelope(raw)
	if err != nil {
		g.logger.Warn("rejected inbound command",
			zap.String("user_id", c.userID), zap.Error(err))
		if sendErr := c.send(models.ErrorFrame(err.Error())); sendErr != nil {
			g.logger.Warn("error frame send failed", zap.Error(sendErr))
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	caller := dispatcher.Caller{UserID: c.userID, IsAdmin: c.isAdmin}

	if cmd.To == "" || cmd.To == models.TargetSelf || cmd.To == c.userID || g.localClient(cmd.To) != nil {
		g.dispatch(ctx, cmd, caller)
		return
	}

	instanceID, found, err := g.directory.Lookup(ctx, cmd.To)
	if err != nil {
		g.logger.Error("session lookup failed",
			zap.String("target", cmd.To), zap.Error(err))
	}
	if !found || instanceID == g.directory.InstanceID() {
		// The target is offline or the mapping is stale; the command still
		// executes, delivery is best effort.
		g.dispatch(ctx, cmd, caller)
		return
	}

	err = g.bus.Publish(ctx, instanceID, session.BusMessage{
		Kind:       session.KindDispatch,
		FromUserID: c.userID,
		FromAdmin:  c.isAdmin,
		Envelope:   json.RawMessage(raw),
	})
	if err != nil {
		g.logger.Error("envelope forward failed",
			zap.String("instance_id", instanceID), zap.Error(err))
		g.dispatch(ctx, cmd, caller)
	}
}

// dispatch executes a command and fans the resulting frame out to its
// targets. Dispatcher errors were already folded into the frame for
// business rejections; anything else is an infrastructure fault answered
// with a generic error frame.
func (g *Gateway) dispatch(ctx context.Context, cmd *models.Command, caller dispatcher.Caller) {
	frame, targets, err := g.dispatcher.Dispatch(ctx, cmd, caller)
	if err != nil {
		g.logger.Error("command dispatch failed",
			zap.String("user_id", caller.UserID), zap.Error(err))
		frame = models.ErrorFrame("internal error")
		targets = []string{caller.UserID}
	}
	if frame == nil {
		return
	}
	g.deliver(ctx, frame, targets)
}

// deliver sends one frame to each target user: directly when the user's
// socket is local, over the bus when another instance owns it.
func (g *Gateway) deliver(ctx context.Context, frame *models.OutboundFrame, targets []string) {
	payload, err := json.Marshal(frame)
	if err != nil {
		g.logger.Error("frame encoding failed", zap.Error(err))
		return
	}

	for _, target := range targets {
		if local := g.localClient(target); local != nil {
			if err := local.sendRaw(payload); err != nil {
				g.logger.Warn("frame send failed",
					zap.String("user_id", target), zap.Error(err))
			}
			continue
		}

		instanceID, found, err := g.directory.Lookup(ctx, target)
		if err != nil {
			g.logger.Error("session lookup failed",
				zap.String("target", target), zap.Error(err))
			continue
		}
		if !found || instanceID == g.directory.InstanceID() {
			// Not connected anywhere: drop, notifications are best effort.
			continue
		}

		err = g.bus.Publish(ctx, instanceID, session.BusMessage{
			Kind:     session.KindDeliver,
			ToUserID: target,
			Frame:    json.RawMessage(payload),
		})
		if err != nil {
			g.logger.Warn("frame forward failed",
				zap.String("instance_id", instanceID), zap.Error(err))
		}
	}
}

// handleBusMessage reacts to traffic on this instance's channel: finished
// frames are written to the local socket, forwarded envelopes are executed
// here on behalf of the remote caller.
func (g *Gateway) handleBusMessage(msg session.BusMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	switch msg.Kind {
	case session.KindDeliver:
		local := g.localClient(msg.ToUserID)
		if local == nil {
			g.logger.Debug("deliver target not local", zap.String("user_id", msg.ToUserID))
			return
		}
		if err := local.sendRaw(msg.Frame); err != nil {
			g.logger.Warn("frame send failed",
				zap.String("user_id", msg.ToUserID), zap.Error(err))
		}
	case session.KindDispatch:
		cmd, err := models.DecodeEnvelope(msg.Envelope)
		if err != nil {
			g.logger.Warn("rejected forwarded command", zap.Error(err))
			return
		}
		g.dispatch(ctx, cmd, dispatcher.Caller{UserID: msg.FromUserID, IsAdmin: msg.FromAdmin})
	default:
		g.logger.Warn("unknown bus message kind", zap.String("kind", msg.Kind))
	}
}
