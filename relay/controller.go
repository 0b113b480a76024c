package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mk6i/stomp-relay/eventlog"
	"github.com/mk6i/stomp-relay/messaging"
	"github.com/mk6i/stomp-relay/metrics"
	"github.com/mk6i/stomp-relay/stompframe"
	"github.com/mk6i/stomp-relay/tcpclient"
)

// Config carries the recognized Relay Controller options (§4.1). Empty
// host, port and credential fields and non-positive reconnect limits are
// replaced by DefaultConfig's defaults by NewController; zero heartbeat
// intervals are kept as given, since 0 disables heartbeats.
type Config struct {
	RelayHost string
	RelayPort string

	ClientLogin    string
	ClientPasscode string
	SystemLogin    string
	SystemPasscode string

	SystemHeartbeatSendInterval    time.Duration
	SystemHeartbeatReceiveInterval time.Duration

	VirtualHost         string
	DestinationPrefixes []string

	TcpClient         tcpclient.Client
	HeaderInitializer func(headers map[string]any)

	ReconnectRateLimit float64
	ReconnectBurst     int

	// Metrics and EventLog are optional observers of broker availability
	// and frame traffic; both are nil-safe and neither is a Relay
	// Controller option in the distilled sense, just process wiring.
	Metrics  *metrics.Metrics
	EventLog *eventlog.Store
}

// DefaultConfig returns the recognized-option defaults from §4.1.
func DefaultConfig() Config {
	return Config{
		RelayHost:                      "127.0.0.1",
		RelayPort:                      "61613",
		ClientLogin:                    "guest",
		ClientPasscode:                 "guest",
		SystemLogin:                    "guest",
		SystemPasscode:                 "guest",
		SystemHeartbeatSendInterval:    10000 * time.Millisecond,
		SystemHeartbeatReceiveInterval: 10000 * time.Millisecond,
		ReconnectRateLimit:             2,
		ReconnectBurst:                 3,
	}
}

type dispatchFunc func(ctx context.Context, sessionID string, acc *stompframe.Accessor) error

// Controller is the Relay Controller (§4.1): it subscribes to the
// inbound application channel, classifies each message, and dispatches
// it to the right Session Handler. Command dispatch is a small
// map[string]dispatchFunc table built once at construction, mirroring
// the teacher's router.go Router/HandlerFunc pattern rather than a long
// switch.
type Controller struct {
	cfg Config

	logger       *slog.Logger
	appChannel   messaging.Channel
	tcpClient    tcpclient.Client
	registry     *Registry
	availability *AvailabilityPublisher
	metrics      *metrics.Metrics
	eventLog     *eventlog.Store

	clientLogin, clientPasscode string
	systemLogin, systemPasscode string
	systemHeartbeatSendInterval, systemHeartbeatReceiveInterval time.Duration
	virtualHost         string
	destinationPrefixes []string
	headerInitializer   func(headers map[string]any)

	dispatch map[string]dispatchFunc

	unsubscribe func()
}

// NewController wires a Controller. appChannel is the application bus
// both client-originated and server-originated messages arrive on.
func NewController(cfg Config, appChannel messaging.Channel, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.RelayHost == "" {
		cfg.RelayHost = def.RelayHost
	}
	if cfg.RelayPort == "" {
		cfg.RelayPort = def.RelayPort
	}
	if cfg.ClientLogin == "" {
		cfg.ClientLogin = def.ClientLogin
	}
	if cfg.ClientPasscode == "" {
		cfg.ClientPasscode = def.ClientPasscode
	}
	if cfg.SystemLogin == "" {
		cfg.SystemLogin = def.SystemLogin
	}
	if cfg.SystemPasscode == "" {
		cfg.SystemPasscode = def.SystemPasscode
	}
	if cfg.ReconnectRateLimit <= 0 {
		cfg.ReconnectRateLimit = def.ReconnectRateLimit
	}
	if cfg.ReconnectBurst <= 0 {
		cfg.ReconnectBurst = def.ReconnectBurst
	}

	tcpClient := cfg.TcpClient
	if tcpClient == nil {
		tcpClient = tcpclient.NewDefaultClient(cfg.RelayHost, cfg.RelayPort, logger, cfg.ReconnectRateLimit, cfg.ReconnectBurst)
	}

	c := &Controller{
		cfg:                            cfg,
		logger:                         logger,
		appChannel:                     appChannel,
		tcpClient:                      tcpClient,
		registry:                       NewRegistry(),
		availability:                   NewAvailabilityPublisher(logger),
		clientLogin:                    cfg.ClientLogin,
		clientPasscode:                 cfg.ClientPasscode,
		systemLogin:                    cfg.SystemLogin,
		systemPasscode:                 cfg.SystemPasscode,
		systemHeartbeatSendInterval:    cfg.SystemHeartbeatSendInterval,
		systemHeartbeatReceiveInterval: cfg.SystemHeartbeatReceiveInterval,
		virtualHost:                    cfg.VirtualHost,
		destinationPrefixes:            cfg.DestinationPrefixes,
		headerInitializer:              cfg.HeaderInitializer,
		metrics:                        cfg.Metrics,
		eventLog:                       cfg.EventLog,
	}

	c.dispatch = map[string]dispatchFunc{
		stompframe.CmdConnect:    c.dispatchConnect,
		stompframe.CmdStomp:      c.dispatchConnect,
		stompframe.CmdDisconnect: c.dispatchToExisting,
	}

	// Metrics and the eventlog are pure observers of availability: they
	// cannot block or fail the publish, and the publisher doesn't know
	// they exist.
	c.availability.Subscribe(func(ev AvailabilityEvent) {
		if ev.Available {
			c.metrics.RecordBrokerAvailable()
		} else {
			c.metrics.RecordBrokerUnavailable()
		}
	})
	if c.eventLog != nil {
		c.availability.Subscribe(func(ev AvailabilityEvent) {
			if err := c.eventLog.Append(context.Background(), ev.Available, ev.At); err != nil {
				c.logger.Warn("failed appending availability event", "error", err)
			}
		})
	}

	return c
}

// Start subscribes to the application channel and brings up the system
// session (§4.1 Startup).
func (c *Controller) Start(ctx context.Context) error {
	c.unsubscribe = c.appChannel.Subscribe(func(ctx context.Context, msg messaging.Message) {
		if err := c.Dispatch(ctx, msg); err != nil {
			c.logger.Warn("dropping undeliverable message", "error", err)
		}
	})

	system := NewSessionHandler(SystemSessionID, RoleSystem, c)
	c.registry.Insert(SystemSessionID, system)
	c.metrics.SetSessionsActive(c.registry.Size())
	return c.tcpClient.ConnectWithReconnect(ctx, system, tcpclient.FixedReconnectStrategy{Interval: 5000 * time.Millisecond})
}

// Shutdown implements §4.1 Shutdown: publish UNAVAILABLE, unsubscribe,
// close the TCP client, logging and swallowing failures past that point.
func (c *Controller) Shutdown(ctx context.Context) {
	c.availability.PublishUnavailable()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5000*time.Millisecond)
	defer cancel()
	if err := c.tcpClient.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("tcp client shutdown reported an error", "error", err)
	}
}

func (c *Controller) systemHandler() *SessionHandler {
	h, _ := c.registry.Lookup(SystemSessionID)
	return h
}

func (c *Controller) brokerAvailable() bool {
	h := c.systemHandler()
	return h != nil && h.IsStompConnected()
}

// Dispatch implements the §4.1 dispatch algorithm for one inbound
// application message.
func (c *Controller) Dispatch(ctx context.Context, msg messaging.Message) error {
	sessionID, hasSessionID := sessionIDOf(msg)

	if !c.brokerAvailable() {
		if !hasSessionID || sessionID == SystemSessionID {
			return &messaging.DeliveryFailure{Reason: brokerUnavailableMsg}
		}
		c.logger.Debug("dropping message, broker unavailable", "sessionId", sessionID)
		return nil
	}

	acc, err := c.accessorFor(msg)
	if err != nil {
		c.logger.Warn("dropping message with no usable accessor", "error", err)
		return nil
	}

	if !hasSessionID {
		generic := messaging.NewGenericAccessor(&msg)
		if generic.MessageType() != messaging.TypeMessage {
			c.logger.Warn("dropping session-less non-MESSAGE", "type", generic.MessageType())
			return nil
		}
		sessionID = SystemSessionID
		acc.SetSessionID(sessionID)
	}

	if stompframe.CommandRequiresDestination(acc.Command()) {
		dest, _ := acc.Destination()
		if !c.destinationAllowed(dest) {
			c.logger.Debug("dropping message, destination not in allowed prefixes", "destination", dest)
			return nil
		}
	}

	fn, ok := c.dispatch[acc.Command()]
	if !ok {
		fn = c.dispatchToExisting
	}
	return fn(ctx, sessionID, acc)
}

func (c *Controller) destinationAllowed(dest string) bool {
	if len(c.destinationPrefixes) == 0 {
		return true
	}
	for _, p := range c.destinationPrefixes {
		if strings.HasPrefix(dest, p) {
			return true
		}
	}
	return false
}

func (c *Controller) accessorFor(msg messaging.Message) (*stompframe.Accessor, error) {
	if len(msg.Headers) == 0 && len(msg.Payload) == 0 {
		return nil, ErrMalformedAccessor
	}
	generic := messaging.NewGenericAccessor(&msg)
	return stompframe.FromGeneric(generic, msg.Payload), nil
}

func sessionIDOf(msg messaging.Message) (string, bool) {
	v, ok := msg.Headers[messaging.HeaderSessionID]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// dispatchConnect implements §4.1 step 6's CONNECT case. The relay
// credentials and virtual host that would be "injected into the
// accessor" per the spec's wording are instead applied directly by the
// new handler's AfterConnected, since that is what actually builds the
// outbound CONNECT frame. The one piece of acc that does carry forward
// is the client's own accept-version, when the inbound message exposed
// one (§6: client sessions echo it rather than the relay's default).
func (c *Controller) dispatchConnect(ctx context.Context, sessionID string, acc *stompframe.Accessor) error {
	handler := NewSessionHandler(sessionID, RoleClient, c)
	if av, ok := acc.AcceptVersion(); ok {
		handler.SetClientAcceptVersion(av)
	}
	if previous, replaced := c.registry.Insert(sessionID, handler); replaced {
		c.logger.Info("session displaced by concurrent CONNECT", "sessionId", sessionID)
		previous.ClearConnection()
	}
	c.metrics.SetSessionsActive(c.registry.Size())

	return c.tcpClient.Connect(ctx, handler)
}

func (c *Controller) dispatchToExisting(ctx context.Context, sessionID string, acc *stompframe.Accessor) error {
	handler, ok := c.registry.Lookup(sessionID)
	if !ok {
		c.logger.Warn("no session handler registered, dropping", "sessionId", sessionID, "command", acc.Command())
		return nil
	}
	err := <-handler.Forward(ctx, acc)
	if err != nil && !errors.Is(err, ErrBrokerUnavailable) {
		return fmt.Errorf("forwarding %s for session %s: %w", acc.Command(), sessionID, err)
	}
	return err
}

// NewClientSessionID mints a session id for an inbound CONNECT that
// arrived without one already assigned by the transport in front of the
// relay (e.g. a WebSocket layer that hasn't stamped its own session id
// onto the message yet).
func NewClientSessionID() string {
	return uuid.New().String()
}
