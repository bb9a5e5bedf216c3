package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/AaronLay10/soundstage/internal/events"
)

// commandTimeout bounds how long a broker command waits for the session.
const commandTimeout = 5 * time.Second

// Conn is the part of Client the bridge needs.
type Conn interface {
	Subscribe(topic string, handler paho.MessageHandler) error
	Publish(topic string, payload []byte) error
	IsConnected() bool
}

// Operator drives the session. session.Runner implements it.
type Operator interface {
	Start(ctx context.Context, sceneID string) error
	Step(ctx context.Context) error
	Jump(ctx context.Context, sceneID string) error
}

// Command is the JSON payload accepted on <prefix>/commands.
type Command struct {
	Command string `json:"command"`
	Scene   string `json:"scene,omitempty"`
}

var ErrUnknownCommand = errors.New("unknown command")

// Bridge turns broker messages into operator commands and publishes bus
// events back to the broker.
type Bridge struct {
	conn   Conn
	op     Operator
	prefix string
	em     events.Emitter
}

// NewBridge creates a bridge rooted at prefix.
func NewBridge(conn Conn, op Operator, prefix string, em events.Emitter) *Bridge {
	return &Bridge{
		conn:   conn,
		op:     op,
		prefix: strings.TrimSuffix(prefix, "/"),
		em:     em,
	}
}

func (b *Bridge) CommandTopic() string { return b.prefix + "/commands" }
func (b *Bridge) EventTopic() string   { return b.prefix + "/events" }

// Handle parses and executes one command payload.
func (b *Bridge) Handle(ctx context.Context, payload []byte) error {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("invalid command payload: %w", err)
	}

	switch cmd.Command {
	case "step":
		return b.op.Step(ctx)
	case "start":
		if cmd.Scene == "" {
			return errors.New("start requires a scene")
		}
		return b.op.Start(ctx, cmd.Scene)
	case "jump":
		if cmd.Scene == "" {
			return errors.New("jump requires a scene")
		}
		return b.op.Jump(ctx, cmd.Scene)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Command)
	}
}

func (b *Bridge) handler() paho.MessageHandler {
	return func(_ paho.Client, msg paho.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		if err := b.Handle(ctx, msg.Payload()); err != nil && b.em != nil {
			b.em.Emit("warn", "system.error", "mqtt command failed", map[string]interface{}{
				"topic": msg.Topic(),
				"error": err.Error(),
			})
		}
	}
}

// Run subscribes to the command topic and forwards bus events until ctx is
// done. Events are dropped while the broker is unreachable. A failed
// subscribe is retried by the client on its next connect.
func (b *Bridge) Run(ctx context.Context, bus *events.Bus) {
	if err := b.conn.Subscribe(b.CommandTopic(), b.handler()); err != nil {
		log.Printf("mqtt: subscribe %s deferred: %v", b.CommandTopic(), err)
	} else {
		log.Printf("mqtt: subscribed to %s", b.CommandTopic())
	}

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			b.forward(e)
		}
	}
}

func (b *Bridge) forward(e events.Event) {
	// link status stays local
	if strings.HasPrefix(e.Name, "mqtt.") || !b.conn.IsConnected() {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := b.conn.Publish(b.EventTopic(), data); err != nil {
		log.Printf("mqtt: publish %s failed: %v", e.Name, err)
	}
}
