// Package gateway bridges the mesh's root node to a controller over
// MQTT: everything the mesh sends up is published to the broker, and
// commands from the broker are injected back into the mesh.
package gateway

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"sensornet/internal/logging"
	"sensornet/internal/node"
	"sensornet/internal/protocol"
)

// Config selects the broker and topic namespace.
type Config struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"client_id"`
	TopicOut string `yaml:"topic_out" json:"topic_out"`
	TopicIn  string `yaml:"topic_in" json:"topic_in"`
}

// DefaultConfig fills the topic namespace; the broker must be set by
// the caller.
func DefaultConfig(broker string) Config {
	return Config{
		Broker:   broker,
		ClientID: "sensornet-gateway",
		TopicOut: "sensornet/out",
		TopicIn:  "sensornet/in",
	}
}

// Report is the msgpack document published for every mesh message that
// reaches the gateway.
type Report struct {
	Sender   byte   `msgpack:"sender"`
	SensorID byte   `msgpack:"sensor_id"`
	Type     byte   `msgpack:"type"`
	SubType  byte   `msgpack:"sub_type"`
	IsAck    bool   `msgpack:"is_ack"`
	Payload  []byte `msgpack:"payload"`
}

// Command is the msgpack document a controller publishes to send a
// message into the mesh.
type Command struct {
	Destination byte   `msgpack:"destination"`
	SensorID    byte   `msgpack:"sensor_id"`
	Type        byte   `msgpack:"type"`
	SubType     byte   `msgpack:"sub_type"`
	Ack         bool   `msgpack:"ack"`
	Payload     []byte `msgpack:"payload"`
}

// Bridge connects one gateway node to one broker. Inbound commands are
// queued and only applied from Pump, so the node keeps its single
// mutator: the loop that also calls Process.
type Bridge struct {
	cfg      Config
	client   mqtt.Client
	gw       *node.Node
	log      logging.Logger
	commands chan Command
}

// New connects to the broker and subscribes for inbound commands.
func New(cfg Config, gw *node.Node, log logging.Logger) (*Bridge, error) {
	b := &Bridge{
		cfg:      cfg,
		gw:       gw,
		log:      log,
		commands: make(chan Command, 64),
	}

	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to broker: %w", token.Error())
	}

	topic := cfg.TopicIn + "/#"
	token := b.client.Subscribe(topic, 1, b.onCommand)
	if token.Wait(); token.Error() != nil {
		b.client.Disconnect(250)
		return nil, fmt.Errorf("subscribing to %s: %w", topic, token.Error())
	}
	return b, nil
}

// onCommand runs on the MQTT client's goroutine; it only queues.
func (b *Bridge) onCommand(_ mqtt.Client, m mqtt.Message) {
	var cmd Command
	if err := msgpack.Unmarshal(m.Payload(), &cmd); err != nil {
		b.log.Warn("dropping malformed command", "topic", m.Topic(), "err", err)
		return
	}
	select {
	case b.commands <- cmd:
	default:
		b.log.Warn("dropping command: queue full")
	}
}

// Pump applies queued controller commands to the mesh. Call it from
// the same loop that calls the gateway node's Process.
func (b *Bridge) Pump() {
	for {
		select {
		case cmd := <-b.commands:
			b.gw.Send(&protocol.Envelope{
				Destination: cmd.Destination,
				SensorID:    cmd.SensorID,
				Type:        cmd.Type,
				SubType:     cmd.SubType,
				Payload:     cmd.Payload,
			}, cmd.Ack)
		default:
			return
		}
	}
}

// HandleMeshMessage publishes a message the gateway node received.
// Install it as (or call it from) the gateway node's message callback.
func (b *Bridge) HandleMeshMessage(e *protocol.Envelope) {
	report := Report{
		Sender:   e.Sender,
		SensorID: e.SensorID,
		Type:     e.Type,
		SubType:  e.SubType,
		IsAck:    e.IsAck,
		Payload:  e.Payload,
	}
	data, err := msgpack.Marshal(&report)
	if err != nil {
		b.log.Error("encoding report", "err", err)
		return
	}

	topic := fmt.Sprintf("%s/%d/%d/%d", b.cfg.TopicOut, e.Sender, e.SensorID, e.Type)
	token := b.client.Publish(topic, 1, false, data)
	if token.Wait(); token.Error() != nil {
		b.log.Warn("publish failed", "topic", topic, "err", token.Error())
	}
}

// Disconnect performs a clean disconnect from the broker.
func (b *Bridge) Disconnect() {
	b.client.Disconnect(250)
}
