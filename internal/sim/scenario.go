package sim

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sensornet/internal/gateway"
)

type NodeCfg struct {
	Count      int           `yaml:"count" json:"count"`
	RelayShare float64       `yaml:"relay_share" json:"relay_share"` // fraction begun in relay mode
	JoinDelay  time.Duration `yaml:"join_delay" json:"join_delay"`
	// AutoIDs has every node request its identifier from the gateway.
	// Identifier responses are one-hop broadcasts, so this only works
	// in topologies where every joining node can hear the gateway
	// directly (star); deeper topologies use static ids.
	AutoIDs bool `yaml:"auto_ids" json:"auto_ids"`
}

type TrafficCfg struct {
	MsgPerNodePerMin float64 `yaml:"msg_per_node_per_min" json:"msg_per_node_per_min"`
	AckShare         float64 `yaml:"ack_share" json:"ack_share"`
}

type RadioCfg struct {
	PowerLevel byte `yaml:"power_level" json:"power_level"`
	Channel    byte `yaml:"channel" json:"channel"`
	DataRate   byte `yaml:"data_rate" json:"data_rate"`
}

type GatewayCfg struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Metric  bool   `yaml:"metric" json:"metric"`
	Bridge  gateway.Config `yaml:"bridge" json:"bridge"`
}

type LogCfg struct {
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

type Scenario struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Seed     int64         `yaml:"seed" json:"seed"`
	Topology string        `yaml:"topology" json:"topology"` // chain | star | grid | random
	Nodes    NodeCfg       `yaml:"nodes" json:"nodes"`
	Traffic  TrafficCfg    `yaml:"traffic" json:"traffic"`
	Radio    RadioCfg      `yaml:"radio" json:"radio"`
	Gateway  GatewayCfg    `yaml:"gateway" json:"gateway"`
	Logging  LogCfg        `yaml:"logging" json:"logging"`
}

// Default returns a scenario with every field at its default.
func Default() *Scenario {
	sc := &Scenario{}
	sc.applyDefaults()
	return sc
}

func LoadScenario(path string) (*Scenario, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc := &Scenario{}
	if yaml.Unmarshal(f, sc) != nil {
		// fallback JSON
		if err := json.Unmarshal(f, sc); err != nil {
			return nil, err
		}
	}
	sc.applyDefaults()
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *Scenario) validate() error {
	switch sc.Topology {
	case "chain", "star", "grid", "random":
		return nil
	default:
		return fmt.Errorf("unknown topology %q", sc.Topology)
	}
}

func (sc *Scenario) applyDefaults() {
	if sc.Duration == 0 {
		sc.Duration = 30 * time.Second
	}
	if sc.Topology == "" {
		sc.Topology = "chain"
	}
	if sc.Nodes.Count == 0 {
		sc.Nodes.Count = 5
	}
	if sc.Nodes.RelayShare == 0 {
		sc.Nodes.RelayShare = 1.0
	}
	if sc.Nodes.JoinDelay == 0 {
		sc.Nodes.JoinDelay = time.Second
	}
	if sc.Traffic.MsgPerNodePerMin == 0 {
		sc.Traffic.MsgPerNodePerMin = 12
	}
	if sc.Radio.Channel == 0 {
		sc.Radio = RadioCfg{PowerLevel: 3, Channel: 76, DataRate: 1}
	}
}
