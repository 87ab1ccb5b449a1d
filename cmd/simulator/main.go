package main

import (
	"flag"
	"fmt"
	"log"

	"sensornet/internal/eventbus"
	"sensornet/internal/logging"
	"sensornet/internal/metrics"
	"sensornet/internal/radio"
	"sensornet/internal/server"
	"sensornet/internal/sim"
)

func main() {
	scenarioPath := flag.String("scenario", "", "scenario YAML file (defaults apply when empty)")
	listen := flag.String("listen", ":8080", "address for the websocket/control server")
	verbose := flag.Bool("v", false, "log node internals")
	flag.Parse()

	sc := sim.Default()
	if *scenarioPath != "" {
		loaded, err := sim.LoadScenario(*scenarioPath)
		if err != nil {
			log.Fatalf("loading scenario: %v", err)
		}
		sc = loaded
	}

	bus := eventbus.New()
	net := radio.NewNetwork(bus)
	coll := metrics.NewCollector()
	runner := sim.NewRunner(sc, bus, net, coll)
	if *verbose {
		runner.UseLogger(logging.NewZerolog("mesh"))
	}

	go server.StartServer(*listen, bus, net, runner.EnqueueSend, runner.EnqueueCreate)

	if err := runner.Run(); err != nil {
		log.Fatalf("simulation failed: %v", err)
	}

	snap := coll.Snapshot()
	fmt.Printf("sent=%d delivered=%d relayed=%d failures=%d routes=%d\n",
		snap.TotalSent, snap.TotalDelivered, snap.TotalRelayed,
		snap.SendFailures, snap.RoutesLearned)
}
