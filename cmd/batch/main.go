package main

import (
	"flag"
	"fmt"
	"log"

	"sensornet/internal/eventbus"
	"sensornet/internal/metrics"
	"sensornet/internal/radio"
	"sensornet/internal/sim"
)

// batch runs a scenario headless one or more times, varying the seed,
// and writes one metrics file per run.
func main() {
	scenarioPath := flag.String("scenario", "scenario.yaml", "scenario YAML file")
	runs := flag.Int("runs", 1, "number of runs (seed increments per run)")
	flag.Parse()

	base, err := sim.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("loading scenario: %v", err)
	}

	for i := 0; i < *runs; i++ {
		sc := *base
		sc.Seed = base.Seed + int64(i)
		if base.Logging.MetricsFile != "" && *runs > 1 {
			sc.Logging.MetricsFile = fmt.Sprintf("%s.%d", base.Logging.MetricsFile, i)
		}

		bus := eventbus.New()
		net := radio.NewNetwork(bus)
		coll := metrics.NewCollector()
		runner := sim.NewRunner(&sc, bus, net, coll)

		log.Printf("run %d/%d seed=%d", i+1, *runs, sc.Seed)
		if err := runner.Run(); err != nil {
			log.Fatalf("run %d failed: %v", i+1, err)
		}
		snap := coll.Snapshot()
		log.Printf("run %d done: sent=%d delivered=%d relayed=%d failures=%d",
			i+1, snap.TotalSent, snap.TotalDelivered, snap.TotalRelayed, snap.SendFailures)
	}
}
