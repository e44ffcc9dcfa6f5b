package simulate

import "os"

// ShowHelp prints usage information for the simulator.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Railflow Telemetry Simulator
============================

Posts synthetic train telemetry to a running railflow service and reports
how much of it was accepted, deduplicated or pushed back.

Usage:
  go run ./cmd/simulate [options]

Options:
  -url string          Base URL of the service (default "http://localhost:8000")
  -trains int          Number of simulated trains (default 20)
  -samples int         Samples per train (default 60)
  -sections string     Comma separated section ids walked in order (default "AB,BC")
  -duplicates float    Share of samples re-sent with the same event id (default 0.05)
  -interval duration   Spacing between samples of one train (default 30s)
  -seed uint           Generator seed (default 1)
  -workers int         Concurrent submitters (default CPU cores * 2)
  -timeout duration    HTTP request timeout (default 10s)
  -log-format string   text or json (default "text")
  -verbose             Log every rejected request
  -help                Show this help message

Examples:
  go run ./cmd/simulate -trains 100 -samples 120
  go run ./cmd/simulate -url http://localhost:9000 -duplicates 0.2 -verbose
`)
}
