package main

import (
	"flag"
	"log"

	"firespread-sim/internal/dashboard"
)

func main() {
	out := flag.String("out", "build", "output directory")
	cells := flag.String("fire-cell-table", dashboard.DefaultTables.FireCells, "GreptimeDB fire cell table")
	status := flag.String("status-table", dashboard.DefaultTables.Status, "GreptimeDB connection status table")
	flag.Parse()
	if err := dashboard.Render(*out, dashboard.Tables{FireCells: *cells, Status: *status}); err != nil {
		log.Fatal(err)
	}
}
