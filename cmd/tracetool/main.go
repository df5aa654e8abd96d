// Main package in tracetool implements a command line tool for
// filtering and summarizing the CSV traces a simulation run writes.
//
// Usage:
//
//	tracetool [-flow N] [-event DROP] traffic.csv
//
// With no file argument it reads CSV from stdin and writes the
// filtered rows to stdout.
package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/gocarina/gocsv"
	"github.com/m-lab/go/rtx"

	"github.com/m-lab/dcsim/trace"
)

func init() {
	// Always prepend the filename and line number.
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

var (
	flowID  = flag.Uint64("flow", 0, "Keep only rows for this flow ID (0 keeps all)")
	event   = flag.String("event", "", "Keep only rows with this event name (empty keeps all)")
	summary = flag.Bool("summary", false, "Print per-event counts instead of rows")

	// A variable to enable mocking for testing.
	logFatal = log.Fatal
)

func readRecords(rdr io.Reader) ([]*trace.TrafficRecord, error) {
	var rows []*trace.TrafficRecord
	err := gocsv.Unmarshal(rdr, &rows)
	return rows, err
}

func filter(rows []*trace.TrafficRecord) []*trace.TrafficRecord {
	out := rows[:0]
	for _, r := range rows {
		if *flowID != 0 && r.FlowID != *flowID {
			continue
		}
		if *event != "" && r.Event != *event {
			continue
		}
		out = append(out, r)
	}
	return out
}

func printSummary(rows []*trace.TrafficRecord, w io.Writer) {
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Event]++
	}
	enc := log.New(w, "", 0)
	for ev, n := range counts {
		enc.Printf("%s %d", ev, n)
	}
}

func main() {
	flag.Parse()
	args := flag.Args()

	var source io.ReadCloser
	var err error
	source = os.Stdin
	if len(args) == 1 {
		source, err = os.Open(args[0])
		rtx.Must(err, "Could not open file %q", args[0])
	} else if len(args) > 1 {
		logFatal("Too many command-line arguments.")
	}
	defer source.Close()

	rows, err := readRecords(source)
	rtx.Must(err, "Could not read trace records")
	rows = filter(rows)

	if *summary {
		printSummary(rows, os.Stdout)
		return
	}
	rtx.Must(gocsv.Marshal(&rows, os.Stdout), "Could not write CSV")
}
