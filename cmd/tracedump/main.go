// Command tracedump prints the raw decoded contents of a block-I/O trace
// stream, one line per record, with no correlation applied. It exists for
// the same reason cmd/dump exists for perf.data profiles: a minimal,
// uncorrelated view useful when iotrace's own output looks wrong and the
// question is "did the decoder even read this right."
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/ue90/blktrace/trace"
)

func main() {
	var flagInput = flag.String("i", "", "input trace `file`")
	flag.Parse()
	if *flagInput == "" || flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	f, err := os.Open(*flagInput)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer f.Close()

	dec := trace.NewDecoder(f, 0)
	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Printf("%-10d cpu=%-3d dev=%d,%d sector=%-10d len=%-6d pid=%-6d %s %s\n",
			ev.Time, ev.CPU, ev.Device>>20, ev.Device&0xfffff, ev.Sector, ev.Length, ev.PID, ev.Kind, ev.Comm)
	}
}
