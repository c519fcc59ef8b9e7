// Command iotrace replays a binary block-I/O trace stream, reconstructs
// each request's life-cycle, and reports latency, throughput, and
// locality statistics the way btt's avgs/ranges/iostat outputs do.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/ue90/blktrace/engine"
	"github.com/ue90/blktrace/internal/config"
	"github.com/ue90/blktrace/internal/xlog"
	"github.com/ue90/blktrace/report"
	"github.com/ue90/blktrace/trace"
)

const (
	exitOK          = 0
	exitOpenFailure = 1
	exitBadStream   = 2
	exitDecodeError = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		input          = kingpin.Flag("input", "input trace file").Short('i').Required().String()
		outputPrefix   = kingpin.Flag("output-prefix", "prefix for per-device sink files").Short('o').Default("iotrace").String()
		deviceFilter   = kingpin.Flag("device", "restrict to device major:minor, repeatable").Strings()
		exeFilter      = kingpin.Flag("exe", "restrict to executable name, repeatable").Strings()
		rangeDelta     = kingpin.Flag("range-delta", "max gap within one active range").Default("1s").Duration()
		iostatInterval = kingpin.Flag("iostat-interval", "iostat window length, 0 disables").Default("0s").Duration()
		dumpLevel      = kingpin.Flag("dump-level", "per-IO dump: \"\", summary, full").Default("").Enum("", "summary", "full")
		seeks          = kingpin.Flag("seeks", "emit the seek-distance summary").Bool()
		logLevel       = kingpin.Flag("log-level", "debug, info, warn, error").Default("info").Envar("IOTRACE_LOG_LEVEL").String()
	)
	kingpin.Parse()
	xlog.SetLevel(*logLevel)

	cfg := &config.Config{
		InputPath:      *input,
		OutputPrefix:   *outputPrefix,
		DeviceFilter:   *deviceFilter,
		ExeFilter:      *exeFilter,
		RangeDelta:     *rangeDelta,
		IostatInterval: *iostatInterval,
		DumpLevel:      *dumpLevel,
		LogLevel:       *logLevel,
	}
	if err := cfg.Validate(); err != nil {
		xlog.Errorf("invalid configuration: %s", err)
		return exitOpenFailure
	}

	f, err := os.Open(cfg.InputPath)
	if err != nil {
		xlog.Errorf("cannot open %s: %s", cfg.InputPath, err)
		return exitOpenFailure
	}
	defer f.Close()

	avgW, rangesW, procW, countersW, err := openReportFiles(cfg.OutputPrefix)
	if err != nil {
		xlog.Errorf("cannot create report files: %s", err)
		return exitOpenFailure
	}
	defer avgW.Close()
	defer rangesW.Close()
	defer procW.Close()
	defer countersW.Close()

	opts := engine.Options{
		RangeDelta:     cfg.RangeDelta.Nanoseconds(),
		IostatInterval: cfg.IostatInterval.Nanoseconds(),
		DeviceFilter:   cfg.Devices(),
		ExeFilter:      cfg.Exes(),
		NewSink: func(dev fmt.Stringer, kind string) (io.Writer, error) {
			return os.Create(fmt.Sprintf("%s.%s.%s.dat", cfg.OutputPrefix, dev.String(), kind))
		},
	}
	if cfg.IostatInterval > 0 {
		opts.OnWindow = report.IostatWriter(os.Stdout)
	}
	if cfg.DumpLevel != "" {
		opts.OnGraph = report.DumpWriter(os.Stdout)
	}

	eng := engine.New(opts)
	dec := trace.NewDecoder(f, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		<-c
		xlog.Warnf("received shutdown signal, flushing")
		cancel()
	}()

	start := time.Now()
	runErr := eng.Run(ctx, dec)
	xlog.Infof("processed stream in %s, %d graphs ready, %d nodes still live",
		time.Since(start), eng.Counters().ReadyGraphs, eng.Live())

	report.Averages(avgW, eng)
	report.Ranges(rangesW, eng)
	report.Processes(procW, eng)
	report.Counters(countersW, eng)
	if *seeks {
		report.Seeks(os.Stdout, eng)
	}

	if runErr == nil || runErr == context.Canceled {
		return exitOK
	}
	var derr *trace.DecodeError
	if errors.As(runErr, &derr) && (derr.Op == "magic" || derr.Op == "version") {
		xlog.Errorf("bad trace stream: %s", derr)
		return exitBadStream
	}
	xlog.Errorf("decode failed: %s", runErr)
	return exitDecodeError
}

func openReportFiles(prefix string) (avg, ranges, proc, counters *os.File, err error) {
	avg, err = os.Create(prefix + ".avgs.txt")
	if err != nil {
		return
	}
	ranges, err = os.Create(prefix + ".ranges.txt")
	if err != nil {
		return
	}
	proc, err = os.Create(prefix + ".procs.txt")
	if err != nil {
		return
	}
	counters, err = os.Create(prefix + ".counters.txt")
	return
}
