// Command reprapctl drives a single RepRap-style printer over a
// bidirectional line-numbered, checksummed, credit-flow-controlled
// G-code session (see package protocol) and exposes a small stdin
// REPL plus Prometheus metrics for it.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robodone/reprap-engine/internal/flavor"
	"github.com/robodone/reprap-engine/internal/job"
	"github.com/robodone/reprap-engine/internal/logging"
	"github.com/robodone/reprap-engine/internal/metrics"
	"github.com/robodone/reprap-engine/internal/protocol"
	"github.com/robodone/reprap-engine/internal/transport"
)

var (
	Version = "dev"

	showVersion = flag.Bool("version", false, "Show the version and exit")
	ttyDev      = flag.String("dev", "", "Device to connect to the printer, such as /dev/ttyUSB0 or /dev/ttyACM0")
	baudRate    = flag.Int("baud", 115200, "Baud rate")
	gcodePath   = flag.String("gcode", "", "gcode file to print on startup")
	useVirtual  = flag.Bool("virtual", false, "Talk to an in-process simulated printer instead of a real serial device")
	metricsAddr = flag.String("metrics_addr", "", "If non-empty, serve Prometheus metrics on this address, e.g. :9090")
	connTimeout = flag.Duration("connection_timeout", 30*time.Second, "Time allowed for the initial handshake")
	commTimeout = flag.Duration("communication_timeout", 10*time.Second, "Time allowed between two lines before a timeout is declared")
)

func failf(format string, args ...interface{}) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	fmt.Fprintf(os.Stderr, format, args...)
	os.Exit(1)
}

type stdoutListener struct {
	protocol.BaseListener
}

func (stdoutListener) OnProtocolState(old, new protocol.State) {
	fmt.Printf("[state] %s -> %s\n", old, new)
}

func (stdoutListener) OnProtocolTemperature(t map[string]protocol.Temperature) {
	for tool, v := range t {
		var actual, target float64
		if v.Actual != nil {
			actual = *v.Actual
		}
		if v.Target != nil {
			target = *v.Target
		}
		fmt.Printf("[temp] %s: %.1f/%.1f\n", tool, actual, target)
	}
}

func (stdoutListener) OnProtocolLog(msg string) {
	fmt.Printf("[log] %s\n", msg)
}

func (stdoutListener) OnProtocolFilePrintDone() {
	fmt.Println("[job] done")
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Printf("%s\n", Version)
		os.Exit(0)
	}

	var t transport.Transport
	if *useVirtual {
		t = transport.NewVirtual()
	} else {
		if *ttyDev == "" {
			failf("-dev not specified (use -virtual to try it without hardware)")
		}
		t = transport.NewSerial(*ttyDev, *baudRate)
	}

	registry := flavor.NewRegistry(flavor.NewGeneric(), flavor.NewMarlin())
	m := metrics.New()

	eng := protocol.New(t, registry, stdoutListener{}, protocol.Options{
		ConnectionTimeout:    *connTimeout,
		CommunicationTimeout: *commTimeout,
		Metrics:              m,
	})

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logging.For("main").WithError(err).Error("metrics server exited")
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *connTimeout)
	err := eng.Connect(ctx)
	cancel()
	if err != nil {
		failf("Could not connect: %v", err)
	}

	if *gcodePath != "" {
		runPrint(eng, *gcodePath)
	}

	repl(eng)
}

func runPrint(eng *protocol.Engine, path string) {
	j, err := job.NewLocalFileJob(path, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Could not load %s: %v\n", path, err)
		return
	}
	for eng.State() != protocol.Connected {
		time.Sleep(50 * time.Millisecond)
	}
	if err := eng.Process(j); err != nil {
		fmt.Fprintf(os.Stderr, "Could not start printing %s: %v\n", path, err)
	}
}

// repl is a trimmed verb shell over stdin: home, print <path>, pause,
// resume, cancel, stop (emergency stop), version, or a raw G-code line
// passed straight through to the printer.
func repl(eng *protocol.Engine) {
	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		verb := parts[0]
		var arg string
		if len(parts) > 1 {
			arg = strings.TrimSpace(parts[1])
		}
		switch verb {
		case "home":
			if err := eng.Home(arg); err != nil {
				fmt.Fprintf(os.Stderr, "home: %v\n", err)
			}
		case "print":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "print: missing path")
				continue
			}
			runPrint(eng, arg)
		case "pause":
			if err := eng.Pause(); err != nil {
				fmt.Fprintf(os.Stderr, "pause: %v\n", err)
			}
		case "resume":
			if err := eng.Resume(); err != nil {
				fmt.Fprintf(os.Stderr, "resume: %v\n", err)
			}
		case "cancel":
			if err := eng.Cancel(); err != nil {
				fmt.Fprintf(os.Stderr, "cancel: %v\n", err)
			}
		case "stop":
			if err := eng.EmergencyStop(); err != nil {
				fmt.Fprintf(os.Stderr, "stop: %v\n", err)
			}
		case "version":
			fmt.Printf("%s\n", Version)
		default:
			if err := eng.SendRaw(line); err != nil {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
	}
}
