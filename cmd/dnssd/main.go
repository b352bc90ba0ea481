// Command dnssd browses, resolves, queries and advertises DNS-SD services on
// the local link.
//
// Usage:
//
//	dnssd [OPTION]... COMMAND [ARG]...
//
// Run "dnssd --help" for the list of commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/joshuafuller/dnssd"
	"github.com/joshuafuller/dnssd/internal/logging"
)

// Populated via -ldflags="-X main.version=...".
var version = "dev"

var (
	flagInterface   string
	flagTimeout     time.Duration
	flagLogLevel    string
	flagLogJSON     bool
	flagHostname    string
	flagIPv4Only    bool
	flagIPv6Only    bool
	flagMetricsAddr string
	flagNoColor     bool
	flagHelp        bool
	flagVersion     bool
)

func init() {
	flag.StringVarP(&flagInterface, "interface", "i", "", "Restrict to one network interface")
	flag.DurationVarP(&flagTimeout, "timeout", "t", 0, "Stop after this long (0 runs until interrupted)")
	flag.StringVarP(&flagLogLevel, "log-level", "l", "WARN", "Log level")
	flag.BoolVar(&flagLogJSON, "log-json", false, "Log as JSON")
	flag.StringVarP(&flagHostname, "hostname", "H", "", "Host name for registered services")
	flag.BoolVarP(&flagIPv4Only, "ipv4", "4", false, "Use IPv4 only")
	flag.BoolVarP(&flagIPv6Only, "ipv6", "6", false, "Use IPv6 only")
	flag.StringVar(&flagMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
	flag.Usage = help
	flag.CommandLine.SetInterspersed(false)
}

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, env *env, args []string) error
}

var commands = []command{
	{"browse", "browse TYPE [DOMAIN]", runBrowse},
	{"resolve", "resolve NAME TYPE [DOMAIN]", runResolve},
	{"query", "query NAME [RRTYPE]", runQuery},
	{"register", "register NAME TYPE PORT [KEY=VALUE]...", runRegister},
	{"domains", "domains [browse|registration]", runDomains},
	{"discover", "discover TYPE [DOMAIN]", runDiscover},
}

// env is what every command runs with.
type env struct {
	d       *dnssd.DNSSD
	ifIndex int
	log     *slog.Logger
	out     *printer
}

func main() {
	flag.Parse()
	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		fmt.Println("dnssd", version)
		os.Exit(0)
	}
	if err := run(flag.Args()); err != nil {
		fmt.Fprintln(os.Stderr, "dnssd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		help()
		return errors.New("missing command")
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		return fmt.Errorf("unknown command %q", args[0])
	}

	logger := logging.Configure(logging.Config{
		Level:            flagLogLevel,
		Structured:       flagLogJSON,
		StructuredFormat: "json",
	})

	opts := []dnssd.Option{dnssd.WithLogger(logger)}
	if flagHostname != "" {
		opts = append(opts, dnssd.WithHostname(flagHostname))
	}
	if flagIPv4Only {
		opts = append(opts, dnssd.WithIPv4Only())
	}
	if flagIPv6Only {
		opts = append(opts, dnssd.WithIPv6Only())
	}
	if flagMetricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, dnssd.WithMetricsRegisterer(reg))
		go serveMetrics(logger, reg)
	}

	d, err := dnssd.New(opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	ifIndex := dnssd.AllInterfaces
	if flagInterface != "" {
		if ifIndex, err = dnssd.IfIndexForName(flagInterface); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flagTimeout)
		defer cancel()
	}

	e := &env{d: d, ifIndex: ifIndex, log: logger, out: newPrinter(os.Stdout, flagNoColor)}
	err = cmd.run(ctx, e, args[1:])
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func serveMetrics(logger *slog.Logger, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: flagMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("metrics server stopped", "addr", flagMetricsAddr, "error", err)
	}
}

// wait blocks until ctx is done or the operation reports failure.
func wait(ctx context.Context, failed <-chan error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-failed:
		return err
	}
}
