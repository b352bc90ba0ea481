package main

import (
	"fmt"

	"github.com/fatih/color"
)

const optionsString = `
Options:
  -i, --interface=NAME   Restrict to one network interface (default: all)
  -t, --timeout=DUR      Stop after DUR, e.g. 10s (default: run until interrupted)
  -H, --hostname=NAME    Host name for registered services (default: system name)
  -4, --ipv4             Use IPv4 only
  -6, --ipv6             Use IPv6 only
  -l, --log-level=LEVEL  DEBUG, INFO, WARN or ERROR (default: WARN)
      --log-json         Log as JSON
      --metrics-addr=ADDR
                         Serve Prometheus metrics on ADDR, e.g. :9153
      --no-color         Disable colored output
  -h, --help             Print this help message and exit
  -v, --version          Print version information and exit

Examples:
  dnssd browse _ipp._tcp
  dnssd resolve "Office Printer" _ipp._tcp
  dnssd query myhost.local AAAA
  dnssd register "My Web Server" _http._tcp 8080 path=/
  dnssd -t 5s discover _http._tcp`

func help() {
	title := color.New(color.FgCyan, color.Bold)
	cmd := color.New(color.FgYellow)

	title.Println("DNS Service Discovery over multicast DNS")
	fmt.Println()
	fmt.Println("Usage: dnssd [OPTION]... COMMAND [ARG]...")
	fmt.Println()
	fmt.Println("Commands:")
	for _, c := range commands {
		cmd.Printf("  %s\n", c.usage)
	}
	fmt.Println(optionsString)
}
