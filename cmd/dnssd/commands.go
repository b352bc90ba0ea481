package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joshuafuller/dnssd"
)

func domainArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func runBrowse(ctx context.Context, e *env, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dnssd browse TYPE [DOMAIN]")
	}
	failed := make(chan error, 1)
	op, err := e.d.Browse(0, e.ifIndex, args[0], domainArg(args, 1), dnssd.BrowseFuncs{
		Found: func(ev dnssd.ServiceEvent) {
			e.out.event(true, "if=%d %s.%s%s%s", ev.IfIndex, ev.Name, ev.Type, ev.Domain, flagNote(ev.Flags))
		},
		Lost: func(ev dnssd.ServiceEvent) {
			e.out.event(false, "if=%d %s.%s%s%s", ev.IfIndex, ev.Name, ev.Type, ev.Domain, flagNote(ev.Flags))
		},
		Failed: func(err error) { failed <- err },
	})
	if err != nil {
		return err
	}
	defer op.Stop()
	e.out.line("Browsing for %s", args[0])
	return wait(ctx, failed)
}

func runResolve(ctx context.Context, e *env, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: dnssd resolve NAME TYPE [DOMAIN]")
	}
	failed := make(chan error, 1)
	op, err := e.d.Resolve(0, e.ifIndex, args[0], args[1], domainArg(args, 2), dnssd.ResolveFuncs{
		Resolved: func(s dnssd.ResolvedService) {
			e.out.event(true, "if=%d %s can be reached at %s:%d %s",
				s.IfIndex, s.FullName, s.Host, s.Port, formatTXT(s.TXTMap()))
		},
		Failed: func(err error) { failed <- err },
	})
	if err != nil {
		return err
	}
	defer op.Stop()
	return wait(ctx, failed)
}

var recordTypes = map[string]dnssd.RecordType{
	"A":    dnssd.TypeA,
	"AAAA": dnssd.TypeAAAA,
	"PTR":  dnssd.TypePTR,
	"SRV":  dnssd.TypeSRV,
	"TXT":  dnssd.TypeTXT,
	"ANY":  dnssd.TypeANY,
}

func parseRecordType(s string) (dnssd.RecordType, error) {
	if t, ok := recordTypes[strings.ToUpper(s)]; ok {
		return t, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToUpper(s), "TYPE"), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("unknown record type %q", s)
	}
	return dnssd.RecordType(n), nil
}

func runQuery(ctx context.Context, e *env, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dnssd query NAME [RRTYPE]")
	}
	rrtype := dnssd.TypeA
	if len(args) > 1 {
		var err error
		if rrtype, err = parseRecordType(args[1]); err != nil {
			return err
		}
	}
	failed := make(chan error, 1)
	op, err := e.d.QueryRecord(0, e.ifIndex, args[0], rrtype, dnssd.ClassIN, false, dnssd.QueryFuncs{
		Answered: func(ev dnssd.RecordEvent) {
			e.out.event(ev.TTL > 0, "if=%d %s %d %s %s%s",
				ev.IfIndex, ev.Name, ev.TTL, ev.Type, formatRData(ev.Type, ev.RData), flagNote(ev.Flags))
		},
		Failed: func(err error) { failed <- err },
	})
	if err != nil {
		return err
	}
	defer op.Stop()
	return wait(ctx, failed)
}

func runRegister(ctx context.Context, e *env, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: dnssd register NAME TYPE PORT [KEY=VALUE]...")
	}
	port, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil || port == 0 {
		return fmt.Errorf("invalid port %q", args[2])
	}
	attrs := make(map[string]string)
	for _, kv := range args[3:] {
		k, v, _ := strings.Cut(kv, "=")
		attrs[k] = v
	}
	txt, err := dnssd.NewTXTRecord(attrs)
	if err != nil {
		return err
	}

	failed := make(chan error, 1)
	reg, err := e.d.Register(dnssd.Service{
		IfIndex: e.ifIndex,
		Name:    args[0],
		Type:    args[1],
		Port:    uint16(port),
		TXT:     txt,
	}, dnssd.RegisterFuncs{
		Registered: func(s dnssd.RegisteredService) {
			e.out.event(true, "registered %s.%s%s", s.Name, s.Type, s.Domain)
		},
		Failed: func(err error) { failed <- err },
	})
	if err != nil {
		return err
	}
	defer reg.Stop()
	return wait(ctx, failed)
}

func runDomains(ctx context.Context, e *env, args []string) error {
	flags := dnssd.FlagBrowseDomains
	if domainArg(args, 0) == "registration" {
		flags = dnssd.FlagRegistrationDomains
	}
	failed := make(chan error, 1)
	op, err := e.d.EnumerateDomains(flags, e.ifIndex, dnssd.DomainFuncs{
		Found: func(ev dnssd.DomainEvent) {
			note := ""
			if ev.Flags.Has(dnssd.FlagDefault) {
				note = " (default)"
			}
			e.out.event(true, "if=%d %s%s", ev.IfIndex, ev.Domain, note)
		},
		Lost: func(ev dnssd.DomainEvent) {
			e.out.event(false, "if=%d %s", ev.IfIndex, ev.Domain)
		},
		Failed: func(err error) { failed <- err },
	})
	if err != nil {
		return err
	}
	defer op.Stop()
	return wait(ctx, failed)
}

func runDiscover(ctx context.Context, e *env, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dnssd discover TYPE [DOMAIN]")
	}
	services, err := e.d.Discover(ctx, args[0], domainArg(args, 1))
	if err != nil {
		return err
	}
	for s := range services {
		addrs := make([]string, 0, len(s.Addresses))
		for _, ip := range s.Addresses {
			addrs = append(addrs, ip.String())
		}
		e.out.event(!s.Lost(), "if=%d %s.%s%s %s:%d [%s] %s",
			s.IfIndex, s.Name, s.Type, s.Domain, s.Host, s.Port, strings.Join(addrs, " "), formatTXT(s.TXT))
	}
	return ctx.Err()
}
