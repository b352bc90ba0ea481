package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/joshuafuller/dnssd"
	"github.com/joshuafuller/dnssd/internal/message"
	"github.com/joshuafuller/dnssd/internal/protocol"
)

// printer writes one line per event. Callbacks of different operations may
// race, so writes are serialized.
type printer struct {
	mu    sync.Mutex
	w     io.Writer
	add   *color.Color
	rmv   *color.Color
	info  *color.Color
	faint *color.Color
}

func newPrinter(w io.Writer, noColor bool) *printer {
	p := &printer{
		w:     w,
		add:   color.New(color.FgGreen, color.Bold),
		rmv:   color.New(color.FgRed, color.Bold),
		info:  color.New(color.FgCyan),
		faint: color.New(color.FgHiBlack),
	}
	if noColor {
		for _, c := range []*color.Color{p.add, p.rmv, p.info, p.faint} {
			c.DisableColor()
		}
	}
	return p
}

func (p *printer) event(added bool, format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faint.Fprint(p.w, time.Now().Format("15:04:05.000"), " ")
	if added {
		p.add.Fprint(p.w, "ADD ")
	} else {
		p.rmv.Fprint(p.w, "RMV ")
	}
	fmt.Fprintf(p.w, format, args...)
	fmt.Fprintln(p.w)
}

func (p *printer) line(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faint.Fprint(p.w, time.Now().Format("15:04:05.000"), " ")
	p.info.Fprintf(p.w, format, args...)
	fmt.Fprintln(p.w)
}

// flagNote marks events that are part of a batch.
func flagNote(f dnssd.Flags) string {
	if f.Has(dnssd.FlagMoreComing) {
		return " (more coming)"
	}
	return ""
}

func formatTXT(txt map[string]string) string {
	keys := make([]string, 0, len(txt))
	for k := range txt {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := txt[k]; v != "" {
			parts = append(parts, k+"="+v)
		} else {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, " ")
}

func formatRData(t dnssd.RecordType, raw []byte) string {
	rd, err := message.DecodeRData(protocol.RecordType(t), raw)
	if err != nil {
		return fmt.Sprintf("<%d bytes: %v>", len(raw), err)
	}
	return rd.String()
}
