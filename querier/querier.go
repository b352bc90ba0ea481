// Package querier provides a blocking, one-shot query API for .local names.
//
// A Querier asks the link for the records of one name and type and
// collects every distinct answer until the context is done:
//
//	q, err := querier.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer q.Close()
//
//	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
//	defer cancel()
//	resp, err := q.Query(ctx, "_http._tcp.local", querier.RecordTypePTR)
//
// Queries use the continuous querying of RFC 6762 §5.2 underneath: the
// first question is sent at once and repeated with exponential backoff, and
// answers already received are listed as known answers (RFC 6762 §7.1).
// Concurrent queries for the same name share their questions.
package querier

import (
	"context"
	"sync"
	"time"

	"github.com/joshuafuller/dnssd"
)

// DefaultQueryTimeout bounds a Query whose context has no deadline.
const DefaultQueryTimeout = time.Second

// Querier runs blocking queries. It is safe for concurrent use.
type Querier struct {
	d *dnssd.DNSSD
}

// New creates a Querier. The options are those of dnssd.New.
//
// Example:
//
//	q, err := querier.New(dnssd.WithIPv4Only())
func New(opts ...dnssd.Option) (*Querier, error) {
	d, err := dnssd.New(opts...)
	if err != nil {
		return nil, err
	}
	return &Querier{d: d}, nil
}

// Close stops running queries and closes the sockets.
func (q *Querier) Close() error {
	return q.d.Close()
}

type recordKey struct {
	ifIndex int
	rrtype  RecordType
	rdata   string
}

type collector struct {
	mu      sync.Mutex
	order   []recordKey
	records map[recordKey]ResourceRecord
	failed  chan error
}

func (c *collector) QueryAnswered(ev dnssd.RecordEvent) {
	key := recordKey{ifIndex: ev.IfIndex, rrtype: ev.Type, rdata: string(ev.RData)}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.TTL == 0 {
		delete(c.records, key)
		return
	}
	if _, ok := c.records[key]; !ok {
		c.order = append(c.order, key)
	}
	c.records[key] = newResourceRecord(ev)
}

func (c *collector) OperationFailed(err error) {
	select {
	case c.failed <- err:
	default:
	}
}

func (c *collector) response() *Response {
	c.mu.Lock()
	defer c.mu.Unlock()
	resp := &Response{Records: make([]ResourceRecord, 0, len(c.records))}
	for _, k := range c.order {
		if rr, ok := c.records[k]; ok {
			resp.Records = append(resp.Records, rr)
		}
	}
	return resp
}

// Query asks for the records of name and collects the answers until ctx is
// done, or for DefaultQueryTimeout when ctx has no deadline. Reaching the
// deadline is the normal end of a query and returns the records collected,
// possibly none.
//
// Query fails with dnssd.ErrBadParam for an empty or malformed name and
// returns the error of a failed operation, for example when no socket could
// be opened.
func (q *Querier) Query(ctx context.Context, name string, recordType RecordType) (*Response, error) {
	return q.QueryInterface(ctx, dnssd.AllInterfaces, name, recordType)
}

// QueryInterface is Query restricted to one interface index.
func (q *Querier) QueryInterface(ctx context.Context, ifIndex int, name string, recordType RecordType) (*Response, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultQueryTimeout)
		defer cancel()
	}

	c := &collector{records: make(map[recordKey]ResourceRecord), failed: make(chan error, 1)}
	op, err := q.d.QueryRecord(0, ifIndex, name, recordType, dnssd.ClassIN, false, c)
	if err != nil {
		return nil, err
	}
	defer op.Stop()

	select {
	case err := <-c.failed:
		return nil, err
	case <-ctx.Done():
	}
	op.Stop()
	return c.response(), nil
}
