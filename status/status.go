// Package status aggregates printer health: reachability, paper tray fill
// and toner level. Probes are bounded by a soft deadline and results are
// cached with a TTL, so a burst of status requests costs at most one probe
// per printer per TTL window. Toner is never probed synchronously; the
// device-reported value is refreshed in the background by the SNMP supplies
// poller, and a reading of zero is treated as unreliable and dropped.
package status

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/logger"
)

// cacheTTL bounds the age of cached probe results.
const cacheTTL = 5 * time.Minute

// probeDeadline is the soft per-printer answer deadline.
const probeDeadline = 2 * time.Second

// PrinterStatus is the aggregated health of one printer.
type PrinterStatus struct {
	Printer  config.Printer `json:"printer"`
	Offline  bool           `json:"offline"`
	TonerPct *int           `json:"toner_percentage"`
	PaperPct *int           `json:"paper_percentage"`
}

// prober is the slice of the print backend the aggregator needs.
type prober interface {
	ProbeReachable(ctx context.Context, ipp string) bool
	PaperPct(ctx context.Context, ipp string) (int, bool)
}

// Aggregator combines probe results with TTL caches.
type Aggregator struct {
	printers []config.Printer
	backend  prober
	log      *logger.Logger

	online *expirable.LRU[string, bool]
	paper  *expirable.LRU[string, int]
	toner  *expirable.LRU[string, int]

	// sf collapses concurrent cache misses for the same printer into one
	// device probe.
	sf singleflight.Group
}

// NewAggregator returns an aggregator for the configured printers.
func NewAggregator(printers []config.Printer, backend prober, log *logger.Logger) *Aggregator {
	n := len(printers)
	if n < 8 {
		n = 8
	}
	return &Aggregator{
		printers: printers,
		backend:  backend,
		log:      log,
		online:   expirable.NewLRU[string, bool](n, nil, cacheTTL),
		paper:    expirable.NewLRU[string, int](n, nil, cacheTTL),
		// Toner entries outlive the probe caches; the poller refreshes
		// them on its own schedule.
		toner: expirable.NewLRU[string, int](n, nil, 3*cacheTTL),
	}
}

// SetToner records a toner reading for the printer. Used by the SNMP
// supplies poller.
func (a *Aggregator) SetToner(cupsName string, pct int) {
	a.toner.Add(cupsName, pct)
}

// One returns the status of a single printer. It never returns an error:
// backend failures collapse into absent fields.
func (a *Aggregator) One(ctx context.Context, p config.Printer) PrinterStatus {
	st := PrinterStatus{Printer: p}
	st.Offline, st.PaperPct = a.probe(ctx, p)
	if pct, ok := a.toner.Get(p.CupsName); ok {
		st.TonerPct = &pct
	}
	return st
}

type probeResult struct {
	offline  bool
	paperPct *int
}

// probe answers from the caches when it can. A miss hits the device at
// most once no matter how many callers miss at the same time; reachability
// and paper are probed concurrently. A device known to be offline within
// the TTL is never asked for paper.
func (a *Aggregator) probe(ctx context.Context, p config.Printer) (bool, *int) {
	offline, onlineCached := a.cachedOffline(p)
	if onlineCached {
		pct, paperCached := a.paper.Get(p.CupsName)
		if offline {
			if paperCached {
				return true, &pct
			}
			return true, nil
		}
		if paperCached {
			return false, &pct
		}
	}

	v, _, _ := a.sf.Do(p.CupsName, func() (interface{}, error) {
		// Re-check under the flight: a flight that finished while this
		// caller queued has already filled the caches.
		offline, onlineCached := a.cachedOffline(p)
		if onlineCached {
			pct, paperCached := a.paper.Get(p.CupsName)
			switch {
			case offline && paperCached:
				return probeResult{offline: true, paperPct: &pct}, nil
			case offline:
				return probeResult{offline: true}, nil
			case paperCached:
				return probeResult{paperPct: &pct}, nil
			}
		}

		ctx, cancel := context.WithTimeout(ctx, probeDeadline)
		defer cancel()

		var paperPct int
		var paperOK bool
		paperDone := make(chan struct{})
		go func() {
			defer close(paperDone)
			paperPct, paperOK = a.backend.PaperPct(ctx, p.IPP)
		}()

		res := probeResult{offline: offline}
		if !onlineCached {
			res.offline = !a.backend.ProbeReachable(ctx, p.IPP)
			a.online.Add(p.CupsName, !res.offline)
		}
		<-paperDone

		if res.offline {
			if pct, ok := a.paper.Get(p.CupsName); ok {
				res.paperPct = &pct
			}
		} else if paperOK {
			a.paper.Add(p.CupsName, paperPct)
			res.paperPct = &paperPct
		}
		return res, nil
	})
	res := v.(probeResult)
	return res.offline, res.paperPct
}

func (a *Aggregator) cachedOffline(p config.Printer) (offline, ok bool) {
	online, ok := a.online.Get(p.CupsName)
	return !online, ok
}

// All probes every configured printer in parallel and returns their
// statuses in configuration order. Failed probes yield partially-populated
// entries rather than errors.
func (a *Aggregator) All(ctx context.Context) []PrinterStatus {
	out := make([]PrinterStatus, len(a.printers))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range a.printers {
		g.Go(func() error {
			out[i] = a.One(ctx, p)
			return nil
		})
	}
	g.Wait() // goroutines never return errors
	return out
}
