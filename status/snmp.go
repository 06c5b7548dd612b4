package status

import (
	"context"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/one-zero-eight/printers/config"
	"github.com/one-zero-eight/printers/logger"
)

// Printer-MIB marker supplies columns (RFC 3805).
const (
	oidSuppliesDescription = ".1.3.6.1.2.1.43.11.1.1.6.1"
	oidSuppliesMaxCapacity = ".1.3.6.1.2.1.43.11.1.1.8.1"
	oidSuppliesLevel       = ".1.3.6.1.2.1.43.11.1.1.9.1"
)

// TonerPoller periodically reads marker supply levels over SNMP and feeds
// the black-toner percentage into the aggregator's cache. The poll runs in
// the background so user-facing status requests never wait on SNMP.
type TonerPoller struct {
	printers []config.Printer
	agg      *Aggregator
	log      *logger.Logger
	interval time.Duration
	// snmpFor is swappable in tests.
	snmpFor func(host string) snmpConn
}

type snmpConn interface {
	Connect() error
	Close() error
	WalkAll(rootOid string) ([]gosnmp.SnmpPDU, error)
	Get(oids []string) (*gosnmp.SnmpPacket, error)
}

type realSNMP struct{ *gosnmp.GoSNMP }

func (r realSNMP) Close() error { return r.Conn.Close() }

// NewTonerPoller returns a poller over the configured printers.
func NewTonerPoller(printers []config.Printer, agg *Aggregator, log *logger.Logger) *TonerPoller {
	return &TonerPoller{
		printers: printers,
		agg:      agg,
		log:      log,
		interval: cacheTTL,
		snmpFor: func(host string) snmpConn {
			return realSNMP{&gosnmp.GoSNMP{
				Target:    host,
				Port:      161,
				Community: "public",
				Version:   gosnmp.Version2c,
				Timeout:   3 * time.Second,
				Retries:   1,
			}}
		},
	}
}

// Run polls until ctx is done. One immediate sweep, then one per interval.
func (p *TonerPoller) Run(ctx context.Context) {
	p.sweep(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *TonerPoller) sweep(ctx context.Context) {
	for _, printer := range p.printers {
		if ctx.Err() != nil {
			return
		}
		pct, ok := p.readToner(printer)
		if !ok {
			continue
		}
		// A spurious zero has been observed on several devices; absent
		// beats a lie.
		if pct == 0 {
			p.log.Debug("Dropping zero toner reading", "printer", printer.CupsName)
			continue
		}
		p.agg.SetToner(printer.CupsName, pct)
	}
}

func (p *TonerPoller) readToner(printer config.Printer) (int, bool) {
	host := printer.IPP
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	conn := p.snmpFor(host)
	if err := conn.Connect(); err != nil {
		p.log.Debug("SNMP connect failed", "printer", printer.CupsName, "error", err)
		return 0, false
	}
	defer conn.Close()

	descs, err := conn.WalkAll(oidSuppliesDescription)
	if err != nil {
		p.log.Debug("SNMP supplies walk failed", "printer", printer.CupsName, "error", err)
		return 0, false
	}

	for _, pdu := range descs {
		desc := pduString(pdu)
		if !isBlackToner(desc) {
			continue
		}
		idx := strings.TrimPrefix(pdu.Name, oidSuppliesDescription+".")
		pkt, err := conn.Get([]string{
			oidSuppliesLevel + "." + idx,
			oidSuppliesMaxCapacity + "." + idx,
		})
		if err != nil || len(pkt.Variables) < 2 {
			continue
		}
		level := pduInt(pkt.Variables[0])
		maxCap := pduInt(pkt.Variables[1])
		if maxCap <= 0 || level < 0 || level > maxCap {
			continue
		}
		return level * 100 / maxCap, true
	}
	return 0, false
}

func pduString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func pduInt(pdu gosnmp.SnmpPDU) int {
	switch v := pdu.Value.(type) {
	case int:
		return v
	case uint:
		return int(v)
	case int64:
		return int(v)
	case uint64:
		return int(v)
	default:
		return -1
	}
}
