package service

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"

	"github.com/gaissmai/bart"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/slackhq/openeth/config"
)

// dnsRecords answers A and AAAA queries from a static host table, and TXT
// queries for the station name with its MAC address.
type dnsRecords struct {
	sync.RWMutex
	l       *logrus.Logger
	dnsMap4 map[string]netip.Addr
	dnsMap6 map[string]netip.Addr
	self    string
	selfTXT string
	// TXT answers are only given to clients in these prefixes.
	local *bart.Table[struct{}]
}

func newDnsRecords(l *logrus.Logger, local netip.Prefix) *dnsRecords {
	d := &dnsRecords{
		l:       l,
		dnsMap4: make(map[string]netip.Addr),
		dnsMap6: make(map[string]netip.Addr),
		local:   new(bart.Table[struct{}]),
	}
	d.local.Insert(local.Masked(), struct{}{})
	d.local.Insert(netip.MustParsePrefix("127.0.0.0/8"), struct{}{})
	return d
}

func (d *dnsRecords) Add(host string, addr netip.Addr) {
	d.Lock()
	defer d.Unlock()
	host = dns.Fqdn(strings.ToLower(host))
	if addr.Is4() {
		d.dnsMap4[host] = addr
	} else {
		d.dnsMap6[host] = addr
	}
}

// SetSelf names the station. name also resolves to addr.
func (d *dnsRecords) SetSelf(name string, addr netip.Addr, mac net.HardwareAddr) {
	d.Add(name, addr)
	d.Lock()
	d.self = dns.Fqdn(strings.ToLower(name))
	d.selfTXT = "mac=" + mac.String()
	d.Unlock()
}

// load replaces the static host table from netif.dns.hosts, entries of
// name=ip.
func (d *dnsRecords) load(c *config.C) error {
	m4 := make(map[string]netip.Addr)
	m6 := make(map[string]netip.Addr)
	for _, e := range c.GetStringSlice("netif.dns.hosts", nil) {
		name, ip, ok := strings.Cut(e, "=")
		if !ok {
			return fmt.Errorf("netif.dns.hosts entry %q is not name=ip", e)
		}
		addr, err := netip.ParseAddr(strings.TrimSpace(ip))
		if err != nil {
			return fmt.Errorf("netif.dns.hosts entry %q: %w", e, err)
		}
		name = dns.Fqdn(strings.ToLower(strings.TrimSpace(name)))
		if addr.Is4() {
			m4[name] = addr
		} else {
			m6[name] = addr
		}
	}

	d.Lock()
	defer d.Unlock()
	if a, ok := d.dnsMap4[d.self]; ok {
		m4[d.self] = a
	}
	if a, ok := d.dnsMap6[d.self]; ok {
		m6[d.self] = a
	}
	d.dnsMap4, d.dnsMap6 = m4, m6
	return nil
}

func (d *dnsRecords) query(name string, v6 bool) (netip.Addr, bool) {
	d.RLock()
	defer d.RUnlock()
	name = strings.ToLower(name)
	if v6 {
		a, ok := d.dnsMap6[name]
		return a, ok
	}
	a, ok := d.dnsMap4[name]
	return a, ok
}

func (d *dnsRecords) isLocal(remote net.Addr) bool {
	if remote == nil {
		return false
	}
	ap, err := netip.ParseAddrPort(remote.String())
	if err != nil {
		return false
	}
	_, ok := d.local.Lookup(ap.Addr().Unmap())
	return ok
}

func (d *dnsRecords) parseQuery(m *dns.Msg, w dns.ResponseWriter) {
	for _, q := range m.Question {
		switch q.Qtype {
		case dns.TypeA, dns.TypeAAAA:
			qType := dns.TypeToString[q.Qtype]
			d.l.Debugf("Query for %s %s", qType, q.Name)
			addr, ok := d.query(q.Name, q.Qtype == dns.TypeAAAA)
			if ok {
				rr, err := dns.NewRR(fmt.Sprintf("%s %s %s", q.Name, qType, addr))
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			}
		case dns.TypeTXT:
			// We don't answer these queries from off-link clients
			if w == nil || !d.isLocal(w.RemoteAddr()) {
				return
			}
			d.l.Debugf("Query for TXT %s", q.Name)
			d.RLock()
			self, txt := d.self, d.selfTXT
			d.RUnlock()
			if strings.EqualFold(q.Name, self) {
				rr, err := dns.NewRR(fmt.Sprintf("%s TXT %q", q.Name, txt))
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			}
		}
	}

	if len(m.Answer) == 0 {
		m.Rcode = dns.RcodeNameError
	}
}

func (d *dnsRecords) handleDnsRequest(w dns.ResponseWriter, r *dns.Msg) {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Compress = false

	switch r.Opcode {
	case dns.OpcodeQuery:
		d.parseQuery(m, w)
	}

	if err := w.WriteMsg(m); err != nil {
		d.l.WithError(err).Debug("Failed to write DNS response")
	}
}

// serveDNS answers queries on conn until ctx is done.
func serveDNS(ctx context.Context, l *logrus.Logger, conn net.PacketConn, d *dnsRecords) error {
	srv := &dns.Server{PacketConn: conn, Handler: dns.HandlerFunc(d.handleDnsRequest)}
	go func() {
		<-ctx.Done()
		_ = srv.ShutdownContext(context.Background())
		_ = conn.Close()
	}()

	l.WithField("dnsListener", conn.LocalAddr()).Info("Starting DNS responder")
	if err := srv.ActivateAndServe(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
