package probe

import (
	"context"
	"time"

	"github.com/miekg/dns"
)

// DNSCheck issues a single A query against an explicit resolver. Any
// answered exchange counts as reachable; the response code does not
// matter, only that something upstream answered.
type DNSCheck struct {
	query    string
	resolver string
	client   *dns.Client
}

func NewDNSCheck(query, resolver string, timeout time.Duration) *DNSCheck {
	return &DNSCheck{
		query:    query,
		resolver: resolver,
		client:   &dns.Client{Timeout: timeout},
	}
}

func (d *DNSCheck) Probe(ctx context.Context) bool {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(d.query), dns.TypeA)

	_, _, err := d.client.ExchangeContext(ctx, msg, d.resolver)
	return err == nil
}
