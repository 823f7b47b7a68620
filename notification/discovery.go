package notification

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DiscoverRelays resolves the relay endpoints advertised for a federation
// domain via TXT records at _relays.<domain>. Each record is one or more
// whitespace-separated endpoint URLs. Discovery failure is not fatal;
// callers merge the result with their statically configured relay set.
func DiscoverRelays(domain, resolverAddr string, log *slog.Logger) ([]string, error) {
	if log == nil {
		log = slog.Default()
	}

	name := dns.Fqdn("_relays." + domain)
	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeTXT)

	client := &dns.Client{Timeout: 5 * time.Second}
	resp, _, err := client.Exchange(msg, resolverAddr)
	if err != nil {
		return nil, fmt.Errorf("relay discovery query failed: %w", err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("relay discovery failed: %s", dns.RcodeToString[resp.Rcode])
	}

	var endpoints []string
	for _, answer := range resp.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}
		for _, record := range txt.Txt {
			for _, endpoint := range strings.Fields(record) {
				if strings.HasPrefix(endpoint, "https://") || strings.HasPrefix(endpoint, "http://") {
					endpoints = append(endpoints, endpoint)
				}
			}
		}
	}

	log.Debug("Discovered relay endpoints",
		slog.String("domain", domain),
		slog.Int("count", len(endpoints)))

	return endpoints, nil
}
