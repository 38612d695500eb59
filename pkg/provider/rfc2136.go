package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// RFC2136Config configures the dynamic-update backend.
type RFC2136Config struct {
	// Server is the authoritative server accepting UPDATE, host:port.
	Server string
	// TSIG credentials; empty key name disables signing.
	TSIGKeyName string
	TSIGSecret  string
	TSIGAlgo    string
	Timeout     time.Duration
}

// RFC2136Provider mutates records with DNS dynamic updates (RFC 2136) and
// reads them back with plain queries against the same server.
type RFC2136Provider struct {
	cfg    RFC2136Config
	client *dns.Client
}

// NewRFC2136Provider creates the dynamic-update backend.
func NewRFC2136Provider(cfg RFC2136Config) *RFC2136Provider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TSIGAlgo == "" {
		cfg.TSIGAlgo = dns.HmacSHA256
	} else if !strings.HasSuffix(cfg.TSIGAlgo, ".") {
		cfg.TSIGAlgo = dns.Fqdn(cfg.TSIGAlgo)
	}
	client := &dns.Client{Net: "tcp", Timeout: cfg.Timeout}
	if cfg.TSIGKeyName != "" {
		cfg.TSIGKeyName = dns.Fqdn(cfg.TSIGKeyName)
		client.TsigSecret = map[string]string{cfg.TSIGKeyName: cfg.TSIGSecret}
	}
	return &RFC2136Provider{cfg: cfg, client: client}
}

func (p *RFC2136Provider) Get(ctx context.Context, zone, name, rtype string) (*Record, error) {
	qtype, ok := dns.StringToType[strings.ToUpper(rtype)]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported record type %s", ErrRejected, rtype)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = false

	resp, _, err := p.client.ExchangeContext(ctx, msg, p.cfg.Server)
	if err != nil {
		return nil, fmt.Errorf("query failed for %s %s: %w", name, rtype, err)
	}
	if resp.Rcode == dns.RcodeNameError {
		return nil, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, rcodeError(resp.Rcode, "query", name)
	}
	if len(resp.Answer) == 0 {
		return nil, nil
	}

	record := &Record{Zone: zone, Name: name, Type: strings.ToUpper(rtype)}
	for _, rr := range resp.Answer {
		if rr.Header().Rrtype != qtype {
			continue
		}
		record.TTL = int(rr.Header().Ttl)
		switch v := rr.(type) {
		case *dns.A:
			record.Values = append(record.Values, v.A.String())
		case *dns.AAAA:
			record.Values = append(record.Values, v.AAAA.String())
		case *dns.CNAME:
			record.Values = append(record.Values, strings.TrimSuffix(v.Target, "."))
		case *dns.TXT:
			record.Values = append(record.Values, strings.Join(v.Txt, ""))
		case *dns.SRV:
			record.Priority = int(v.Priority)
			record.Weight = int(v.Weight)
			record.Port = int(v.Port)
			record.Values = append(record.Values, strings.TrimSuffix(v.Target, "."))
		default:
			// Fall back to the zone-file presentation of the rdata.
			fields := strings.Fields(rr.String())
			record.Values = append(record.Values, fields[len(fields)-1])
		}
	}
	if len(record.Values) == 0 {
		return nil, nil
	}
	return record, nil
}

func (p *RFC2136Provider) Upsert(ctx context.Context, record Record) error {
	rrs, err := buildRRs(record)
	if err != nil {
		return err
	}

	msg := new(dns.Msg)
	msg.SetUpdate(dns.Fqdn(record.Zone))
	// Replace semantics: clear the RRset, then insert the new values. The
	// server applies the update atomically, so readers never observe the
	// intermediate empty set.
	msg.RemoveRRset(rrHeaderOnly(record))
	msg.Insert(rrs)

	return p.send(ctx, msg, "upsert", record.Name)
}

func (p *RFC2136Provider) Delete(ctx context.Context, zone, name, rtype string) error {
	msg := new(dns.Msg)
	msg.SetUpdate(dns.Fqdn(zone))
	msg.RemoveRRset(rrHeaderOnly(Record{Name: name, Type: rtype}))

	return p.send(ctx, msg, "delete", name)
}

func (p *RFC2136Provider) send(ctx context.Context, msg *dns.Msg, op, name string) error {
	if p.cfg.TSIGKeyName != "" {
		msg.SetTsig(p.cfg.TSIGKeyName, p.cfg.TSIGAlgo, 300, time.Now().Unix())
	}
	resp, _, err := p.client.ExchangeContext(ctx, msg, p.cfg.Server)
	if err != nil {
		return fmt.Errorf("%s failed for %s: %w", op, name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return rcodeError(resp.Rcode, op, name)
	}
	return nil
}

// rcodeError classifies server response codes into the error taxonomy.
// SERVFAIL is treated as throttling: BIND and friends answer it when the
// update rate exceeds serial-managed limits.
func rcodeError(rcode int, op, name string) error {
	if rcode == dns.RcodeServerFailure {
		return fmt.Errorf("%w: %s of %s answered %s", ErrThrottled, op, name, dns.RcodeToString[rcode])
	}
	return fmt.Errorf("%w: %s of %s answered %s", ErrRejected, op, name, dns.RcodeToString[rcode])
}

func rrHeaderOnly(record Record) []dns.RR {
	qtype := dns.StringToType[strings.ToUpper(record.Type)]
	rr := &dns.ANY{Hdr: dns.RR_Header{
		Name:   dns.Fqdn(record.Name),
		Rrtype: qtype,
		Class:  dns.ClassANY,
	}}
	return []dns.RR{rr}
}

func buildRRs(record Record) ([]dns.RR, error) {
	rrs := make([]dns.RR, 0, len(record.Values))
	name := dns.Fqdn(record.Name)
	rtype := strings.ToUpper(record.Type)
	for _, value := range record.Values {
		var text string
		switch rtype {
		case "SRV":
			text = fmt.Sprintf("%s %d IN SRV %d %d %d %s",
				name, record.TTL, record.Priority, record.Weight, record.Port, dns.Fqdn(value))
		case "TXT":
			text = fmt.Sprintf("%s %d IN TXT %q", name, record.TTL, value)
		case "CNAME":
			text = fmt.Sprintf("%s %d IN CNAME %s", name, record.TTL, dns.Fqdn(value))
		default:
			text = fmt.Sprintf("%s %d IN %s %s", name, record.TTL, rtype, value)
		}
		rr, err := dns.NewRR(text)
		if err != nil {
			return nil, fmt.Errorf("%w: cannot build %s record from %q: %v", ErrRejected, rtype, value, err)
		}
		rrs = append(rrs, rr)
	}
	return rrs, nil
}
