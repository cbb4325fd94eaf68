package smtp4j

import (
	"context"
	"crypto/rand"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/oklog/ulid/v2"
)

// entropy is a single shared source for ULID generation. ulid.ULID wants a
// monotonic-safe io.Reader; crypto/rand is slower than the math/rand the
// ulid package itself defaults to, but this is a test server generating at
// most a few hundred IDs a second, not a hot path.
var entropy = ulid.Monotonic(rand.Reader, 0)

// newID returns a sortable, collision-resistant identifier used for both
// connection and message correlation in logs and in the Session/Message
// IDs exposed to callers. Replaces the naive 8-random-bytes-as-hex scheme
// the library this was adapted from declared a ulid dependency for but
// never actually called.
func newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// reverseDNS resolves the PTR record for the client's IP address, for the
// remote_host field handleConn adds to a connection's log lines.
// Best-effort: callers should treat "" as "unknown", not an error.
func reverseDNS(ctx context.Context, addr net.Addr) string {
	ip := ipFromAddr(addr)
	if ip == nil {
		return ""
	}

	arpa, err := dns.ReverseAddr(ip.String())
	if err != nil {
		return ""
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	client := new(dns.Client)
	client.Timeout = 500 * time.Millisecond

	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(conf.Servers) == 0 {
		return ""
	}

	server := net.JoinHostPort(conf.Servers[0], conf.Port)
	resp, _, err := client.ExchangeContext(ctx, msg, server)
	if err != nil || resp == nil || len(resp.Answer) == 0 {
		return ""
	}

	for _, ans := range resp.Answer {
		if ptr, ok := ans.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, ".")
		}
	}
	return ""
}

func ipFromAddr(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	case *net.IPAddr:
		return a.IP
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
		return net.ParseIP(host)
	}
}
