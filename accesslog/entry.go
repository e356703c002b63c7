// Package accesslog parses the proxy's detailed access log and folds it
// into audit statistics.
package accesslog

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// lineRe matches one firewall_detailed line: timestamp, client address,
// requested host, destination address, protocol, method, status,
// decision:hierarchy, URL, quoted user agent.
var lineRe = regexp.MustCompile(`^(\d+\.\d+) ([\d.]+):(\d+) ([^:\s]+):(\d+) ([^:\s]+):(\d+) (\S+) (\w+) (\d+) ([^:]+):(\S+) (\S+) "([^"]*)"$`)

// Entry is one parsed access-log line.
type Entry struct {
	Timestamp  float64 // seconds since epoch
	ClientIP   string
	ClientPort int
	Host       string
	HostPort   int
	DestIP     string
	DestPort   int
	Protocol   string
	Method     string
	Status     int
	Decision   string
	Hierarchy  string
	URL        string
	UserAgent  string

	Domain  string
	Allowed bool
	HTTPS   bool
}

// Time converts the raw timestamp to wall-clock time.
func (e *Entry) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

// ParseLine parses one log line. The second return is false for lines that
// do not match the format; callers skip those rather than failing.
func ParseLine(line string) (*Entry, bool) {
	m := lineRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return nil, false
	}

	ts, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, false
	}

	e := &Entry{
		Timestamp:  ts,
		ClientIP:   m[2],
		ClientPort: atoi(m[3]),
		Host:       m[4],
		HostPort:   atoi(m[5]),
		DestIP:     m[6],
		DestPort:   atoi(m[7]),
		Protocol:   m[8],
		Method:     m[9],
		Status:     atoi(m[10]),
		Decision:   m[11],
		Hierarchy:  m[12],
		URL:        m[13],
		UserAgent:  m[14],
	}
	e.Allowed = !strings.Contains(strings.ToUpper(e.Decision), "DENIED")
	e.HTTPS = e.Method == "CONNECT"
	e.Domain = extractDomain(e.Host, e.URL)
	return e, true
}

// extractDomain prefers the requested-host field; when the proxy logged it
// as "-" the domain comes from the URL instead (the CONNECT target or the
// scheme-stripped prefix).
func extractDomain(host, url string) string {
	if host != "" && host != "-" {
		return strings.ToLower(host)
	}
	u := url
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
	}
	if i := strings.IndexByte(u, '/'); i >= 0 {
		u = u[:i]
	}
	if h, _, err := net.SplitHostPort(u); err == nil {
		u = h
	}
	if u == "" {
		return "-"
	}
	return strings.ToLower(u)
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
