package bridge

import (
	"net/url"
	"strings"
)

type builtinOrigin struct {
	scheme  string
	host    string
	portAny bool
}

// Loopback origins are always accepted so a locally served dashboard
// works without configuration.
var builtinOrigins = []builtinOrigin{
	{scheme: "http", host: "localhost", portAny: true},
	{scheme: "http", host: "127.0.0.1", portAny: true},
	{scheme: "https", host: "localhost", portAny: true},
}

func isBuiltinOrigin(u *url.URL) bool {
	if u == nil {
		return false
	}
	hostname := u.Hostname()
	port := u.Port()
	for _, b := range builtinOrigins {
		if u.Scheme != b.scheme {
			continue
		}
		if hostname != b.host {
			continue
		}
		if !b.portAny && port != "" {
			continue
		}
		return true
	}
	return false
}

type originPolicy struct {
	exact map[string]struct{}
	any   bool
}

func newOriginPolicy(origins []string) *originPolicy {
	p := &originPolicy{exact: make(map[string]struct{}, len(origins))}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		switch o {
		case "":
		case "*":
			p.any = true
		default:
			p.exact[strings.ToLower(o)] = struct{}{}
		}
	}
	return p
}

func (p *originPolicy) allowed(origin string) bool {
	if p.any {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if isBuiltinOrigin(u) {
		return true
	}
	_, ok := p.exact[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}
