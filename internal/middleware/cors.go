package middleware

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CORSConfig lists the origins, methods and headers the box web client may use.
// Entries in AllowedOrigins are full origins ("https://box.example.com") or
// wildcard subdomains ("https://*.example.com"). An empty list denies every
// cross-origin request.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	ExposedHeaders []string
	MaxAge         int
}

// DefaultCORSConfig returns the box API defaults with no origins allowed.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", RequestIDHeader, "Accept", "Accept-Language"},
		ExposedHeaders: []string{
			RequestIDHeader,
			"X-Next-Cursor",
			"Content-Disposition",
			"X-RateLimit-Remaining",
			"X-RateLimit-Reset",
		},
		MaxAge: 86400,
	}
}

// originRule matches one configured origin.
type originRule struct {
	scheme string
	host   string
	suffix bool
}

type corsPolicy struct {
	rules   []originRule
	methods string
	headers string
	exposed string
	maxAge  string
}

func newCORSPolicy(cfg CORSConfig) corsPolicy {
	p := corsPolicy{
		methods: strings.Join(cfg.AllowedMethods, ", "),
		headers: strings.Join(cfg.AllowedHeaders, ", "),
		exposed: strings.Join(cfg.ExposedHeaders, ", "),
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	for _, raw := range cfg.AllowedOrigins {
		if rule, ok := parseOriginRule(raw); ok {
			p.rules = append(p.rules, rule)
		}
	}
	return p
}

func parseOriginRule(raw string) (originRule, bool) {
	scheme, host, ok := strings.Cut(strings.ToLower(strings.TrimSpace(raw)), "://")
	if !ok || scheme == "" || host == "" {
		return originRule{}, false
	}
	if rest, wildcard := strings.CutPrefix(host, "*."); wildcard {
		return originRule{scheme: scheme, host: "." + rest, suffix: true}, rest != ""
	}
	return originRule{scheme: scheme, host: host}, true
}

// allows reports whether origin matches a configured rule.
// A wildcard rule matches subdomains only, never the bare domain.
func (p corsPolicy) allows(origin string) bool {
	u, err := url.Parse(strings.ToLower(origin))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	for _, rule := range p.rules {
		if rule.scheme != u.Scheme {
			continue
		}
		if rule.suffix {
			if strings.HasSuffix(u.Host, rule.host) && len(u.Host) > len(rule.host) {
				return true
			}
			continue
		}
		if rule.host == u.Host {
			return true
		}
	}
	return false
}

// CORS answers preflight requests and decorates responses for allowed origins.
// Preflights from other origins get 403; their simple requests pass through
// without CORS headers so the browser blocks the response.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	policy := newCORSPolicy(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			preflight := r.Method == http.MethodOptions
			if !policy.allows(origin) {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			if policy.exposed != "" {
				h.Set("Access-Control-Expose-Headers", policy.exposed)
			}

			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Methods", policy.methods)
			h.Set("Access-Control-Allow-Headers", policy.headers)
			if policy.maxAge != "" {
				h.Set("Access-Control-Max-Age", policy.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
