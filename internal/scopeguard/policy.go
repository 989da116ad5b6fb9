package scopeguard

import (
	"net"
	"regexp"
	"strings"
)

type Verdict string

const (
	VerdictAllowed     Verdict = "allowed"
	VerdictAllowedWarn Verdict = "allowed_warn"
	VerdictDenied      Verdict = "denied"
)

type Decision struct {
	Target  string
	Verdict Verdict
	Reason  string
}

func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllowed || d.Verdict == VerdictAllowedWarn
}

var (
	ipv4CIDRPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}/\d{1,2}\b`)
	ipv4Pattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	domainPattern   = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}\b`)
)

type Policy struct {
	allowIPs     []net.IP
	allowNets    []*net.IPNet
	allowDomains []string
	strict       bool
}

func New(allowedIPs, allowedDomains []string, strict bool) *Policy {
	ips, nets := parseIPEntries(allowedIPs)
	domains := make([]string, 0, len(allowedDomains))
	for _, entry := range allowedDomains {
		domain := strings.ToLower(strings.TrimSpace(entry))
		if domain == "" {
			continue
		}
		domains = append(domains, domain)
	}
	return &Policy{
		allowIPs:     ips,
		allowNets:    nets,
		allowDomains: domains,
		strict:       strict,
	}
}

func (p *Policy) Strict() bool {
	return p != nil && p.strict
}

func (p *Policy) HasRules() bool {
	if p == nil {
		return false
	}
	return len(p.allowIPs) > 0 || len(p.allowNets) > 0 || len(p.allowDomains) > 0
}

// Check validates a single target (IP, CIDR block, or domain) against the
// policy. Malformed targets are Denied; they never surface as errors.
func (p *Policy) Check(rawTarget string) Decision {
	target := strings.ToLower(strings.TrimSpace(rawTarget))
	if target == "" {
		return Decision{Target: rawTarget, Verdict: VerdictDenied, Reason: "empty target"}
	}
	if p == nil {
		return p.miss(rawTarget, "no scope policy configured")
	}
	if target == "localhost" {
		target = "127.0.0.1"
	}

	if strings.Contains(target, "/") {
		_, network, err := net.ParseCIDR(target)
		if err != nil {
			return Decision{Target: rawTarget, Verdict: VerdictDenied, Reason: "malformed CIDR target"}
		}
		if p.matchNet(network) {
			return Decision{Target: rawTarget, Verdict: VerdictAllowed, Reason: "CIDR within allowed range"}
		}
		return p.miss(rawTarget, "CIDR outside allowed ranges")
	}

	if ip := net.ParseIP(target); ip != nil {
		if p.matchIP(ip) {
			return Decision{Target: rawTarget, Verdict: VerdictAllowed, Reason: "IP within allowed range"}
		}
		return p.miss(rawTarget, "IP outside allowed ranges")
	}

	if !domainPattern.MatchString(target) {
		return Decision{Target: rawTarget, Verdict: VerdictDenied, Reason: "malformed target"}
	}
	if p.matchDomain(target) {
		return Decision{Target: rawTarget, Verdict: VerdictAllowed, Reason: "domain within allowed suffixes"}
	}
	return p.miss(rawTarget, "domain outside allowed suffixes")
}

// ExtractTarget recovers the first IP, CIDR block, or domain mentioned in
// free text. Used to pre-screen queries before planning; returns "" when the
// text names no determinable target.
func ExtractTarget(text string) string {
	if match := ipv4CIDRPattern.FindString(text); match != "" {
		return match
	}
	if match := ipv4Pattern.FindString(text); match != "" {
		return match
	}
	for _, match := range domainPattern.FindAllString(text, -1) {
		lower := strings.ToLower(match)
		// Skip file-like tokens the domain pattern also matches.
		if looksLikeFileToken(lower) {
			continue
		}
		return lower
	}
	return ""
}

func (p *Policy) miss(target, reason string) Decision {
	if p.Strict() {
		return Decision{Target: target, Verdict: VerdictDenied, Reason: reason}
	}
	return Decision{Target: target, Verdict: VerdictAllowedWarn, Reason: reason + " (strict mode off)"}
}

func (p *Policy) matchIP(ip net.IP) bool {
	for _, allowed := range p.allowIPs {
		if allowed.Equal(ip) {
			return true
		}
	}
	for _, network := range p.allowNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func (p *Policy) matchNet(target *net.IPNet) bool {
	for _, network := range p.allowNets {
		if netContains(network, target) {
			return true
		}
	}
	return false
}

func (p *Policy) matchDomain(target string) bool {
	for _, domain := range p.allowDomains {
		if target == domain || strings.HasSuffix(target, "."+domain) {
			return true
		}
	}
	return false
}

func parseIPEntries(entries []string) ([]net.IP, []*net.IPNet) {
	ips := []net.IP{}
	nets := []*net.IPNet{}
	for _, entry := range entries {
		token := strings.ToLower(strings.TrimSpace(entry))
		if token == "" {
			continue
		}
		if strings.Contains(token, "/") {
			if _, network, err := net.ParseCIDR(token); err == nil {
				nets = append(nets, network)
			}
			continue
		}
		if ip := net.ParseIP(token); ip != nil {
			ips = append(ips, ip)
		}
	}
	return ips, nets
}

func netContains(container, target *net.IPNet) bool {
	if !container.Contains(target.IP) {
		return false
	}
	containerOnes, _ := container.Mask.Size()
	targetOnes, _ := target.Mask.Size()
	return containerOnes <= targetOnes
}

var fileLikeExtensions = map[string]struct{}{
	".cfg": {}, ".conf": {}, ".csv": {}, ".ini": {}, ".json": {}, ".log": {},
	".md": {}, ".out": {}, ".py": {}, ".sh": {}, ".txt": {}, ".xml": {},
	".yaml": {}, ".yml": {}, ".zip": {},
}

func looksLikeFileToken(token string) bool {
	idx := strings.LastIndex(token, ".")
	if idx < 0 {
		return false
	}
	_, ok := fileLikeExtensions[token[idx:]]
	return ok
}
