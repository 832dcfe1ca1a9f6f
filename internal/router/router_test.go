package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"proxyengine/internal/addr"
	"proxyengine/pkg/session"
)

func mustDomain(t *testing.T, name string, port uint16) addr.Address {
	t.Helper()
	a, err := addr.FromDomain(name, port)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestDecideFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{Kind: KindDomainSuffix, Value: "example.com", OutboundTag: "proxy"},
		{Kind: KindDomainSuffix, Value: "com", OutboundTag: "direct"},
	}
	r := New(rules, nil, nil, "default")
	sess := &session.Session{Target: mustDomain(t, "www.example.com", 443)}
	tag, matched := r.Decide(sess)
	if tag != "proxy" || matched == nil {
		t.Fatalf("expected proxy/non-nil match, got %s/%v", tag, matched)
	}
}

func TestDecideFallsBackToDefault(t *testing.T) {
	r := New(nil, nil, nil, "direct")
	sess := &session.Session{Target: mustDomain(t, "anything.test", 80)}
	tag, matched := r.Decide(sess)
	if tag != "direct" || matched != nil {
		t.Fatalf("expected default with no match, got %s/%v", tag, matched)
	}
}

func TestDecideDomainSuffixExactEquality(t *testing.T) {
	r := New([]Rule{{Kind: KindDomainSuffix, Value: "example.com", OutboundTag: "proxy"}}, nil, nil, "direct")
	sess := &session.Session{Target: mustDomain(t, "example.com", 443)}
	if tag, _ := r.Decide(sess); tag != "proxy" {
		t.Fatalf("expected exact-equality suffix match to hit, got %s", tag)
	}
}

func TestDecideIPCIDR(t *testing.T) {
	prefix := netip.MustParsePrefix("10.0.0.0/8")
	r := New([]Rule{{Kind: KindIPCIDR, CIDR: prefix, OutboundTag: "lan"}}, nil, nil, "direct")
	sess := &session.Session{Target: addr.FromIP(netip.MustParseAddr("10.1.2.3"), 22)}
	if tag, _ := r.Decide(sess); tag != "lan" {
		t.Fatalf("expected lan, got %s", tag)
	}
}

func TestParseDomainBehavior(t *testing.T) {
	raw := []byte("+.example.com\ndomain:exact.test\ndomain_keyword:ads\n# comment\n")
	data, err := ParseDomain(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !data.MatchesDomain("sub.example.com") {
		t.Fatal("expected suffix match on sub.example.com")
	}
	if !data.MatchesDomain("exact.test") {
		t.Fatal("expected exact match on exact.test")
	}
	if !data.MatchesDomain("ads.tracker.net") {
		t.Fatal("expected keyword match containing ads")
	}
}

func TestParseIPCIDRBehavior(t *testing.T) {
	data, err := ParseIPCIDR([]byte("192.168.0.0/16\n10.0.0.0/8\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !data.MatchesIP(netip.MustParseAddr("192.168.1.1")) {
		t.Fatal("expected match within 192.168.0.0/16")
	}
}

func TestParseClassicalBehaviorSkipsUnknownPrefix(t *testing.T) {
	data, err := ParseClassical([]byte("DOMAIN-SUFFIX,example.com\nPROCESS-NAME,curl\nIP-CIDR,1.2.3.0/24,no-resolve\n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(data.DomainRules) != 1 || len(data.IPCIDRs) != 1 {
		t.Fatalf("expected 1 domain rule and 1 cidr, got %d/%d", len(data.DomainRules), len(data.IPCIDRs))
	}
}

func TestParseClashYAMLPayloadForm(t *testing.T) {
	raw := []byte("payload:\n  - DOMAIN-SUFFIX,example.com\n  - DOMAIN-SUFFIX,example.org\n")
	data, err := ParseClassical(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(data.DomainRules) != 2 {
		t.Fatalf("expected 2 rules from YAML payload form, got %d", len(data.DomainRules))
	}
}

func TestRuleProviderLazyLoadsOnFirstQuery(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("DOMAIN-SUFFIX,example.com\n"))
	}))
	defer srv.Close()

	p := NewRuleProvider("test", BehaviorClassical, ProviderHTTP, "", srv.URL, time.Hour, true, srv.Client())
	if hits != 0 {
		t.Fatal("expected no fetch before first Ensure call")
	}
	data := p.Ensure()
	if hits != 1 {
		t.Fatalf("expected exactly one fetch after first Ensure, got %d", hits)
	}
	if !data.MatchesDomain("www.example.com") {
		t.Fatal("expected loaded rule set to match")
	}
	p.Ensure()
	if hits != 1 {
		t.Fatalf("expected Ensure to not refetch once loaded, got %d hits", hits)
	}
}

func TestRuleProviderConditionalRefreshHandles304(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.Header.Get("If-Modified-Since") != "" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Last-Modified", "Tue, 01 Jan 2030 00:00:00 GMT")
		w.Write([]byte("DOMAIN-SUFFIX,example.com\n"))
	}))
	defer srv.Close()

	p := NewRuleProvider("test", BehaviorClassical, ProviderHTTP, "", srv.URL, time.Hour, false, srv.Client())
	if err := p.load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.refreshHTTP(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hits != 2 {
		t.Fatalf("expected 2 fetches (initial + conditional), got %d", hits)
	}
	data := p.Ensure()
	if !data.MatchesDomain("www.example.com") {
		t.Fatal("expected rule set to remain after a 304")
	}
}

func TestRuleSetRuleMatchesDomainOrIP(t *testing.T) {
	provider := NewRuleProvider("p1", BehaviorClassical, ProviderFile, "", "", 0, false, nil)
	provider.data = &RuleSetData{DomainRules: []DomainRule{{Kind: DomainSuffix, Value: "example.com"}}}
	provider.loaded.Store(true)

	providers := map[string]*RuleProvider{"p1": provider}
	r := New([]Rule{{Kind: KindRuleSet, Value: "p1", OutboundTag: "proxy"}}, providers, nil, "direct")
	sess := &session.Session{Target: mustDomain(t, "api.example.com", 443)}
	if tag, _ := r.Decide(sess); tag != "proxy" {
		t.Fatalf("expected proxy via rule-set match, got %s", tag)
	}
}
