package secaudit

import (
	"testing"

	"proxyengine/internal/engineconfig"
)

func minimalConfig() *engineconfig.Config {
	return &engineconfig.Config{
		Outbounds: []engineconfig.OutboundConfig{
			{Tag: "direct", Protocol: "direct"},
		},
	}
}

func TestAuditCleanConfigNoWarnings(t *testing.T) {
	report := Audit(minimalConfig())
	if len(report.Warnings) != 0 || report.Blocked {
		t.Fatalf("expected no warnings, got %+v", report)
	}
}

func TestAuditAllowInsecureWarns(t *testing.T) {
	cfg := minimalConfig()
	cfg.Outbounds = append(cfg.Outbounds, engineconfig.OutboundConfig{
		Tag: "insecure-vless", Protocol: "vless",
		Settings: engineconfig.Settings{AllowInsecure: true, Password: "x"},
	})
	report := Audit(cfg)
	if !hasCode(report, "SEC_TLS_INSECURE") {
		t.Fatal("expected SEC_TLS_INSECURE warning")
	}
	if report.Blocked {
		t.Fatal("allow_insecure warning must not block startup")
	}
}

func TestAuditAPIExternalNoSecretBlocks(t *testing.T) {
	cfg := minimalConfig()
	cfg.API = &engineconfig.APIConfig{Listen: "0.0.0.0", Port: 9090}
	report := Audit(cfg)
	if !report.Blocked {
		t.Fatal("expected external API without secret to block")
	}
	if !hasCode(report, "SEC_API_NO_SECRET") {
		t.Fatal("expected SEC_API_NO_SECRET code")
	}
}

func TestAuditAPILocalhostNoSecretInfoOnly(t *testing.T) {
	cfg := minimalConfig()
	cfg.API = &engineconfig.APIConfig{Listen: "127.0.0.1", Port: 9090}
	report := Audit(cfg)
	if report.Blocked {
		t.Fatal("localhost API without secret must not block")
	}
	if !hasCode(report, "SEC_API_LOCAL_NO_SECRET") {
		t.Fatal("expected SEC_API_LOCAL_NO_SECRET code")
	}
}

func TestAuditEmptyPasswordWarns(t *testing.T) {
	cfg := minimalConfig()
	cfg.Outbounds = append(cfg.Outbounds, engineconfig.OutboundConfig{
		Tag: "trojan-out", Protocol: "trojan",
		Settings: engineconfig.Settings{Password: ""},
	})
	report := Audit(cfg)
	if !hasCode(report, "SEC_EMPTY_PASSWORD") {
		t.Fatal("expected SEC_EMPTY_PASSWORD warning")
	}
}

func TestAuditWeakCipherWarns(t *testing.T) {
	cfg := minimalConfig()
	cfg.Outbounds = append(cfg.Outbounds, engineconfig.OutboundConfig{
		Tag: "weak-ss", Protocol: "shadowsocks",
		Settings: engineconfig.Settings{Method: "rc4-md5", Password: "x"},
	})
	report := Audit(cfg)
	if !hasCode(report, "SEC_WEAK_CIPHER") {
		t.Fatal("expected SEC_WEAK_CIPHER warning")
	}
}

func TestAuditStrongCipherNoWarning(t *testing.T) {
	cfg := minimalConfig()
	cfg.Outbounds = append(cfg.Outbounds, engineconfig.OutboundConfig{
		Tag: "strong-ss", Protocol: "shadowsocks",
		Settings: engineconfig.Settings{Method: "aes-256-gcm", Password: "x"},
	})
	report := Audit(cfg)
	if hasCode(report, "SEC_WEAK_CIPHER") {
		t.Fatal("did not expect a warning for a strong cipher")
	}
}

func TestMaskSensitiveHidesMiddle(t *testing.T) {
	cases := map[string]string{
		"my-super-secret-password": "my****rd",
		"ab":                       "****",
		"abcde":                    "ab****de",
	}
	for in, want := range cases {
		if got := MaskSensitive(in); got != want {
			t.Fatalf("MaskSensitive(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateAndWarnReturnsErrorWhenBlocked(t *testing.T) {
	cfg := minimalConfig()
	cfg.API = &engineconfig.APIConfig{Listen: "0.0.0.0", Port: 9090}
	if err := ValidateAndWarn(cfg, nil); err == nil {
		t.Fatal("expected error when a Block-severity finding is present")
	}
}

func TestValidateAndWarnSucceedsWhenClean(t *testing.T) {
	if err := ValidateAndWarn(minimalConfig(), nil); err != nil {
		t.Fatalf("expected no error for a clean config, got %v", err)
	}
}

func hasCode(report Report, code string) bool {
	for _, w := range report.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}
