package sysutil

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestSetLogLevel_AllVariants(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  DeBuG  ", zerolog.DebugLevel}, // case + trim
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel}, // empty -> info
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel}, // alias
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel}, // default
	}

	for _, tc := range cases {
		SetLogLevel(tc.in)
		if got := zerolog.GlobalLevel(); got != tc.want {
			t.Fatalf("SetLogLevel(%q) -> %v; want %v", tc.in, got, tc.want)
		}
	}
}

func TestIsTruthy(t *testing.T) {
	trues := []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"}
	falses := []string{"", "0", "false", "no", "off", "n", "  ", "random"}

	for _, v := range trues {
		if !IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = false; want true", v)
		}
	}
	for _, v := range falses {
		if IsTruthy(v) {
			t.Fatalf("IsTruthy(%q) = true; want false", v)
		}
	}
}

func TestFirstNonEmpty(t *testing.T) {
	// no args -> ""
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("FirstNonEmpty() = %q; want \"\"", got)
	}
	// only empties -> ""
	if got := FirstNonEmpty(" ", "\t", "\n"); got != "" {
		t.Fatalf("FirstNonEmpty(empties) = %q; want \"\"", got)
	}
	// picks first non-empty (preserves original spacing)
	if got := FirstNonEmpty("   ", "  hello  ", "world"); got != "  hello  " {
		t.Fatalf("FirstNonEmpty(...) = %q; want %q", got, "  hello  ")
	}
	// first already non-empty
	if got := FirstNonEmpty("alpha", "beta"); got != "alpha" {
		t.Fatalf("FirstNonEmpty(...) = %q; want %q", got, "alpha")
	}
}

func TestSetupLogger_JSONAndLevel(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	var buf bytes.Buffer
	lg := SetupLogger("warn", false, &buf)
	lg.Info().Msg("hidden")
	lg.Warn().Str("component", "test").Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"message":"shown"`) || !strings.Contains(out, `"service":"rolegate"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestSetupLogger_Pretty(t *testing.T) {
	orig := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(orig) })

	var buf bytes.Buffer
	lg := SetupLogger("debug", true, &buf)
	lg.Debug().Msg("pretty line")
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("pretty output should not be JSON: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "pretty line") {
		t.Fatalf("missing message: %s", buf.String())
	}
}

func TestMaskSecret(t *testing.T) {
	if got := MaskSecret("abc"); got != "***" {
		t.Fatalf("MaskSecret short = %q", got)
	}
	got := MaskSecret("MTIzNDU2Nzg5.secret-part")
	if !strings.HasPrefix(got, "MTIzND...") || strings.Contains(got, "secret") {
		t.Fatalf("MaskSecret leaked or lost prefix: %q", got)
	}
	if !strings.HasSuffix(got, "(24 chars)") {
		t.Fatalf("MaskSecret length suffix = %q", got)
	}
}
