package agentmgr

import "testing"

func TestNormalizeNameCamelCase(t *testing.T) {
	if got := NormalizeName("fixParserBug"); got != "Fix Parser Bug" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeNameSeparators(t *testing.T) {
	if got := NormalizeName("fix_parser-bug:now"); got != "Fix Parser Bug Now" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeNameAcronym(t *testing.T) {
	if got := NormalizeName("callAPIClient"); got != "Call API Client" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeNameUpperRun(t *testing.T) {
	if got := NormalizeName("HTTPServerSetup"); got != "HTTP Server Setup" {
		t.Fatalf("got %q", got)
	}
}

func TestNormalizeNameEmpty(t *testing.T) {
	if got := NormalizeName("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
