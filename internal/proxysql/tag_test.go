package proxysql

import "testing"

func TestTagRoundTrip(t *testing.T) {
	redirect := FormatRedirectTag()
	shape, _, ok := ParseTag(redirect)
	if !ok || shape != ShapeRedirect {
		t.Fatalf("redirect round-trip: shape=%v ok=%v", shape, ok)
	}

	mirror := FormatMirrorTag(1700000000)
	shape, t0, ok := ParseTag(mirror)
	if !ok || shape != ShapeMirror || t0 != 1700000000 {
		t.Fatalf("mirror round-trip: shape=%v t0=%d ok=%v", shape, t0, ok)
	}
}

func TestParseTagRejectsUnmanaged(t *testing.T) {
	if _, _, ok := ParseTag("some operator comment"); ok {
		t.Fatal("expected unmanaged comment to be rejected")
	}
	if IsManaged("some operator comment") {
		t.Fatal("expected IsManaged false for unmanaged comment")
	}
}

func TestParseTagRejectsMalformedMirror(t *testing.T) {
	if _, _, ok := ParseTag(Sentinel + "mirror:notanumber"); ok {
		t.Fatal("expected malformed mirror timestamp to be rejected")
	}
}
