package monitoring

import "testing"

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...interface{}) { got = format })
	Logf("scan %s complete", "abc")
	if got != "scan %s complete" {
		t.Errorf("custom logger saw %q", got)
	}

	// nil installs a no-op, not a nil func
	SetLogger(nil)
	Logf("must not panic")
}

func TestLogfDefaultNotNil(t *testing.T) {
	if Logf == nil {
		t.Fatal("Logf is nil by default")
	}
}
