package config

import (
	"flag"
	"testing"
)

func TestRegisterFlagsDefaults(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Addr() != "0.0.0.0:11112" {
		t.Errorf("Addr() = %q, want 0.0.0.0:11112", c.Addr())
	}
	if !c.SingleInterfaceMode() {
		t.Error("default download/upload interfaces should be equal (single-interface mode)")
	}
	if c.LicenseKey != "self-hosted" {
		t.Errorf("LicenseKey = %q, want self-hosted", c.LicenseKey)
	}
}

func TestSingleInterfaceModeFalseWhenInterfacesDiffer(t *testing.T) {
	c := Config{DownloadInterface: "eth0", UploadInterface: "eth1"}
	if c.SingleInterfaceMode() {
		t.Error("expected SingleInterfaceMode to be false for distinct NICs")
	}
}

func TestRegisterFlagsOverride(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := RegisterFlags(fs)
	if err := fs.Parse([]string{"-host=127.0.0.1", "-port=9999"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Addr() != "127.0.0.1:9999" {
		t.Errorf("Addr() = %q, want 127.0.0.1:9999", c.Addr())
	}
}
