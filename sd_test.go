//go:build windows

package ipcpipe

import "testing"

func TestLookupInvalidSid(t *testing.T) {
	_, err := LookupSidByName(".\\weoifjdsklfj")
	aerr, ok := err.(*AccountLookupError)
	if !ok || aerr.Err != cERROR_NONE_MAPPED {
		t.Fatalf("expected AccountLookupError with ERROR_NONE_MAPPED, got %s", err)
	}
}

func TestLookupEmptyNameFails(t *testing.T) {
	_, err := LookupSidByName("")
	aerr, ok := err.(*AccountLookupError)
	if !ok || aerr.Err != cERROR_NONE_MAPPED {
		t.Fatalf("expected AccountLookupError with ERROR_NONE_MAPPED, got %s", err)
	}
}

func TestSddlRoundTrip(t *testing.T) {
	const sddl = "O:BAG:BAD:(A;;GA;;;WD)"
	sd, err := SddlToSecurityDescriptor(sddl)
	if err != nil {
		t.Fatalf("SddlToSecurityDescriptor: %v", err)
	}
	back, err := SecurityDescriptorToSddl(sd)
	if err != nil {
		t.Fatalf("SecurityDescriptorToSddl: %v", err)
	}
	if back == "" {
		t.Fatal("expected a non-empty SDDL string round trip")
	}
}
