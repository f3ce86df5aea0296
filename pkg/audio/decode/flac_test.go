// ABOUTME: Tests for FLAC decoder
// ABOUTME: Tests rejection of streams without the fLaC signature
package decode

import (
	"bytes"
	"testing"
)

func TestDecodeFLAC_InvalidSignature(t *testing.T) {
	_, _, err := DecodeFLAC(bytes.NewReader([]byte("RIFF0000WAVE")))
	if err == nil {
		t.Fatal("expected error for non-flac data, got nil")
	}
}
