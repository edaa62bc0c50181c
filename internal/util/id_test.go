package util

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewID(t *testing.T) {
	plain := NewID("")
	if _, err := uuid.Parse(plain); err != nil {
		t.Fatalf("NewID(\"\") = %q is not a uuid: %v", plain, err)
	}
	prefixed := NewID("cmt")
	if !strings.HasPrefix(prefixed, "cmt_") || len(prefixed) != len("cmt_")+32 {
		t.Fatalf("NewID(\"cmt\") = %q", prefixed)
	}
	if NewID("cmt") == prefixed {
		t.Fatal("ids should not repeat")
	}
}
