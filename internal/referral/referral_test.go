package referral

import (
	"bytes"
	"context"
	"net/url"
	"testing"

	"github.com/carein/triageflow/internal/store"
)

func TestFromQuery(t *testing.T) {
	tests := []struct {
		query string
		want  string
	}{
		{"ref=%20ABC%20", "ABC"},
		{"referral=XYZ", "XYZ"},
		{"ref=A1&referral=B2", "A1"},
		{"ref=%20%20", ""},
		{"other=1", ""},
	}
	for _, tt := range tests {
		values, _ := url.ParseQuery(tt.query)
		if got := FromQuery(values); got != tt.want {
			t.Errorf("FromQuery(%q) = %q, want %q", tt.query, got, tt.want)
		}
	}
	if FromQuery(nil) != "" {
		t.Error("nil values should yield no code")
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewStore(store.NewInMemoryStore())

	if err := s.Save(ctx, "   "); err != nil {
		t.Fatalf("Save blank: %v", err)
	}
	if s.Code(ctx) != "" {
		t.Fatal("blank code should not be stored")
	}

	values, _ := url.ParseQuery("ref=INV-42")
	code, err := s.Capture(ctx, values)
	if err != nil || code != "INV-42" {
		t.Fatalf("Capture = %q, %v", code, err)
	}
	if s.ReferralCode(ctx) != "INV-42" {
		t.Errorf("stored code = %q", s.ReferralCode(ctx))
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if s.Code(ctx) != "" {
		t.Error("code should be cleared")
	}
}

func TestLinkBuilder(t *testing.T) {
	tests := []struct {
		builder LinkBuilder
		code    string
		want    string
	}{
		{LinkBuilder{}, "ABC", "https://triage.carein.cloud/r/ABC"},
		{LinkBuilder{BaseURL: "https://example.org/", Path: "//invite"}, "a b", "https://example.org/invite/a%20b"},
	}
	for _, tt := range tests {
		if got := tt.builder.URL(tt.code); got != tt.want {
			t.Errorf("URL(%q) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestWriteQR(t *testing.T) {
	var buf bytes.Buffer
	link := LinkBuilder{}.WriteQR(&buf, "ABC")
	if link != "https://triage.carein.cloud/r/ABC" {
		t.Errorf("unexpected link %q", link)
	}
	if buf.Len() == 0 {
		t.Error("expected QR output")
	}
}
