package telephony

import (
	"errors"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "5551234567", want: "+15551234567"},
		{in: "(555) 123-4567", want: "+15551234567"},
		{in: "555.123.4567", want: "+15551234567"},
		{in: "+15551234567", want: "+15551234567"},
		{in: "+447911123456", want: "+447911123456"},
		{in: "15551234567", want: "+15551234567"},
		{in: "919876543210", want: "+919876543210"},
		{in: "", wantErr: true},
		{in: "12345", wantErr: true},
		{in: "555-CALL-NOW", wantErr: true},
		{in: "+1234567890123456", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizePhone(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidPhone) {
				t.Fatalf("NormalizePhone(%q): expected ErrInvalidPhone, got %q, %v", tt.in, got, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizePhone(%q): unexpected err %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePhone_DomesticAndIdentityProperties(t *testing.T) {
	for _, d := range []string{"2025550143", "3105550199", "9999999999", "1000000000"} {
		got, err := NormalizePhone(d)
		if err != nil || got != "+1"+d {
			t.Fatalf("domestic %q: got %q, %v", d, got, err)
		}
	}
	for _, e := range []string{"+15551234567", "+4930123456", "+861012345678"} {
		got, err := NormalizePhone(e)
		if err != nil || got != e {
			t.Fatalf("identity %q: got %q, %v", e, got, err)
		}
	}
}
