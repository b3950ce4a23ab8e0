package codes

import "testing"

func TestNormalizeNDC(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"1234-5678-90", "01234567890", true},
		{"12345-678-90", "12345067890", true},
		{"12345-6789-0", "12345678900", true},
		{"12345-6789-01", "12345678901", true},
		{"12345678901", "12345678901", true},
		{"1234567890", "", false},
		{"12-34-56", "", false},
		{"abcde-6789-01", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeNDC(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeNDC(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestValidNPI(t *testing.T) {
	valid := []string{"1234567893", "1245319599", "1003000126"}
	for _, npi := range valid {
		if !ValidNPI(npi) {
			t.Errorf("expected %s to be valid", npi)
		}
	}
	invalid := []string{"1234567890", "123456789", "12345678931", "12345A7893"}
	for _, npi := range invalid {
		if ValidNPI(npi) {
			t.Errorf("expected %s to be invalid", npi)
		}
	}
}

func TestValidBIN(t *testing.T) {
	if !ValidBIN("610014") {
		t.Error("expected 610014 valid")
	}
	for _, bin := range []string{"61001", "6100145", "61001A"} {
		if ValidBIN(bin) {
			t.Errorf("expected %s invalid", bin)
		}
	}
}

func TestValidDEA(t *testing.T) {
	if !ValidDEA("AB1234563") {
		t.Error("expected AB1234563 valid")
	}
	if ValidDEA("AB1234567") {
		t.Error("expected bad checksum to fail")
	}
	if ValidDEA("A1234563") {
		t.Error("expected short number to fail")
	}
}

func TestFormatNDC(t *testing.T) {
	if got := FormatNDC("12345678901"); got != "12345-6789-01" {
		t.Errorf("FormatNDC = %s", got)
	}
}
