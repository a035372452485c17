package ids

import "testing"

func TestNewDeviceIDLength(t *testing.T) {
	d := NewDeviceID()
	if len(d.String()) != DeviceIDLength {
		t.Fatalf("expected length %d, got %d", DeviceIDLength, len(d.String()))
	}
}

func TestNewPairIDLength(t *testing.T) {
	p := NewPairID()
	if len(p.String()) != PairIDLength {
		t.Fatalf("expected length %d, got %d", PairIDLength, len(p.String()))
	}
}

func TestParseDeviceIDRejectsWrongLength(t *testing.T) {
	if _, err := ParseDeviceID("short"); err == nil {
		t.Fatal("expected error for short device id")
	}
}

func TestValidatePath(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"a/b/c.txt", false},
		{"", true},
		{"/a/b", true},
		{"a/../b", true},
		{"a/./b", true},
		{"a\\b", true},
		{"a//b", true},
	}

	for _, c := range cases {
		err := ValidatePath(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidatePath(%q) error = %v, wantErr %v", c.path, err, c.wantErr)
		}
	}
}
