package store

import "testing"

func TestPartitionNames(t *testing.T) {
	if got := StaticPartition("v3"); got != "v3-static" {
		t.Errorf("StaticPartition: got %q", got)
	}
	if got := DynamicPartition("v3"); got != "v3-dynamic" {
		t.Errorf("DynamicPartition: got %q", got)
	}
}

func TestPartitionVersion(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"v3-static", "v3"},
		{"v3-dynamic", "v3"},
		{"2024.06-static", "2024.06"},
		{"unsuffixed", "unsuffixed"},
	}

	for _, tt := range tests {
		if got := PartitionVersion(tt.name); got != tt.want {
			t.Errorf("PartitionVersion(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}
