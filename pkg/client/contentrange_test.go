package client

import "testing"

func TestParseContentRange(t *testing.T) {
	tests := []struct {
		name        string
		header      string
		expected    ContentRange
		expectError bool
	}{
		{
			name:     "offers unit",
			header:   "offres 0-149/320",
			expected: ContentRange{Unit: "offres", First: 0, Last: 149, Total: 320},
		},
		{
			name:     "last page",
			header:   "offres 300-319/320",
			expected: ContentRange{Unit: "offres", First: 300, Last: 319, Total: 320},
		},
		{
			name:     "no unit",
			header:   "0-49/50",
			expected: ContentRange{First: 0, Last: 49, Total: 50},
		},
		{
			name:     "unknown total",
			header:   "items 0-149/*",
			expected: ContentRange{Unit: "items", First: 0, Last: 149, Total: UnknownTotal},
		},
		{name: "empty", header: "", expectError: true},
		{name: "missing total", header: "offres 0-149", expectError: true},
		{name: "bad total", header: "offres 0-149/abc", expectError: true},
		{name: "bad span", header: "offres 0/320", expectError: true},
		{name: "inverted span", header: "offres 149-0/320", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContentRange(tt.header)
			if tt.expectError {
				if err == nil {
					t.Errorf("ParseContentRange(%q) expected error, got %+v", tt.header, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseContentRange(%q) error = %v", tt.header, err)
			}
			if got != tt.expected {
				t.Errorf("ParseContentRange(%q) = %+v, want %+v", tt.header, got, tt.expected)
			}
		})
	}
}

func TestFormatRange(t *testing.T) {
	tests := []struct {
		window   Window
		expected string
	}{
		{Window{Offset: 0, Limit: 150}, "0-149"},
		{Window{Offset: 150, Limit: 150}, "150-299"},
		{Window{Offset: 3000, Limit: 150}, "3000-3149"},
		{Window{Offset: 10, Limit: 1}, "10-10"},
	}

	for _, tt := range tests {
		if got := FormatRange(tt.window); got != tt.expected {
			t.Errorf("FormatRange(%+v) = %q, want %q", tt.window, got, tt.expected)
		}
	}
}
