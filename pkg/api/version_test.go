package api

import "testing"

func TestReleaseOf(t *testing.T) {
	var testCases = []struct {
		name        string
		build       string
		expected    string
		expectedErr bool
	}{
		{
			name:     "nightly build",
			build:    "4.17.0-0.nightly-2024-06-01-123456",
			expected: "4.17",
		},
		{
			name:     "stable build",
			build:    "4.16.11",
			expected: "4.16",
		},
		{
			name:        "garbage",
			build:       "not-a-version",
			expectedErr: true,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			actual, err := ReleaseOf(testCase.build)
			if testCase.expectedErr != (err != nil) {
				t.Fatalf("expected error %t, got %v", testCase.expectedErr, err)
			}
			if actual != testCase.expected {
				t.Errorf("expected %q, got %q", testCase.expected, actual)
			}
		})
	}
}

func TestPreviousMinor(t *testing.T) {
	actual, err := PreviousMinor("4.17")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if actual != "4.16" {
		t.Errorf("expected 4.16, got %q", actual)
	}
	if _, err := PreviousMinor("5.0"); err == nil {
		t.Error("expected error for release without previous minor")
	}
}
