package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openshift-eng/release-verify/pkg/api"
)

func TestStart(t *testing.T) {
	var gotRequest ExecutionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/executions" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotRequest); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(ExecutionResponse{ID: "run-1", URL: "https://ci.example.com/run-1"}); err != nil {
			t.Fatalf("failed to encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Minute)
	build := api.Build{Name: "4.17.0-0.nightly-2024-06-01-123456", Architecture: api.ArchitectureAMD64, Kind: api.BuildKindNightly}
	run, err := client.Start(context.Background(), "periodic-ci-verify-e2e-aws", build, "4.16.11")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedRequest := ExecutionRequest{
		Job:          "periodic-ci-verify-e2e-aws",
		Payload:      "4.17.0-0.nightly-2024-06-01-123456",
		Architecture: "amd64",
		UpgradeFrom:  "4.16.11",
	}
	if diff := cmp.Diff(expectedRequest, gotRequest); diff != "" {
		t.Errorf("got incorrect execution request: %s", diff)
	}
	if run.ID != "run-1" || run.URL != "https://ci.example.com/run-1" {
		t.Errorf("got incorrect run identity: %+v", run)
	}
	if run.State != api.JobStatePending {
		t.Errorf("expected pending run, got %s", run.State)
	}
	if run.StartTime.IsZero() {
		t.Error("expected a start time on the dispatched run")
	}
}

func TestStartRejectsEmptyRunID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewEncoder(w).Encode(ExecutionResponse{}); err != nil {
			t.Fatalf("failed to encode response: %v", err)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Minute)
	if _, err := client.Start(context.Background(), "some-job", api.Build{Name: "4.17.0"}, ""); err == nil {
		t.Error("expected error for empty run id")
	}
}

func TestStatus(t *testing.T) {
	var testCases = []struct {
		name        string
		handler     http.HandlerFunc
		expected    api.JobState
		expectedErr bool
	}{
		{
			name: "pending",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/executions/run-1" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := json.NewEncoder(w).Encode(StatusResponse{ID: "run-1", State: api.JobStatePending}); err != nil {
					t.Fatalf("failed to encode response: %v", err)
				}
			},
			expected: api.JobStatePending,
		},
		{
			name: "success",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewEncoder(w).Encode(StatusResponse{ID: "run-1", State: api.JobStateSuccess}); err != nil {
					t.Fatalf("failed to encode response: %v", err)
				}
			},
			expected: api.JobStateSuccess,
		},
		{
			name: "unknown state rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if err := json.NewEncoder(w).Encode(StatusResponse{ID: "run-1", State: "exploded"}); err != nil {
					t.Fatalf("failed to encode response: %v", err)
				}
			},
			expectedErr: true,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(testCase.handler)
			defer server.Close()
			client := NewClient(server.URL, time.Minute)
			actual, err := client.Status(context.Background(), "run-1")
			if testCase.expectedErr != (err != nil) {
				t.Fatalf("expected error %t, got %v", testCase.expectedErr, err)
			}
			if actual != testCase.expected && !testCase.expectedErr {
				t.Errorf("expected state %s, got %s", testCase.expected, actual)
			}
		})
	}
}
