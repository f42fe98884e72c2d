package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type componentState struct {
	name    string
	healthy bool
	message string
}

func seedHealth(states []componentState) {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
	for _, s := range states {
		RegisterComponent(s.name, s.healthy, s.message)
	}
}

func TestGetHealthStatusRanking(t *testing.T) {
	tests := []struct {
		name       string
		components []componentState
		expected   string
	}{
		{
			name: "all healthy",
			components: []componentState{
				{"store", true, ""},
				{"platform", true, ""},
				{"api", true, ""},
				{"observer", true, ""},
			},
			expected: "healthy",
		},
		{
			name: "stale observer only degrades",
			components: []componentState{
				{"store", true, ""},
				{"api", true, ""},
				{"observer", false, "liveness marker stale"},
			},
			expected: "degraded",
		},
		{
			name: "failed store is unhealthy",
			components: []componentState{
				{"store", false, "cannot open database"},
				{"api", true, ""},
			},
			expected: "unhealthy",
		},
		{
			name: "critical failure outranks degradation",
			components: []componentState{
				{"store", false, "cannot open database"},
				{"observer", false, "stale"},
			},
			expected: "unhealthy",
		},
		{
			name:       "nothing registered",
			components: nil,
			expected:   "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seedHealth(tt.components)

			health := GetHealth()
			if health.Status != tt.expected {
				t.Errorf("GetHealth().Status = %q, want %q", health.Status, tt.expected)
			}
			if len(health.Components) != len(tt.components) {
				t.Errorf("reported %d components, want %d", len(health.Components), len(tt.components))
			}
		})
	}
}

func TestGetHealthComponentDetail(t *testing.T) {
	seedHealth([]componentState{
		{"store", false, "database locked"},
	})

	health := GetHealth()
	if got := health.Components["store"]; got != "unhealthy: database locked" {
		t.Errorf("store detail = %q, want failure message included", got)
	}
}

func TestGetHealthVersionAndUptime(t *testing.T) {
	seedHealth([]componentState{{"api", true, ""}})
	SetVersion("1.0.0")

	health := GetHealth()
	if health.Version != "1.0.0" {
		t.Errorf("Version = %q, want %q", health.Version, "1.0.0")
	}
	if health.Uptime == "" {
		t.Error("Uptime missing from health response")
	}
}

func TestUpdateComponentReplacesState(t *testing.T) {
	seedHealth([]componentState{{"platform", true, "ok"}})

	UpdateComponent("platform", false, "submit rejected")

	comp := healthChecker.components["platform"]
	if comp.Healthy {
		t.Error("component still healthy after update")
	}
	if comp.Message != "submit rejected" {
		t.Errorf("Message = %q, want %q", comp.Message, "submit rejected")
	}
}

func TestGetReadinessGates(t *testing.T) {
	tests := []struct {
		name       string
		components []componentState
		expected   string
	}{
		{
			name: "all critical components ready",
			components: []componentState{
				{"store", true, ""},
				{"platform", true, ""},
				{"api", true, ""},
			},
			expected: "ready",
		},
		{
			name: "observer state does not gate readiness",
			components: []componentState{
				{"store", true, ""},
				{"platform", true, ""},
				{"api", true, ""},
				{"observer", false, "stale"},
			},
			expected: "ready",
		},
		{
			name: "missing critical component",
			components: []componentState{
				{"store", true, ""},
				{"api", true, ""},
			},
			expected: "not_ready",
		},
		{
			name: "unhealthy critical component",
			components: []componentState{
				{"store", false, "database locked"},
				{"platform", true, ""},
				{"api", true, ""},
			},
			expected: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seedHealth(tt.components)

			readiness := GetReadiness()
			if readiness.Status != tt.expected {
				t.Errorf("GetReadiness().Status = %q, want %q", readiness.Status, tt.expected)
			}
			if tt.expected == "not_ready" && readiness.Message == "" {
				t.Error("not_ready response should say which component it waits for")
			}
		})
	}
}

func TestHealthHandlerStatusCodes(t *testing.T) {
	tests := []struct {
		name         string
		components   []componentState
		expectedCode int
		expectedBody string
	}{
		{
			name:         "healthy serves 200",
			components:   []componentState{{"store", true, ""}},
			expectedCode: http.StatusOK,
			expectedBody: "healthy",
		},
		{
			// Degraded answers 200: reads still work, only accounting lags.
			name:         "degraded still serves 200",
			components:   []componentState{{"observer", false, "stale"}},
			expectedCode: http.StatusOK,
			expectedBody: "degraded",
		},
		{
			name:         "unhealthy serves 503",
			components:   []componentState{{"store", false, "broken"}},
			expectedCode: http.StatusServiceUnavailable,
			expectedBody: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seedHealth(tt.components)

			req := httptest.NewRequest("GET", "/healthz", nil)
			w := httptest.NewRecorder()
			HealthHandler()(w, req)

			if w.Code != tt.expectedCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.expectedCode)
			}

			var health HealthStatus
			if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if health.Status != tt.expectedBody {
				t.Errorf("body status = %q, want %q", health.Status, tt.expectedBody)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	seedHealth([]componentState{
		{"store", true, ""},
		{"platform", true, ""},
		{"api", true, ""},
	})

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "ready" {
		t.Errorf("body status = %q, want %q", readiness.Status, "ready")
	}
}

func TestReadyHandlerNotReady(t *testing.T) {
	// store and platform never registered
	seedHealth([]componentState{{"api", true, ""}})

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()
	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want 503", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if readiness.Status != "not_ready" {
		t.Errorf("body status = %q, want %q", readiness.Status, "not_ready")
	}
}
