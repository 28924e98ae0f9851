package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termpilot/termpilot/internal/types"
)

func TestClassifyLocal(t *testing.T) {
	cases := []struct {
		command string
		want    types.RiskLevel
	}{
		{"ls -la", types.RiskSafe},
		{"echo hello", types.RiskSafe},
		{"rm old.log", types.RiskCaution},
		{"sudo systemctl status nginx", types.RiskCaution},
		{"cp a.txt b.txt", types.RiskCaution},
		{"rm -rf /tmp/build", types.RiskCritical},
		{"sudo rm /etc/hosts", types.RiskCritical},
		{"dd if=/dev/zero of=/dev/sda", types.RiskCritical},
		{"REBOOT", types.RiskCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyLocal(tc.command), "command %q", tc.command)
	}
}

func TestWarnings(t *testing.T) {
	warnings := Warnings("sudo rm -rf /var/cache")
	assert.NotEmpty(t, warnings)
	assert.Contains(t, warnings, "recursive force delete")
}

func TestPlanRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/plan", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "free up disk space", body["goal"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Plan{
			Steps: []PlannedCommand{
				{Command: "df -h", Reasoning: "check usage", Risk: types.RiskSafe},
				{Command: "rm -rf /tmp/cache", Reasoning: "clear cache", Risk: types.RiskCritical},
			},
			OverallRisk: types.RiskSafe,
		})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: 5 * time.Second})
	plan, err := c.Plan(context.Background(), "free up disk space")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)

	// Overall risk lifted to the riskiest step, confirmation forced.
	assert.Equal(t, types.RiskCritical, plan.OverallRisk)
	assert.True(t, plan.RequiresConfirmation)
}

func TestPlanFillsMissingStepRisk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"steps": []map[string]string{
				{"command": "rm -rf /tmp/x", "reasoning": "cleanup"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: 5 * time.Second})
	plan, err := c.Plan(context.Background(), "cleanup")
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, types.RiskCritical, plan.Steps[0].Risk)
}

func TestPlanUnconfigured(t *testing.T) {
	c := New(Config{})
	_, err := c.Plan(context.Background(), "anything")
	assert.Error(t, err)
}

func TestClassifyRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/classify", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"risk_level": "dangerous"})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: 5 * time.Second})
	assert.Equal(t, types.RiskDangerous, c.Classify(context.Background(), "ls"))
}

func TestClassifyFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, Timeout: 2 * time.Second})
	assert.Equal(t, types.RiskCritical, c.Classify(context.Background(), "rm -rf /tmp/x"))
	assert.Equal(t, types.RiskSafe, c.Classify(context.Background(), "ls"))
}
