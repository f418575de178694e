package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestIncrementOAuthGrant(t *testing.T) {
	before := testutil.ToFloat64(OAuthGrantTotal.WithLabelValues("refresh_token", ResultFailure))
	IncrementOAuthGrant("refresh_token", false)
	after := testutil.ToFloat64(OAuthGrantTotal.WithLabelValues("refresh_token", ResultFailure))

	if after-before != 1 {
		t.Errorf("IncrementOAuthGrant() delta = %v, want 1", after-before)
	}
}

func TestSetMaintainerState(t *testing.T) {
	all := []string{"no_token", "valid", "broken"}

	SetMaintainerState("valid", all)

	tests := []struct {
		state    string
		expected float64
	}{
		{state: "no_token", expected: 0},
		{state: "valid", expected: 1},
		{state: "broken", expected: 0},
	}
	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			value := testutil.ToFloat64(MaintainerState.WithLabelValues(tt.state))
			if value != tt.expected {
				t.Errorf("state %s = %v, want %v", tt.state, value, tt.expected)
			}
		})
	}
}
