package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionTo(t *testing.T) {
	cases := []struct {
		name    string
		from    ActionStatus
		to      ActionStatus
		wantErr error
	}{
		{"pending to approved", StatusPending, StatusApproved, nil},
		{"pending to auto approved", StatusPending, StatusAutoApproved, nil},
		{"pending to rejected", StatusPending, StatusRejected, nil},
		{"pending straight to executed", StatusPending, StatusExecuted, ErrInvalidTransition},
		{"approved to executed", StatusApproved, StatusExecuted, nil},
		{"auto approved to executed", StatusAutoApproved, StatusExecuted, nil},
		{"approved to rejected", StatusApproved, StatusRejected, ErrAlreadyDecided},
		{"approved twice", StatusApproved, StatusApproved, ErrAlreadyDecided},
		{"rejected to anything", StatusRejected, StatusApproved, ErrAlreadyTerminal},
		{"executed to anything", StatusExecuted, StatusRejected, ErrAlreadyTerminal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := &ProposedAction{Status: tc.from}
			err := a.CanTransitionTo(tc.to)
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestTerminalAndApprovable(t *testing.T) {
	assert.False(t, (&ProposedAction{Status: StatusPending}).Terminal())
	assert.True(t, (&ProposedAction{Status: StatusRejected}).Terminal())
	assert.True(t, (&ProposedAction{Status: StatusExecuted}).Terminal())

	assert.True(t, (&ProposedAction{Status: StatusApproved}).Approvable())
	assert.True(t, (&ProposedAction{Status: StatusAutoApproved}).Approvable())
	assert.False(t, (&ProposedAction{Status: StatusPending}).Approvable())
	assert.False(t, (&ProposedAction{Status: StatusExecuted}).Approvable())
}

func TestDefaultRulesOrdering(t *testing.T) {
	rules := DefaultRules()
	require.NotEmpty(t, rules)

	seen := map[string]bool{}
	for i, r := range rules {
		require.NotEmpty(t, r.ID)
		assert.False(t, seen[r.ID], "duplicate rule id %s", r.ID)
		seen[r.ID] = true
		if i > 0 {
			assert.Greater(t, r.Priority, rules[i-1].Priority)
		}
	}

	// The portfolio reject rule ships disabled.
	for _, r := range rules {
		if r.Decision == DecisionReject {
			assert.False(t, r.Enabled)
		}
	}
}
