package run

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomwork/loom/state"
)

func TestStatusTerminal(t *testing.T) {
	cases := []struct {
		status Status
		want   bool
	}{
		{StatusRunning, false},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, tc.status.Terminal(), "status %q", tc.status)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	record := &Record{
		ID:    "run-1",
		State: state.Document{"items": []any{"a"}},
		Log: []Step{
			{Index: 0, Node: "n", Tool: "t", Input: state.Document{"k": "in"}, Output: state.Document{"k": "out"}},
		},
	}

	cp := record.Clone()
	cp.State["items"].([]any)[0] = "mutated"
	cp.Log[0].Output["k"] = "mutated"
	cp.Log = append(cp.Log, Step{Index: 1})

	require.Equal(t, "a", record.State["items"].([]any)[0])
	require.Equal(t, "out", record.Log[0].Output["k"])
	require.Len(t, record.Log, 1)
}

func TestCloneLogNil(t *testing.T) {
	require.Nil(t, CloneLog(nil))
	require.Empty(t, CloneLog([]Step{}))
}
