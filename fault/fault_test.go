package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omni/intent-bridge/fault"
)

func TestError_Is(t *testing.T) {
	t.Parallel()

	errStale := fault.Replay("stale_sequence", "")
	wrapped := fmt.Errorf("can't deliver: %w", errStale.Wrapf("got %d, last %d", 3, 5))

	require.ErrorIs(t, wrapped, fault.ErrReplay)
	require.ErrorIs(t, wrapped, errStale)
	require.NotErrorIs(t, wrapped, fault.ErrValidation)
	require.NotErrorIs(t, wrapped, fault.Replay("already_fulfilled", ""))
	require.Equal(t, "replay error: stale_sequence: got 3, last 5", errors.Unwrap(wrapped).Error())
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name      string
		Err       error
		Kind      fault.Kind
		Permanent bool
	}{
		{"authentication", fault.Authentication("untrusted_relay", ""), fault.KindAuthentication, true},
		{"decode", fmt.Errorf("x: %w", fault.Decode("unknown_type", "")), fault.KindDecode, true},
		{"replay", fault.Replay("stale_sequence", ""), fault.KindReplay, false},
		{"validation", fault.Validation("expired", ""), fault.KindValidation, false},
		{"plain", errors.New("boom"), fault.KindUnknown, false},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, test.Kind, fault.KindOf(test.Err))
			require.Equal(t, test.Permanent, fault.IsPermanent(test.Err))
		})
	}
}
