package decompiler_test

import (
	"errors"
	"testing"

	"github.com/SlidyBat/SmxDecompiler/internal/decompiler"
	"github.com/stretchr/testify/require"
)

func TestDecodeErrorUnwrapsToUnderlyingCause(t *testing.T) {
	cause := errors.New("truncated operand")
	err := &decompiler.DecodeError{Function: "DoThing", Err: cause}

	require.Contains(t, err.Error(), "DoThing")
	require.ErrorIs(t, err, cause)
}

func TestInvalidCfgReportsFunctionAndReason(t *testing.T) {
	err := &decompiler.InvalidCfg{Function: "OnRoundEnd", Reason: "edge target not a leader"}
	require.Contains(t, err.Error(), "OnRoundEnd")
	require.Contains(t, err.Error(), "edge target not a leader")
}

func TestUnrecoverableTypeReportsDetail(t *testing.T) {
	err := &decompiler.UnrecoverableType{Function: "OnPluginStart", Detail: "no RTTI entry for local at -8"}
	require.Contains(t, err.Error(), "OnPluginStart")
	require.Contains(t, err.Error(), "no RTTI entry")
}

func TestUnsupportedPatternReportsPassAndDetail(t *testing.T) {
	err := &decompiler.UnsupportedPattern{Function: "Foo", Pass: "fixShortCircuitConditions", Detail: "latch had 3 predecessors"}
	require.Contains(t, err.Error(), "Foo")
	require.Contains(t, err.Error(), "fixShortCircuitConditions")
}

func TestFunctionErrorsAccumulatesWarnings(t *testing.T) {
	fe := &decompiler.FunctionErrors{Function: "Foo"}
	require.False(t, fe.HasWarnings())

	fe.Add(nil)
	require.False(t, fe.HasWarnings())

	fe.Add(&decompiler.UnrecoverableType{Function: "Foo", Detail: "x"})
	require.True(t, fe.HasWarnings())
	require.Len(t, fe.Warnings, 1)
}
