package procerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Message(t *testing.T) {
	t.Parallel()
	err := &Error{Kind: KindExtraction, Op: "extract", PlotID: "p1", Date: "2024-06-01", Err: errors.New("bad header")}
	assert.Equal(t, "extraction extract plot=p1 date=2024-06-01: bad header", err.Error())
	assert.Equal(t, "index_computation", KindIndexComputation.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}

func TestWrap_PreservesCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("disk full")
	err := Wrap(KindPersistence, "save record", cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindPersistence, KindOf(err))
	assert.NoError(t, Wrap(KindPersistence, "noop", nil))
}

func TestKindOf_ThroughFmtWrapping(t *testing.T) {
	t.Parallel()
	inner := New(KindDownload, "download", "timeout after %s", "120s")
	outer := fmt.Errorf("date 2024-06-01: %w", inner)

	assert.Equal(t, KindDownload, KindOf(outer))
	assert.True(t, IsRetryable(outer))
	assert.False(t, IsFatal(outer))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestIs_MatchesByKind(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("ctx: %w", New(KindConfiguration, "load plots", "no plots"))
	assert.ErrorIs(t, err, &Error{Kind: KindConfiguration})
	assert.NotErrorIs(t, err, &Error{Kind: KindValidation})
	assert.True(t, IsFatal(err))
}

func TestWithUnit(t *testing.T) {
	t.Parallel()
	err := WithUnit(New(KindIndexComputation, "calculate", "band B05 missing"), "p9", "2024-07-04")
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "p9", pe.PlotID)
	assert.Equal(t, "2024-07-04", pe.Date)
	assert.Equal(t, KindIndexComputation, pe.Kind)

	plain := WithUnit(errors.New("boom"), "p1", "")
	require.ErrorAs(t, plain, &pe)
	assert.Equal(t, KindUnknown, pe.Kind)
	assert.Nil(t, WithUnit(nil, "p", "d"))
}
