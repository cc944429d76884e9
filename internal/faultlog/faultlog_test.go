package faultlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFailure(seq int64) Failure {
	return Failure{
		Time:        time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC),
		Transaction: "tx-1",
		Module:      "svc",
		Handler:     "boom",
		Seq:         seq,
		Err:         "deliberate failure",
	}
}

func TestFileSinkFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Record(sampleFailure(7)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	want := "2025-03-14 09:26:53.589793\n" +
		"svc.boom seq=7 tx=tx-1\n" +
		"deliberate failure\n" +
		"\n"
	assert.Equal(t, want, string(data))
}

func TestFileSinkIncludesStack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.log")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	fail := sampleFailure(1)
	fail.Stack = []byte("goroutine 1 [running]:\nmain.main()")
	require.NoError(t, sink.Record(fail))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "goroutine 1 [running]:")
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.log")

	sink, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Record(sampleFailure(1)))
	require.NoError(t, sink.Close())

	// Reopening appends instead of truncating.
	sink, err = NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, sink.Record(sampleFailure(2)))
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "seq=1")
	assert.Contains(t, string(data), "seq=2")
}
