package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func positions(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Position)
	}

	return out
}

func TestMemoryTransport_StartPositions(t *testing.T) {
	transport := NewMemoryTransport("0")
	ctx := t.Context()

	_, err := transport.Append("0", []byte("a"), []byte("b"))
	require.NoError(t, err)
	cutoff := time.Now()
	time.Sleep(2 * time.Millisecond)
	last, err := transport.Append("0", []byte("c"))
	require.NoError(t, err)
	require.Equal(t, "3", last)

	tests := []struct {
		name  string
		start StartPosition
		want  []string
	}{
		{"earliest", Earliest(), []string{"1", "2", "3"}},
		{"after", After("1"), []string{"2", "3"}},
		{"after last", After("3"), []string{}},
		{"from time", FromTime(cutoff), []string{"3"}},
		{"latest", Latest(), []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := transport.OpenReader(ctx, "0", tt.start)
			require.NoError(t, err)
			defer reader.Close()

			records, err := reader.ReadBatch(ctx, 10, 10*time.Millisecond)
			require.NoError(t, err)
			require.Equal(t, tt.want, positions(records))
		})
	}
}

func TestMemoryTransport_Reader(t *testing.T) {
	t.Run("batches are capped", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		_, err := transport.Append("0", []byte("a"), []byte("b"), []byte("c"))
		require.NoError(t, err)

		reader, err := transport.OpenReader(t.Context(), "0", Earliest())
		require.NoError(t, err)

		first, err := reader.ReadBatch(t.Context(), 2, time.Second)
		require.NoError(t, err)
		require.Equal(t, []string{"1", "2"}, positions(first))

		second, err := reader.ReadBatch(t.Context(), 2, time.Second)
		require.NoError(t, err)
		require.Equal(t, []string{"3"}, positions(second))
	})

	t.Run("blocked read wakes on append", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		reader, err := transport.OpenReader(t.Context(), "0", Latest())
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			_, _ = transport.Append("0", []byte("late"))
		}()

		records, err := reader.ReadBatch(t.Context(), 10, 5*time.Second)
		require.NoError(t, err)
		require.Len(t, records, 1)
		require.Equal(t, "late", string(records[0].Data))
	})

	t.Run("injected fault fails one read", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		reader, err := transport.OpenReader(t.Context(), "0", Earliest())
		require.NoError(t, err)

		boom := errors.New("boom")
		transport.InjectFault("0", boom)
		_, err = reader.ReadBatch(t.Context(), 10, time.Millisecond)
		require.ErrorIs(t, err, boom)

		records, err := reader.ReadBatch(t.Context(), 10, time.Millisecond)
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("closed partition ends", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		_, err := transport.Append("0", []byte("a"))
		require.NoError(t, err)
		transport.ClosePartition("0")

		reader, err := transport.OpenReader(t.Context(), "0", Earliest())
		require.NoError(t, err)

		records, err := reader.ReadBatch(t.Context(), 10, time.Second)
		require.NoError(t, err)
		require.Len(t, records, 1)

		_, err = reader.ReadBatch(t.Context(), 10, time.Second)
		require.ErrorIs(t, err, ErrEndOfPartition)
	})

	t.Run("cancelled read", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		reader, err := transport.OpenReader(t.Context(), "0", Latest())
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
		defer cancel()
		_, err = reader.ReadBatch(ctx, 10, time.Minute)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("unknown partition", func(t *testing.T) {
		transport := NewMemoryTransport("0")
		_, err := transport.OpenReader(t.Context(), "9", Earliest())
		require.ErrorIs(t, err, ErrUnknownPartition)
		_, err = transport.Append("9", []byte("x"))
		require.ErrorIs(t, err, ErrUnknownPartition)
	})
}
