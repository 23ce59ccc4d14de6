package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/honeypot/pkg/indicator"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(zerolog.Nop())
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid uuid", "3f8d7a9c-5e2b-4f1a-9b6c-2d4e8f0a1b3c", false},
		{"valid free form", "conv-1", false},
		{"empty", "", true},
		{"long", strings.Repeat("k", 4096), false},
		{"control char", "conv\n1", false},
		{"whitespace only", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStore_GetUnknown(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestStore_GetOrCreate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	snap, err := s.GetOrCreate(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", snap.Key)
	assert.Empty(t, snap.Transcript)
	assert.True(t, snap.Indicators.IsEmpty())
	assert.False(t, snap.CreatedAt.IsZero())

	again, err := s.GetOrCreate(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, snap.CreatedAt, again.CreatedAt)
	assert.Equal(t, 1, s.Len())
}

func TestStore_GetOrCreateInvalidKey(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetOrCreate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, 0, s.Len())
}

func TestStore_AppendTurn(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "conv-1", Turn{Role: RoleScammer, Message: "hello"}))
	require.NoError(t, s.AppendTurn(ctx, "conv-1", Turn{Role: RoleAgent, Message: "who is this?"}))

	snap, err := s.Get(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, RoleScammer, snap.Transcript[0].Role)
	assert.Equal(t, "who is this?", snap.Transcript[1].Message)
	assert.False(t, snap.Transcript[0].Timestamp.IsZero())

	total, scammer, agent := snap.Counts()
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, scammer)
	assert.Equal(t, 1, agent)
}

func TestStore_Compaction(t *testing.T) {
	tests := []struct {
		name    string
		appends int
		wantLen int
		first   int
	}{
		{"below threshold", 19, 19, 0},
		{"at threshold", 20, 20, 0},
		{"first compaction", 21, 10, 11},
		{"grows again after compaction", 25, 14, 11},
		{"second compaction", 32, 10, 22},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestStore(t)
			ctx := context.Background()

			for i := 0; i < tt.appends; i++ {
				require.NoError(t, s.AppendTurn(ctx, "k", Turn{Role: RoleScammer, Message: fmt.Sprintf("m%d", i)}))
			}

			snap, err := s.Get(ctx, "k")
			require.NoError(t, err)
			require.Len(t, snap.Transcript, tt.wantLen)
			assert.Equal(t, fmt.Sprintf("m%d", tt.first), snap.Transcript[0].Message)
			assert.Equal(t, fmt.Sprintf("m%d", tt.appends-1), snap.Transcript[len(snap.Transcript)-1].Message)
		})
	}
}

func TestStore_CompactionKeepsIndicators(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	_, err := s.MergeIndicators(ctx, "k", indicator.Extract("pay to scammer@ybl"))
	require.NoError(t, err)

	for i := 0; i < CompactionThreshold+5; i++ {
		require.NoError(t, s.AppendTurn(ctx, "k", Turn{Role: RoleScammer, Message: "filler"}))
	}

	snap, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"scammer@ybl"}, snap.Indicators.UPIIDs)
}

func TestStore_MergeIndicatorsMonotonic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.MergeIndicators(ctx, "k", indicator.Extract("upi alice@ybl"))
	require.NoError(t, err)

	second, err := s.MergeIndicators(ctx, "k", indicator.Extract("now bob@okaxis"))
	require.NoError(t, err)
	assert.True(t, second.Contains(first))
	assert.Equal(t, []string{"alice@ybl", "bob@okaxis"}, second.UPIIDs)

	third, err := s.MergeIndicators(ctx, "k", indicator.Empty())
	require.NoError(t, err)
	assert.Equal(t, second, third)
}

func TestStore_SnapshotsAreCopies(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "k", Turn{Role: RoleScammer, Message: "original"}))
	_, err := s.MergeIndicators(ctx, "k", indicator.Extract("alice@ybl"))
	require.NoError(t, err)

	snap, err := s.Get(ctx, "k")
	require.NoError(t, err)
	snap.Transcript[0].Message = "mutated"
	snap.Indicators.UPIIDs[0] = "mutated@ybl"

	fresh, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Transcript[0].Message)
	assert.Equal(t, "alice@ybl", fresh.Indicators.UPIIDs[0])
}

func TestStore_UpdateIsAtomic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.Update(ctx, "k", func(tx *Tx) {
		assert.Equal(t, "k", tx.Key())
		tx.AppendTurn(Turn{Role: RoleScammer, Message: "pay now"})
		tx.MergeIndicators(indicator.Extract("pay to alice@ybl"))
		tx.AppendTurn(Turn{Role: RoleAgent, Message: "share your UPI ID"})
	})
	require.NoError(t, err)

	snap, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Len(t, snap.Transcript, 2)
	assert.Equal(t, 1, snap.Indicators.Count())
	assert.False(t, snap.UpdatedAt.Before(snap.CreatedAt))
}

func TestStore_UpdatedAtAdvances(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_, err := s.GetOrCreate(ctx, "k")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, s.AppendTurn(ctx, "k", Turn{Role: RoleScammer, Message: "hi"}))

	snap, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, base, snap.CreatedAt)
	assert.Equal(t, base.Add(time.Minute), snap.UpdatedAt)
	assert.Equal(t, base.Add(time.Minute), snap.Transcript[0].Timestamp)
}

func TestStore_ConcurrentSameKey(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			err := s.Update(ctx, "shared", func(tx *Tx) {
				tx.AppendTurn(Turn{Role: RoleScammer, Message: fmt.Sprintf("in-%d", w)})
				tx.AppendTurn(Turn{Role: RoleAgent, Message: fmt.Sprintf("out-%d", w)})
			})
			assert.NoError(t, err)
		}(w)
	}
	wg.Wait()

	snap, err := s.Get(ctx, "shared")
	require.NoError(t, err)
	require.Len(t, snap.Transcript, 2*writers)

	// each writer's pair stays adjacent
	for i := 0; i < len(snap.Transcript); i += 2 {
		in := strings.TrimPrefix(snap.Transcript[i].Message, "in-")
		out := strings.TrimPrefix(snap.Transcript[i+1].Message, "out-")
		assert.Equal(t, in, out)
	}
}

func TestStore_ConcurrentDistinctKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("conv-%02d", i)
			assert.NoError(t, s.AppendTurn(ctx, key, Turn{Role: RoleScammer, Message: "hello"}))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	for _, key := range []string{"conv-00", "conv-25", "conv-49"} {
		snap, err := s.Get(ctx, key)
		require.NoError(t, err)
		assert.Len(t, snap.Transcript, 1)
	}
}

func TestStore_OpaqueKeys(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	long := strings.Repeat("k", 129)
	require.NoError(t, s.AppendTurn(ctx, long, Turn{Role: RoleScammer, Message: "hi"}))
	require.NoError(t, s.AppendTurn(ctx, "tab\tkey", Turn{Role: RoleScammer, Message: "hi"}))

	snap, err := s.Get(ctx, long)
	require.NoError(t, err)
	assert.Equal(t, long, snap.Key)
	assert.Equal(t, 2, s.Len())
}

func TestStore_Stats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendTurn(ctx, "a", Turn{Role: RoleScammer, Message: "x"}))
	require.NoError(t, s.AppendTurn(ctx, "a", Turn{Role: RoleAgent, Message: "y"}))
	require.NoError(t, s.AppendTurn(ctx, "b", Turn{Role: RoleScammer, Message: "z"}))
	_, err := s.MergeIndicators(ctx, "b", indicator.Extract("alice@ybl https://evil.example"))
	require.NoError(t, err)

	stats := s.Stats()
	assert.Equal(t, 2, stats.Sessions)
	assert.Equal(t, 3, stats.Turns)
	assert.Equal(t, 2, stats.Indicators)
}
