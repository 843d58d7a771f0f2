package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runBackendContract exercises the behaviour every Backend must share.
func runBackendContract(t *testing.T, newBackend func(t *testing.T) Backend) {
	t.Run("missing record returns nil", func(t *testing.T) {
		b := newBackend(t)
		rec, err := b.GetRecord(context.Background(), NewKey("refresh", GlobalScope))
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("put then get round-trips", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		rec := &UsageRecord{
			FeatureID:       "messages",
			ScopeKey:        "partner:42",
			Count:           3,
			CooldownStartAt: &start,
			UpdatedAt:       start.Add(time.Second),
		}
		require.NoError(t, b.PutRecord(ctx, rec))

		got, err := b.GetRecord(ctx, NewKey("messages", "partner:42"))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 3, got.Count)
		require.NotNil(t, got.CooldownStartAt)
		assert.True(t, got.CooldownStartAt.Equal(start), "cooldown start = %v, want %v", got.CooldownStartAt, start)
		assert.True(t, got.UpdatedAt.Equal(start.Add(time.Second)))
	})

	t.Run("clearing cooldown persists", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		start := time.Now()
		key := NewKey("search", GlobalScope)
		require.NoError(t, b.PutRecord(ctx, &UsageRecord{FeatureID: key.FeatureID, ScopeKey: key.ScopeKey, Count: 2, CooldownStartAt: &start, UpdatedAt: start}))
		require.NoError(t, b.PutRecord(ctx, &UsageRecord{FeatureID: key.FeatureID, ScopeKey: key.ScopeKey, Count: 0, UpdatedAt: start}))

		got, err := b.GetRecord(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 0, got.Count)
		assert.Nil(t, got.CooldownStartAt)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()
		now := time.Now()

		require.NoError(t, b.PutRecord(ctx, &UsageRecord{FeatureID: "refresh", ScopeKey: GlobalScope, Count: 2, UpdatedAt: now}))
		require.NoError(t, b.PutRecord(ctx, &UsageRecord{FeatureID: "filter", ScopeKey: GlobalScope, Count: 1, UpdatedAt: now}))

		got, err := b.GetRecord(ctx, NewKey("filter", GlobalScope))
		require.NoError(t, err)
		assert.Equal(t, 1, got.Count)

		records, err := b.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 2)
		assert.Equal(t, "filter", records[0].FeatureID)
		assert.Equal(t, "refresh", records[1].FeatureID)
	})

	t.Run("invalid keys rejected", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		_, err := b.GetRecord(ctx, Key{FeatureID: "", ScopeKey: GlobalScope})
		assert.ErrorIs(t, err, ErrInvalidKey)

		err = b.PutRecord(ctx, &UsageRecord{FeatureID: "a:b", ScopeKey: GlobalScope})
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("concurrent writers to distinct keys", func(t *testing.T) {
		b := newBackend(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := range 10 {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := &UsageRecord{FeatureID: "messages", ScopeKey: fmt.Sprintf("partner-%d", i), Count: i, UpdatedAt: time.Now()}
				assert.NoError(t, b.PutRecord(ctx, rec))
			}(i)
		}
		wg.Wait()

		records, err := b.List(ctx)
		require.NoError(t, err)
		assert.Len(t, records, 10)
	})

	t.Run("ping", func(t *testing.T) {
		b := newBackend(t)
		assert.NoError(t, b.Ping(context.Background()))
	})
}

func TestKey_StringAndParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Key
		wantErr bool
	}{
		{name: "global", input: "refresh:global", want: Key{FeatureID: "refresh", ScopeKey: "global"}},
		{name: "scope with colon", input: "messages:user:42", want: Key{FeatureID: "messages", ScopeKey: "user:42"}},
		{name: "no separator", input: "refresh", wantErr: true},
		{name: "empty feature", input: ":global", wantErr: true},
		{name: "empty scope", input: "refresh:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseKey(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.input, got.String())
		})
	}
}

func TestNewKey_DefaultsToGlobalScope(t *testing.T) {
	k := NewKey("filter", "")
	if k.ScopeKey != GlobalScope {
		t.Errorf("ScopeKey = %q, want %q", k.ScopeKey, GlobalScope)
	}
}

func TestUsageRecord_CloneIsDeep(t *testing.T) {
	start := time.Now()
	rec := &UsageRecord{FeatureID: "refresh", ScopeKey: GlobalScope, Count: 1, CooldownStartAt: &start}

	c := rec.Clone()
	*c.CooldownStartAt = start.Add(time.Hour)
	c.Count = 5

	if !rec.CooldownStartAt.Equal(start) {
		t.Error("clone shares cooldown pointer with original")
	}
	if rec.Count != 1 {
		t.Error("clone mutation changed original count")
	}
}
