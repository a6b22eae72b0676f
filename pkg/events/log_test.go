package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClock() func() time.Time {
	t := time.Unix(1_700_000_000, 0)
	return func() time.Time { return t }
}

func TestPublishChainsHashes(t *testing.T) {
	l := NewLog().WithClock(testClock())

	seq1, err := l.Publish(TopicCreate, []string{"cmt_1"}, "alice", int64(1000), "asset_usdc")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq1)

	seq2, err := l.Publish(TopicSettle, []string{"cmt_1"}, "alice", int64(950))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq2)

	entries := l.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "genesis", entries[0].PrevHash)
	assert.Equal(t, entries[0].ContentHash, entries[1].PrevHash)
	assert.NotEqual(t, entries[0].ContentHash, entries[1].ContentHash)
	require.NoError(t, l.Verify())
}

func TestByTag(t *testing.T) {
	l := NewLog().WithClock(testClock())
	_, _ = l.Publish(TopicCreate, []string{"cmt_1"}, "alice", int64(100), "a")
	_, _ = l.Publish(TopicCreate, []string{"cmt_2"}, "bob", int64(200), "a")
	_, _ = l.Publish(TopicAttest, []string{"cmt_1", "verifier"}, "health_check", true, uint64(1))

	assert.Len(t, l.ByTag("cmt_1"), 2)
	assert.Len(t, l.ByTag("cmt_2"), 1)
	assert.Len(t, l.ByTag("verifier"), 1)
	assert.Empty(t, l.ByTag("cmt_3"))
}

func TestLast(t *testing.T) {
	l := NewLog().WithClock(testClock())
	_, ok := l.Last()
	assert.False(t, ok)

	_, _ = l.Publish(TopicFeeRec, []string{"cmt_1"}, int64(100), uint64(1))
	last, ok := l.Last()
	require.True(t, ok)
	assert.Equal(t, TopicFeeRec, last.Topic)
	assert.Equal(t, []any{int64(100), uint64(1)}, last.Payload)
}

func TestPayloadOrderPreserved(t *testing.T) {
	l := NewLog().WithClock(testClock())
	_, err := l.Publish(TopicEarlyExit, []string{"cmt_1"}, "alice", int64(900), int64(100))
	require.NoError(t, err)

	last, _ := l.Last()
	assert.Equal(t, []any{"alice", int64(900), int64(100)}, last.Payload)
}
