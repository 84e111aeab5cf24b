package pipeline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seedcheck/validator-cli/internal/model"
)

func signalEvidence(posts int) model.SocialEvidence {
	ev := model.SocialEvidence{TotalItems: posts}
	for i := 0; i < posts; i++ {
		ev.SamplePosts = append(ev.SamplePosts, model.SocialPost{Content: "post"})
	}
	return ev
}

func TestSignalStore_RecordAndLookup(t *testing.T) {
	s := newSignalStore()
	s.Record("Pet Feeder", signalEvidence(3))

	got := s.Lookup("pet feeder")
	assert.Len(t, got.SamplePosts, 3)

	// Key normalization covers case and surrounding whitespace.
	got = s.Lookup("  PET FEEDER ")
	assert.Len(t, got.SamplePosts, 3)
}

func TestSignalStore_MissReturnsEmpty(t *testing.T) {
	s := newSignalStore()
	assert.True(t, s.Lookup("unknown").Empty())
}

func TestSignalStore_SkipsEmptyEvidence(t *testing.T) {
	s := newSignalStore()
	s.Record("keyword", model.SocialEvidence{TotalItems: 10})
	assert.True(t, s.Lookup("keyword").Empty())
}

func TestSignalStore_Expiry(t *testing.T) {
	now := time.Now()
	s := newSignalStore()
	s.now = func() time.Time { return now }

	s.Record("keyword", signalEvidence(2))
	assert.False(t, s.Lookup("keyword").Empty())

	s.now = func() time.Time { return now.Add(defaultSignalTTL + time.Second) }
	assert.True(t, s.Lookup("keyword").Empty())
}

func TestSignalStore_EvictsStalestWhenFull(t *testing.T) {
	now := time.Now()
	s := newSignalStore()
	s.maxKeys = 3
	tick := 0
	s.now = func() time.Time {
		tick++
		return now.Add(time.Duration(tick) * time.Second)
	}

	for i := 0; i < 3; i++ {
		s.Record(fmt.Sprintf("kw-%d", i), signalEvidence(1))
	}
	s.Record("kw-3", signalEvidence(1))

	assert.True(t, s.Lookup("kw-0").Empty())
	assert.False(t, s.Lookup("kw-3").Empty())
	assert.Len(t, s.entries, 3)
}

func TestSignalStore_ReplaceDoesNotEvict(t *testing.T) {
	s := newSignalStore()
	s.maxKeys = 2
	s.Record("a", signalEvidence(1))
	s.Record("b", signalEvidence(1))
	s.Record("a", signalEvidence(5))

	assert.Len(t, s.Lookup("a").SamplePosts, 5)
	assert.False(t, s.Lookup("b").Empty())
}
