package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/seedcheck/validator-cli/internal/model"
)

func TestCanonicalURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://Example.com/Path", "example.com/Path"},
		{"http://example.com/path/", "example.com/path"},
		{"example.com", "example.com"},
		{"https://EXAMPLE.COM/", "example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, canonicalURL(tc.in), tc.in)
	}
}

func TestSearchAll_MergesAndDedupes(t *testing.T) {
	d := newTestDeps(testConfig())
	budget := model.ModeQuick.Budget()

	p1 := &mockSearchProvider{name: "jina"}
	p2 := &mockSearchProvider{name: "serper"}
	p1.On("Search", mock.Anything, "pet feeder", mock.Anything).Return([]model.SearchResult{
		{Title: "PetKit", URL: "https://petkit.com", Provider: "jina"},
		{Title: "Catlink", URL: "https://catlink.com", Provider: "jina"},
	}, nil)
	p2.On("Search", mock.Anything, "pet feeder", mock.Anything).Return([]model.SearchResult{
		{Title: "PetKit again", URL: "http://petkit.com/", Provider: "serper"},
		{Title: "Pawbby", URL: "https://pawbby.com", Provider: "serper"},
	}, nil)

	merged := d.pipeline.searchAll(context.Background(), []SearchProvider{p1, p2}, []string{"pet feeder"}, budget, &runCounters{})

	assert.Len(t, merged, 3)
	// Provider order decides which duplicate survives.
	assert.Equal(t, "PetKit", merged[0].Title)
	assert.Equal(t, "jina", merged[0].Provider)
}

func TestSearchAll_FailedProviderDegrades(t *testing.T) {
	d := newTestDeps(testConfig())
	budget := model.ModeQuick.Budget()

	p1 := &mockSearchProvider{name: "jina"}
	p2 := &mockSearchProvider{name: "serper"}
	p1.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("provider down"))
	p2.On("Search", mock.Anything, mock.Anything, mock.Anything).Return([]model.SearchResult{
		{Title: "Pawbby", URL: "https://pawbby.com", Provider: "serper"},
	}, nil)

	merged := d.pipeline.searchAll(context.Background(), []SearchProvider{p1, p2}, []string{"q"}, budget, &runCounters{})

	assert.Len(t, merged, 1)
	assert.Equal(t, "Pawbby", merged[0].Title)
}

func TestSearchAll_CountsQueries(t *testing.T) {
	d := newTestDeps(testConfig())
	budget := model.ModeQuick.Budget()

	p1 := &mockSearchProvider{name: "jina"}
	p1.On("Search", mock.Anything, mock.Anything, mock.Anything).Return([]model.SearchResult{}, nil)

	counters := &runCounters{}
	d.pipeline.searchAll(context.Background(), []SearchProvider{p1}, []string{"a", "b", "c"}, budget, counters)

	assert.Equal(t, 3, counters.searchCalls)
}

func TestSearchAll_NoProvidersOrQueries(t *testing.T) {
	d := newTestDeps(testConfig())
	budget := model.ModeQuick.Budget()

	assert.Nil(t, d.pipeline.searchAll(context.Background(), nil, []string{"q"}, budget, &runCounters{}))
	assert.Nil(t, d.pipeline.searchAll(context.Background(), []SearchProvider{d.search}, nil, budget, &runCounters{}))
}
