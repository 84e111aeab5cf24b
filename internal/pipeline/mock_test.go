package pipeline

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/seedcheck/validator-cli/internal/config"
	"github.com/seedcheck/validator-cli/internal/model"
	"github.com/seedcheck/validator-cli/internal/store"
	"github.com/seedcheck/validator-cli/pkg/crawler"
	"github.com/seedcheck/validator-cli/pkg/jina"
	"github.com/seedcheck/validator-cli/pkg/llm"
	"github.com/seedcheck/validator-cli/pkg/tikhub"
)

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateValidation(ctx context.Context, req model.ValidationRequest) (*model.ValidationRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ValidationRecord), args.Error(1)
}

func (m *mockStore) GetValidation(ctx context.Context, id string) (*model.ValidationRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ValidationRecord), args.Error(1)
}

func (m *mockStore) ListValidations(ctx context.Context, filter store.ValidationFilter) ([]model.ValidationRecord, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.ValidationRecord), args.Error(1)
}

func (m *mockStore) UpdateStatus(ctx context.Context, id string, status model.RecordStatus, score int, expectedVersion int) error {
	args := m.Called(ctx, id, status, score, expectedVersion)
	return args.Error(0)
}

func (m *mockStore) UpsertReport(ctx context.Context, report *model.Report) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}

func (m *mockStore) GetReport(ctx context.Context, validationID string) (*model.Report, error) {
	args := m.Called(ctx, validationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Report), args.Error(1)
}

func (m *mockStore) GetCachedEvidence(ctx context.Context, keyword string) (*store.CachedEvidence, error) {
	args := m.Called(ctx, keyword)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.CachedEvidence), args.Error(1)
}

func (m *mockStore) SetCachedEvidence(ctx context.Context, entry store.CachedEvidence, ttl time.Duration) error {
	args := m.Called(ctx, entry, ttl)
	return args.Error(0)
}

func (m *mockStore) CheckAndConsume(ctx context.Context, userID string, limit int) (bool, error) {
	args := m.Called(ctx, userID, limit)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) QuotaUsed(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockStore) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}

// --- LLM Mock ---

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, rt model.LLMRuntime, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, rt, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.Response), args.Error(1)
}

// --- Crawler Mock ---

type mockCrawler struct {
	mock.Mock
}

func (m *mockCrawler) Crawl(ctx context.Context, req crawler.CrawlRequest) (*crawler.CrawlResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*crawler.CrawlResult), args.Error(1)
}

// --- TikHub Mock ---

type mockTikHub struct {
	mock.Mock
}

func (m *mockTikHub) Search(ctx context.Context, platform, query string) ([]tikhub.Post, error) {
	args := m.Called(ctx, platform, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tikhub.Post), args.Error(1)
}

func (m *mockTikHub) Comments(ctx context.Context, platform, itemID string) ([]tikhub.Comment, error) {
	args := m.Called(ctx, platform, itemID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]tikhub.Comment), args.Error(1)
}

// --- Jina Mock ---

type mockJina struct {
	mock.Mock
}

func (m *mockJina) Clean(ctx context.Context, targetURL string) (*jina.CleanResult, error) {
	args := m.Called(ctx, targetURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*jina.CleanResult), args.Error(1)
}

func (m *mockJina) Search(ctx context.Context, query string) ([]jina.Result, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]jina.Result), args.Error(1)
}

// --- SearchProvider Mock ---

type mockSearchProvider struct {
	mock.Mock
	name string
}

func (m *mockSearchProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockSearchProvider) Search(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SearchResult), args.Error(1)
}

// --- Test Wiring ---

// testDeps bundles the mocks behind one pipeline instance.
type testDeps struct {
	store    *mockStore
	crawler  *mockCrawler
	tikhub   *mockTikHub
	cleaner  *mockJina
	search   *mockSearchProvider
	llm      *mockLLM
	quota    *mockQuota
	tokens   []string
	pipeline *Pipeline
}

func testConfig() *config.Config {
	return &config.Config{
		TikHub: config.TikHubConfig{Key: "system-key", Enabled: true},
		Router: config.RouterConfig{SelfCrawlRatio: 500},
		Quota:  config.QuotaConfig{FreeLimit: 3},
		LLM: config.LLMConfig{
			Primary: config.LLMEndpoint{
				Provider: "openai",
				BaseURL:  "https://llm.example.com/v1",
				Key:      "sys",
				Model:    "deepseek-chat",
			},
		},
	}
}

func newTestDeps(cfg *config.Config) *testDeps {
	d := &testDeps{
		store:   &mockStore{},
		crawler: &mockCrawler{},
		tikhub:  &mockTikHub{},
		cleaner: &mockJina{},
		search:  &mockSearchProvider{},
		llm:     &mockLLM{},
		quota:   &mockQuota{},
	}
	factory := func(token string) tikhub.Client {
		d.tokens = append(d.tokens, token)
		return d.tikhub
	}
	searchFactory := func(model.RuntimeConfig) []SearchProvider {
		return []SearchProvider{d.search}
	}
	d.pipeline = New(cfg, d.store, d.crawler, factory, d.cleaner, searchFactory, d.llm, d.quota)
	return d
}

// --- Quota Mock ---

type mockQuota struct {
	mock.Mock
}

func (m *mockQuota) Authorize(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *mockQuota) Remaining(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}
