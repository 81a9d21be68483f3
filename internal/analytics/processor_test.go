package analytics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shortlink/internal/config"
	"shortlink/internal/domain"
	"shortlink/internal/repository/memory"
	"shortlink/pkg/geo"
	"shortlink/pkg/useragent"
)

type funcTransport struct {
	deliver func(ctx context.Context, ev ClickEvent) error
}

func (f funcTransport) Deliver(ctx context.Context, ev ClickEvent) error { return f.deliver(ctx, ev) }
func (f funcTransport) Close() error                                    { return nil }

type staticGeo struct{ loc geo.Location }

func (s staticGeo) Lookup(ip string) (geo.Location, bool) {
	if geo.Routable(ip) == nil {
		return geo.Location{}, false
	}
	return s.loc, true
}
func (staticGeo) Close() error { return nil }

func TestProcessor_RecordBeforeStart(t *testing.T) {
	p := NewProcessor(&config.Analytics{}, funcTransport{deliver: func(context.Context, ClickEvent) error { return nil }}, zap.NewNop())

	err := p.Record(NewClickEvent("abc", "", "", "", time.Now()))
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, p.Stop(), ErrNotStarted)
}

func TestProcessor_FullQueueDropsWithoutBlocking(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	transport := funcTransport{deliver: func(ctx context.Context, ev ClickEvent) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}

	p := NewProcessor(&config.Analytics{WorkerCount: 1, BufferSize: 1, ShutdownTimeout: time.Second}, transport, zap.NewNop())
	require.NoError(t, p.Start())

	require.NoError(t, p.Record(NewClickEvent("a", "", "", "", time.Now())))
	<-entered // worker is busy with the first event

	require.NoError(t, p.Record(NewClickEvent("b", "", "", "", time.Now())))

	start := time.Now()
	err := p.Record(NewClickEvent("c", "", "", "", time.Now()))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	require.NoError(t, p.Stop())

	stats := p.GetStats()
	assert.Equal(t, int64(2), stats["delivered"])
	assert.Equal(t, int64(1), stats["dropped"])
}

func TestProcessor_StopDrainsQueue(t *testing.T) {
	var delivered atomic.Int64
	transport := funcTransport{deliver: func(ctx context.Context, ev ClickEvent) error {
		time.Sleep(time.Millisecond)
		delivered.Add(1)
		return nil
	}}

	p := NewProcessor(&config.Analytics{WorkerCount: 2, BufferSize: 100, ShutdownTimeout: 5 * time.Second}, transport, zap.NewNop())
	require.NoError(t, p.Start())

	for i := 0; i < 50; i++ {
		require.NoError(t, p.Record(NewClickEvent("abc", "", "", "", time.Now())))
	}
	require.NoError(t, p.Stop())

	assert.Equal(t, int64(50), delivered.Load())
	assert.ErrorIs(t, p.Record(NewClickEvent("abc", "", "", "", time.Now())), ErrNotStarted)
}

func TestProcessor_FailedDeliveryIsCounted(t *testing.T) {
	transport := funcTransport{deliver: func(context.Context, ClickEvent) error { return errors.New("store down") }}

	p := NewProcessor(&config.Analytics{WorkerCount: 1, BufferSize: 10, ShutdownTimeout: time.Second}, transport, zap.NewNop())
	require.NoError(t, p.Start())
	require.NoError(t, p.Record(NewClickEvent("abc", "", "", "", time.Now())))
	require.NoError(t, p.Stop())

	assert.Equal(t, int64(1), p.GetStats()["failed"])
}

func TestLocalTransport_RetriesWithBackoff(t *testing.T) {
	var calls int
	handle := func(ctx context.Context, ev ClickEvent) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}

	tr := NewLocalTransport(&config.Analytics{RetryAttempts: 3, RetryDelay: time.Millisecond}, handle, zap.NewNop())
	require.NoError(t, tr.Deliver(context.Background(), NewClickEvent("abc", "", "", "", time.Now())))
	assert.Equal(t, 3, calls)
}

func TestLocalTransport_GivesUp(t *testing.T) {
	var calls int
	boom := errors.New("permanent")
	handle := func(ctx context.Context, ev ClickEvent) error {
		calls++
		return boom
	}

	tr := NewLocalTransport(&config.Analytics{RetryAttempts: 2, RetryDelay: time.Millisecond}, handle, zap.NewNop())
	err := tr.Deliver(context.Background(), NewClickEvent("abc", "", "", "", time.Now()))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)
}

func TestLocalTransport_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handle := func(context.Context, ClickEvent) error {
		cancel()
		return errors.New("transient")
	}

	tr := NewLocalTransport(&config.Analytics{RetryAttempts: 5, RetryDelay: time.Hour}, handle, zap.NewNop())
	err := tr.Deliver(ctx, NewClickEvent("abc", "", "", "", time.Now()))
	assert.ErrorIs(t, err, context.Canceled)
}

func newRecorder(t *testing.T) (*Recorder, *memory.MemStorage, *domain.Link) {
	t.Helper()
	store := memory.New()
	link := &domain.Link{Code: "abc", OriginalURL: "https://example.org", OwnerID: 1, IsActive: true}
	require.NoError(t, store.CreateLink(context.Background(), link))

	parser, err := useragent.NewParser("", zap.NewNop())
	require.NoError(t, err)

	return NewRecorder(store, parser, staticGeo{loc: geo.Location{Country: "DE", City: "Berlin"}}, zap.NewNop()), store, link
}

func TestRecorder_EnrichesAndStores(t *testing.T) {
	ctx := context.Background()
	rec, store, link := newRecorder(t)

	iphone := "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	require.NoError(t, rec.Handle(ctx, NewClickEvent("abc", "8.8.8.8", iphone, "https://news.example", time.Now())))
	require.NoError(t, rec.Handle(ctx, NewClickEvent("abc", "10.0.0.1", "", "", time.Now())))

	devices, err := store.ClicksByDevice(ctx, link.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.DeviceCount{
		{DeviceType: domain.DeviceMobile, Count: 1},
		{DeviceType: domain.DeviceUnknown, Count: 1},
	}, devices)

	locations, err := store.ClicksByCountry(ctx, link.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.LocationCount{
		{Country: "DE", Count: 1},
		{Country: "unknown", Count: 1},
	}, locations)
}

func TestRecorder_RedeliveryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	rec, store, _ := newRecorder(t)

	ev := NewClickEvent("abc", "8.8.8.8", "", "", time.Now())
	require.NoError(t, rec.Handle(ctx, ev))
	require.NoError(t, rec.Handle(ctx, ev))

	got, err := store.GetLink(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ClickCount)
}

func TestRecorder_DropsUnknownLink(t *testing.T) {
	ctx := context.Background()
	rec, store, _ := newRecorder(t)

	_, err := store.DeleteLink(ctx, "abc")
	require.NoError(t, err)

	assert.NoError(t, rec.Handle(ctx, NewClickEvent("abc", "", "", "", time.Now())))
	assert.NoError(t, rec.Handle(ctx, NewClickEvent("never-existed", "", "", "", time.Now())))
}

func TestDispatch_EndToEnd(t *testing.T) {
	rec, store, _ := newRecorder(t)
	cfg := &config.Analytics{WorkerCount: 4, BufferSize: 256, RetryAttempts: 3, RetryDelay: time.Millisecond, ShutdownTimeout: 5 * time.Second}

	p := NewProcessor(cfg, NewLocalTransport(cfg, rec.Handle, zap.NewNop()), zap.NewNop())
	require.NoError(t, p.Start())

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Record(NewClickEvent("abc", "8.8.8.8", "", "", time.Now()))
		}()
	}
	wg.Wait()
	require.NoError(t, p.Stop())

	got, err := store.GetLink(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.ClickCount)
}

type capturingClickStore struct {
	link   *domain.Link
	clicks []*domain.Click
}

func (s *capturingClickStore) GetLink(context.Context, string) (*domain.Link, error) {
	return s.link, nil
}

func (s *capturingClickStore) RecordClick(_ context.Context, click *domain.Click) error {
	s.clicks = append(s.clicks, click)
	return nil
}

func TestOptional_CutsOnCharacterBoundary(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  *string
	}{
		{name: "empty", in: "", limit: 10, want: nil},
		{name: "fits", in: "https://example.org", limit: 500, want: strPtr("https://example.org")},
		{name: "multi-byte at limit", in: "https://example.org/" + strings.Repeat("a", 479) + "ж", limit: 500, want: strPtr("https://example.org/" + strings.Repeat("a", 479))},
		{name: "cyrillic", in: strings.Repeat("ж", 30), limit: 50, want: strPtr(strings.Repeat("ж", 25))},
		{name: "invalid bytes without limit", in: "Mozilla\xff", limit: 0, want: strPtr("Mozilla�")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := optional(tt.in, tt.limit)
			assert.Equal(t, tt.want, got)
			if got != nil {
				assert.True(t, utf8.ValidString(*got))
			}
		})
	}
}

func TestRecorder_StoresValidUTF8(t *testing.T) {
	store := &capturingClickStore{link: &domain.Link{ID: 1, Code: "abc", IsActive: true}}
	rec := NewRecorder(store, nil, nil, zap.NewNop())

	referer := "https://example.org/" + strings.Repeat("a", 479) + "жжж"
	require.NoError(t, rec.Handle(context.Background(), NewClickEvent("abc", "8.8.8.8", "agent\xfe\xff", referer, time.Now())))

	require.Len(t, store.clicks, 1)
	click := store.clicks[0]
	require.NotNil(t, click.Referer)
	assert.LessOrEqual(t, len(*click.Referer), 500)
	assert.True(t, utf8.ValidString(*click.Referer))
	require.NotNil(t, click.UserAgent)
	assert.True(t, utf8.ValidString(*click.UserAgent))
}

func TestRetry_StopsAfterAttempts(t *testing.T) {
	tests := []struct {
		name      string
		attempts  int
		failures  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", attempts: 3, failures: 0, wantCalls: 1},
		{name: "recovers", attempts: 3, failures: 2, wantCalls: 3},
		{name: "exhausted", attempts: 3, failures: 5, wantCalls: 3, wantErr: true},
		{name: "zero attempts means one", attempts: 0, failures: 5, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retry(context.Background(), tt.attempts, time.Millisecond, zap.NewNop(), func() error {
				calls++
				if calls <= tt.failures {
					return errors.New("publish failed")
				}
				return nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func strPtr(s string) *string { return &s }
