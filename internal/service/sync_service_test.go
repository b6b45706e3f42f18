package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/events"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testUserID = "0b0e4c52-6f7a-4a36-9d37-6f1f7d6f0a11"

type recordingPublisher struct {
	mu     sync.Mutex
	syncs  []events.SyncFinished
	purges []events.AccountPurged
}

func (p *recordingPublisher) SyncFinished(_ context.Context, e events.SyncFinished) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncs = append(p.syncs, e)
	return nil
}

func (p *recordingPublisher) AccountPurged(_ context.Context, e events.AccountPurged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purges = append(p.purges, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type syncFixture struct {
	svc       *SyncService
	conns     *memConnections
	cursors   *memCursors
	records   *memRecords
	audit     *memAudit
	vault     *fakeVault
	publisher *recordingPublisher
	conn      *domain.Connection
}

func newSyncFixture(t *testing.T, c connector.Connector, logger *zap.Logger) *syncFixture {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &syncFixture{
		conns:     newMemConnections(),
		cursors:   newMemCursors(),
		records:   newMemRecords(),
		audit:     &memAudit{},
		vault:     newFakeVault("access-token"),
		publisher: &recordingPublisher{},
	}
	f.conn = f.conns.add(testUserID, c.Provider())
	f.svc = NewSyncService(SyncDependencies{
		Connections: f.conns,
		Cursors:     f.cursors,
		Batches:     &memBatches{conns: f.conns, records: f.records, cursors: f.cursors},
		Vault:       f.vault,
		Connectors:  connector.NewRegistry(c),
		Audit:       NewAuditService(f.audit, nil, logger),
		Publisher:   f.publisher,
		Limiter:     allowAll{},
		Logger:      logger,
	}, SyncSettings{Timeout: time.Minute, TriggerLimit: 100, TriggerWindow: time.Minute})

	return f
}

func items(raw ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = json.RawMessage(r)
	}
	return out
}

// stravaServer serves 25 activities an hour apart, honoring after/page/per_page
type stravaServer struct {
	*httptest.Server
	base time.Time

	mu       sync.Mutex
	requests []string
}

func newStravaServer(t *testing.T, count int) *stravaServer {
	t.Helper()
	s := &stravaServer{base: time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		after, _ := strconv.ParseInt(q.Get("after"), 10, 64)
		page, _ := strconv.Atoi(q.Get("page"))
		perPage, _ := strconv.Atoi(q.Get("per_page"))

		s.mu.Lock()
		s.requests = append(s.requests, q.Get("after")+"/"+q.Get("page"))
		s.mu.Unlock()

		var window []string
		for i := 0; i < count; i++ {
			start := s.start(i)
			if start.Unix() > after {
				window = append(window, fmt.Sprintf(
					`{"id":%d,"name":"Run %d","type":"Run","start_date":%q,"distance":5000,"moving_time":1800,"total_elevation_gain":12}`,
					1000+i, i, start.Format(time.RFC3339)))
			}
		}

		from := min((page-1)*perPage, len(window))
		to := min(from+perPage, len(window))
		_, _ = w.Write([]byte("[" + strings.Join(window[from:to], ",") + "]"))
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *stravaServer) start(i int) time.Time {
	return s.base.Add(time.Duration(i) * time.Hour)
}

func (s *stravaServer) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// stravaTail is the cursor left after catching up to newest
func stravaTail(newest time.Time) string {
	return fmt.Sprintf(`{"after":%d,"page":1,"max":%d}`, newest.Unix()-1, newest.Unix())
}

func newTestStrava(baseURL string) *connector.Strava {
	return connector.NewStrava(connector.Options{
		BaseURL:    baseURL,
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		PageSize:   20,
	})
}

func TestSyncStravaInitialRun(t *testing.T) {
	server := newStravaServer(t, 25)
	f := newSyncFixture(t, newTestStrava(server.URL), nil)

	result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderStrava)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, result.Status)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, 25, result.Inserted)
	assert.Equal(t, 25, f.records.count())
	for _, r := range f.records.sorted(testUserID) {
		assert.Equal(t, domain.DatasetWorkouts, r.Dataset)
		assert.Equal(t, testUserID, r.UserID)
	}

	assert.JSONEq(t, stravaTail(server.start(24)), f.cursors.current(f.conn.ID).Position)
	assert.Equal(t, []string{"0/1", "0/2"}, server.seen())

	conn := f.conns.snapshot(f.conn.ID)
	assert.Equal(t, domain.SyncStatusSuccess, conn.SyncStatus)
	assert.Nil(t, conn.SyncError)
	assert.NotNil(t, conn.LastSyncAt)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionSync}, f.audit.actions(testUserID))

	require.Len(t, f.publisher.syncs, 1)
	assert.Equal(t, "success", f.publisher.syncs[0].Status)
	assert.Equal(t, 25, f.publisher.syncs[0].Inserted)
}

func TestSyncIsIdempotentWithoutNewData(t *testing.T) {
	server := newStravaServer(t, 25)
	f := newSyncFixture(t, newTestStrava(server.URL), nil)
	ctx := context.Background()

	_, err := f.svc.RunSync(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)
	before := f.cursors.current(f.conn.ID)

	result, err := f.svc.RunSync(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)

	assert.Equal(t, domain.SyncStatusSuccess, result.Status)
	assert.Zero(t, result.Inserted)
	// the newest activity is refetched since the window reopens one second before it
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 25, f.records.count())

	newest := strconv.FormatInt(server.start(24).Unix()-1, 10)
	assert.Equal(t, []string{"0/1", "0/2", newest + "/1"}, server.seen())

	after := f.cursors.current(f.conn.ID)
	assert.Equal(t, before.Position, after.Position)
	assert.Equal(t, before.Sequence, after.Sequence)
}

func TestSyncResumesAfterStoreFailure(t *testing.T) {
	server := newStravaServer(t, 25)
	f := newSyncFixture(t, newTestStrava(server.URL), nil)
	f.records.failOnCall = 2
	ctx := context.Background()

	result, err := f.svc.RunSync(ctx, testUserID, domain.ProviderStrava)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreWrite)
	assert.Equal(t, domain.SyncStatusError, result.Status)
	assert.Equal(t, domain.KindStoreUnavailable, result.ErrorKind)

	assert.Equal(t, 20, f.records.count())
	pageOneNewest := strconv.FormatInt(server.start(19).Unix(), 10)
	c1 := `{"after":0,"page":2,"max":` + pageOneNewest + `}`
	assert.JSONEq(t, c1, f.cursors.current(f.conn.ID).Position)

	conn := f.conns.snapshot(f.conn.ID)
	assert.Equal(t, domain.SyncStatusError, conn.SyncStatus)
	require.NotNil(t, conn.SyncError)
	assert.Equal(t, "sync failed (store_unavailable), try again", *conn.SyncError)

	result, err = f.svc.RunSync(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Inserted)
	assert.Zero(t, result.Updated)
	assert.Equal(t, 25, f.records.count())

	assert.JSONEq(t, stravaTail(server.start(24)), f.cursors.current(f.conn.ID).Position)
	assert.Equal(t, []string{"0/1", "0/2", "0/2"}, server.seen())
	assert.Equal(t, domain.SyncStatusSuccess, f.conns.snapshot(f.conn.ID).SyncStatus)
}

func TestSyncDeduplicatesWithinBatch(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderSpotify,
		dataset:  domain.DatasetTracks,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return &connector.Page{
				Items:      items(`{"id":"a","v":1}`, `{"id":"b","v":1}`, `{"id":"a","v":2}`),
				NextCursor: "1700000000000",
			}, nil
		},
	}
	f := newSyncFixture(t, c, nil)

	result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderSpotify)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	recs := f.records.sorted(testUserID)
	require.Len(t, recs, 2)
	sort.Slice(recs, func(i, j int) bool { return recs[i].ExternalID < recs[j].ExternalID })
	assert.JSONEq(t, `{"id":"a","v":2}`, string(recs[0].Body))
}

func TestSyncRejectsConcurrentTriggers(t *testing.T) {
	release := make(chan struct{})
	var fetches atomic.Int32
	c := &scriptedConnector{
		provider: domain.ProviderStrava,
		dataset:  domain.DatasetWorkouts,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			fetches.Add(1)
			<-release
			return &connector.Page{NextCursor: "done"}, nil
		},
	}
	f := newSyncFixture(t, c, nil)
	ctx := context.Background()

	var accepted, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.svc.TriggerSync(ctx, testUserID, domain.ProviderStrava)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, domain.ErrAlreadySyncing):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()
	close(release)
	f.svc.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(7), rejected.Load())
	assert.Equal(t, int32(1), fetches.Load())
	assert.Equal(t, domain.SyncStatusSuccess, f.conns.snapshot(f.conn.ID).SyncStatus)
}

func TestSyncReclaimsStaleRun(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderStrava,
		dataset:  domain.DatasetWorkouts,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return &connector.Page{NextCursor: "done"}, nil
		},
	}
	f := newSyncFixture(t, c, nil)
	ctx := context.Background()

	started, err := f.conns.TryStartSync(ctx, f.conn.ID, "crashed-run", time.Now().Add(-time.Hour), time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	require.True(t, started)

	result, err := f.svc.RunSync(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, result.Status)
}

func TestSyncObservesCancellationBetweenBatches(t *testing.T) {
	fetching := make(chan struct{})
	release := make(chan struct{})
	c := &scriptedConnector{
		provider: domain.ProviderGoogleCalendar,
		dataset:  domain.DatasetEvents,
		fetch: func(_ context.Context, cursor string, _ domain.TokenPair) (*connector.Page, error) {
			if cursor == "" {
				return &connector.Page{Items: items(`{"id":"e1"}`, `{"id":"e2"}`), NextCursor: "c1", HasMore: true}, nil
			}
			close(fetching)
			<-release
			return &connector.Page{Items: items(`{"id":"e3"}`), NextCursor: "c2"}, nil
		},
	}
	f := newSyncFixture(t, c, nil)

	require.NoError(t, f.svc.TriggerSync(context.Background(), testUserID, domain.ProviderGoogleCalendar))
	<-fetching
	f.svc.Cancel(f.conn.ID)
	close(release)
	f.svc.Wait()

	assert.Equal(t, 2, f.records.count())
	assert.Equal(t, "c1", f.cursors.current(f.conn.ID).Position)

	conn := f.conns.snapshot(f.conn.ID)
	assert.Equal(t, domain.SyncStatusError, conn.SyncStatus)
	require.NotNil(t, conn.SyncError)
	assert.Equal(t, "sync cancelled", *conn.SyncError)
}

// blockingConnector serves one page of two events once release is closed
func blockingConnector(fetching, release chan struct{}) *scriptedConnector {
	var once sync.Once
	return &scriptedConnector{
		provider: domain.ProviderGoogleCalendar,
		dataset:  domain.DatasetEvents,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			once.Do(func() { close(fetching) })
			<-release
			return &connector.Page{Items: items(`{"id":"e1"}`, `{"id":"e2"}`), NextCursor: "c1"}, nil
		},
	}
}

func TestSyncDiscardsBatchAfterDisconnectElsewhere(t *testing.T) {
	fetching := make(chan struct{})
	release := make(chan struct{})
	c := blockingConnector(fetching, release)
	f := newSyncFixture(t, c, nil)
	ctx := context.Background()

	// a second instance shares the stores but cannot reach this instance's runs
	elsewhere := NewConnectionService(
		f.conns,
		f.records,
		f.cursors,
		f.vault,
		&fakeOAuth{},
		newMemStates(),
		connector.NewRegistry(c),
		&recordingCanceller{},
		NewAuditService(f.audit, nil, zap.NewNop()),
		zap.NewNop(),
		time.Minute,
	)

	type outcome struct {
		result *SyncResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := f.svc.RunSync(ctx, testUserID, domain.ProviderGoogleCalendar)
		done <- outcome{result, err}
	}()

	<-fetching
	_, err := elsewhere.Disconnect(ctx, testUserID, domain.ProviderGoogleCalendar)
	require.NoError(t, err)
	close(release)
	out := <-done

	require.ErrorIs(t, out.err, context.Canceled)
	require.ErrorIs(t, out.err, repository.ErrClaimLost)
	assert.Equal(t, domain.KindCancelled, out.result.ErrorKind)

	assert.Zero(t, f.records.count())
	assert.Zero(t, f.cursors.current(f.conn.ID).Sequence)

	conn := f.conns.snapshot(f.conn.ID)
	assert.False(t, conn.IsActive)
	assert.Equal(t, domain.SyncStatusPending, conn.SyncStatus)
	assert.Nil(t, conn.SyncError)
}

func TestSyncTakenOverRunLeavesNewOwnerAlone(t *testing.T) {
	fetching := make(chan struct{})
	release := make(chan struct{})
	f := newSyncFixture(t, blockingConnector(fetching, release), nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RunSync(ctx, testUserID, domain.ProviderGoogleCalendar)
		done <- err
	}()

	<-fetching
	// the first run looks abandoned to another worker, which reclaims the connection
	now := time.Now()
	taken, err := f.conns.TryStartSync(ctx, f.conn.ID, "next-run", now, now.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, taken)

	close(release)
	require.ErrorIs(t, <-done, repository.ErrClaimLost)

	assert.Zero(t, f.records.count())
	assert.Zero(t, f.cursors.current(f.conn.ID).Sequence)

	conn := f.conns.snapshot(f.conn.ID)
	assert.Equal(t, domain.SyncStatusSyncing, conn.SyncStatus)
	assert.Equal(t, "next-run", conn.SyncRunID)
	assert.Nil(t, conn.SyncError)
}

func TestSyncAuthFailureMarksConnectionForReconnect(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderStrava,
		dataset:  domain.DatasetWorkouts,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return &connector.Page{NextCursor: "x"}, nil
		},
	}
	f := newSyncFixture(t, c, nil)
	f.vault.getErr = fmt.Errorf("refresh rejected: %w", domain.ErrAuthExpired)
	ctx := context.Background()

	_, err := f.svc.RunSync(ctx, testUserID, domain.ProviderStrava)
	require.ErrorIs(t, err, domain.ErrAuthExpired)

	conn := f.conns.snapshot(f.conn.ID)
	assert.Equal(t, domain.KindAuthExpired, conn.SyncErrorKind)
	assert.True(t, conn.NeedsReconnect())
	assert.Empty(t, conn.SyncRunID)

	require.NoError(t, f.conns.Upsert(ctx, &domain.Connection{UserID: testUserID, Provider: domain.ProviderStrava}))
	assert.False(t, f.conns.snapshot(f.conn.ID).NeedsReconnect())
}

func TestSyncRefreshesOnceOnUnauthorized(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderSpotify,
		dataset:  domain.DatasetTracks,
		fetch: func(_ context.Context, _ string, tokens domain.TokenPair) (*connector.Page, error) {
			if tokens.AccessToken != "rotated-token" {
				return nil, &connector.StatusError{Provider: domain.ProviderSpotify, StatusCode: http.StatusUnauthorized}
			}
			return &connector.Page{Items: items(`{"id":"t1"}`), NextCursor: "1"}, nil
		},
	}
	f := newSyncFixture(t, c, nil)
	f.vault.rotated = domain.TokenPair{AccessToken: "rotated-token", ExpiresAt: time.Now().Add(time.Hour)}

	result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderSpotify)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncStatusSuccess, result.Status)
	assert.Equal(t, int32(1), f.vault.forced.Load())
	assert.Equal(t, 1, f.records.count())
}

func TestSyncRepeatedUnauthorizedIsAuthExpired(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderSpotify,
		dataset:  domain.DatasetTracks,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return nil, &connector.StatusError{Provider: domain.ProviderSpotify, StatusCode: http.StatusUnauthorized}
		},
	}
	f := newSyncFixture(t, c, nil)

	result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderSpotify)
	require.ErrorIs(t, err, domain.ErrAuthExpired)
	assert.Equal(t, domain.KindAuthExpired, result.ErrorKind)
	assert.Equal(t, int32(1), f.vault.forced.Load())

	conn := f.conns.snapshot(f.conn.ID)
	require.NotNil(t, conn.SyncError)
	assert.Equal(t, "sync failed (auth_expired), reconnect the provider", *conn.SyncError)
}

func TestSyncSurfacesProviderErrorKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		kind string
	}{
		{"rejected", &connector.StatusError{Provider: domain.ProviderStrava, StatusCode: http.StatusForbidden}, domain.KindProviderRejected},
		{"unavailable", &connector.StatusError{Provider: domain.ProviderStrava, StatusCode: http.StatusBadGateway}, domain.KindProviderUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &scriptedConnector{
				provider: domain.ProviderStrava,
				dataset:  domain.DatasetWorkouts,
				fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
					return nil, tc.err
				},
			}
			f := newSyncFixture(t, c, nil)

			result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderStrava)
			require.Error(t, err)
			assert.Equal(t, tc.kind, result.ErrorKind)
			assert.Zero(t, f.cursors.current(f.conn.ID).Sequence)
			assert.Equal(t, domain.SyncStatusError, f.conns.snapshot(f.conn.ID).SyncStatus)
		})
	}
}

func TestSyncZeroItemBatchAdvancesCursor(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderGoogleCalendar,
		dataset:  domain.DatasetEvents,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return &connector.Page{NextCursor: `{"sync_token":"s1"}`}, nil
		},
	}
	f := newSyncFixture(t, c, nil)

	result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderGoogleCalendar)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Batches)
	assert.Equal(t, `{"sync_token":"s1"}`, f.cursors.current(f.conn.ID).Position)
	assert.Equal(t, int64(1), f.cursors.current(f.conn.ID).Sequence)
}

func TestSyncSkipsMalformedItems(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderSpotify,
		dataset:  domain.DatasetTracks,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return &connector.Page{Items: items(`{"id":""}`, `{"id":"ok"}`, `[1,2]`), NextCursor: "1"}, nil
		},
	}
	f := newSyncFixture(t, c, nil)

	result, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderSpotify)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Malformed)
	assert.Equal(t, 1, f.records.count())
}

func TestSyncNeverExposesTokens(t *testing.T) {
	const secret = "sk-live-9f8e7d6c5b4a"
	c := &scriptedConnector{
		provider: domain.ProviderStrava,
		dataset:  domain.DatasetWorkouts,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return nil, &connector.StatusError{Provider: domain.ProviderStrava, StatusCode: http.StatusUnauthorized}
		},
	}
	core, logs := observer.New(zap.DebugLevel)
	f := newSyncFixture(t, c, zap.New(core))
	f.vault.tokens = domain.TokenPair{AccessToken: secret, RefreshToken: secret + "-refresh", ExpiresAt: time.Now().Add(time.Hour)}
	f.vault.forceErr = fmt.Errorf("refresh rejected: %w", domain.ErrAuthExpired)

	_, err := f.svc.RunSync(context.Background(), testUserID, domain.ProviderStrava)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), secret)

	conn := f.conns.snapshot(f.conn.ID)
	require.NotNil(t, conn.SyncError)
	assert.NotContains(t, *conn.SyncError, secret)

	entries, err := f.audit.List(context.Background(), testUserID, 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		raw, err := json.Marshal(e)
		require.NoError(t, err)
		assert.NotContains(t, string(raw), secret)
	}

	for _, entry := range logs.All() {
		assert.NotContains(t, entry.Message, secret)
		assert.NotContains(t, fmt.Sprint(entry.ContextMap()), secret)
	}
}

func TestTriggerSyncGuards(t *testing.T) {
	c := &scriptedConnector{
		provider: domain.ProviderStrava,
		dataset:  domain.DatasetWorkouts,
		fetch: func(context.Context, string, domain.TokenPair) (*connector.Page, error) {
			return &connector.Page{NextCursor: "x"}, nil
		},
	}
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		f := newSyncFixture(t, c, nil)
		err := f.svc.TriggerSync(ctx, testUserID, domain.ProviderSpotify)
		assert.Error(t, err)
	})

	t.Run("inactive", func(t *testing.T) {
		f := newSyncFixture(t, c, nil)
		require.NoError(t, f.conns.Deactivate(ctx, f.conn.ID))
		err := f.svc.TriggerSync(ctx, testUserID, domain.ProviderStrava)
		assert.ErrorIs(t, err, ErrConnectionInactive)
	})

	t.Run("rate limited", func(t *testing.T) {
		f := newSyncFixture(t, c, nil)
		f.svc.Limiter = denyAll{}
		err := f.svc.TriggerSync(ctx, testUserID, domain.ProviderStrava)
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, domain.SyncStatusPending, f.conns.snapshot(f.conn.ID).SyncStatus)
	})
}
