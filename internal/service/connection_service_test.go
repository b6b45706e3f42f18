package service

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type connectionFixture struct {
	svc       *ConnectionService
	conns     *memConnections
	records   *memRecords
	cursors   *memCursors
	vault     *fakeVault
	oauth     *fakeOAuth
	states    *memStates
	audit     *memAudit
	cancelled *recordingCanceller
}

func newConnectionFixture(t *testing.T) *connectionFixture {
	t.Helper()

	f := &connectionFixture{
		conns:   newMemConnections(),
		records: newMemRecords(),
		cursors: newMemCursors(),
		vault:   newFakeVault("unused"),
		oauth: &fakeOAuth{
			configured: map[domain.Provider]bool{domain.ProviderStrava: true},
			tokens:     domain.TokenPair{AccessToken: "fresh-access", RefreshToken: "fresh-refresh", ExpiresAt: time.Now().Add(6 * time.Hour)},
		},
		states:    newMemStates(),
		audit:     &memAudit{},
		cancelled: &recordingCanceller{},
	}
	strava := &identifyingConnector{
		scriptedConnector: &scriptedConnector{provider: domain.ProviderStrava, dataset: domain.DatasetWorkouts},
		accountID:         "athlete-42",
	}
	f.svc = NewConnectionService(
		f.conns,
		f.records,
		f.cursors,
		f.vault,
		f.oauth,
		f.states,
		connector.NewRegistry(strava),
		f.cancelled,
		NewAuditService(f.audit, nil, zap.NewNop()),
		zap.NewNop(),
		time.Minute,
	)
	return f
}

func TestInitiateConnection(t *testing.T) {
	f := newConnectionFixture(t)

	authURL, err := f.svc.Initiate(context.Background(), testUserID, domain.ProviderStrava)
	require.NoError(t, err)

	state, pending := f.states.only()
	require.NotEmpty(t, state)
	assert.Equal(t, testUserID, pending.UserID)
	assert.Equal(t, domain.ProviderStrava, pending.Provider)
	assert.Equal(t, time.Minute, f.states.ttls[state])

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	assert.Equal(t, state, u.Query().Get("state"))
}

func TestInitiateConnectionUnconfiguredProvider(t *testing.T) {
	f := newConnectionFixture(t)

	_, err := f.svc.Initiate(context.Background(), testUserID, domain.ProviderSpotify)
	assert.ErrorIs(t, err, domain.ErrProviderNotConfigured)
}

func TestCompleteConnection(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()

	_, err := f.svc.Initiate(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)
	state, _ := f.states.only()

	conn, err := f.svc.Complete(ctx, "", domain.ProviderStrava, state, "auth-code")
	require.NoError(t, err)

	assert.Equal(t, testUserID, conn.UserID)
	assert.Equal(t, "athlete-42", conn.ProviderUserID)
	assert.True(t, conn.IsActive)
	assert.Equal(t, []string{"auth-code"}, f.oauth.codes)
	assert.Equal(t, "fresh-access", f.vault.stored[conn.ID].AccessToken)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionConnect}, f.audit.actions(testUserID))

	// a state is single use
	_, err = f.svc.Complete(ctx, "", domain.ProviderStrava, state, "auth-code")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCompleteConnectionRejectsMismatches(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		provider domain.Provider
		state    func(f *connectionFixture) string
		code     string
		wantErr  error
	}{
		{
			name:     "missing code",
			provider: domain.ProviderStrava,
			state:    func(f *connectionFixture) string { s, _ := f.states.only(); return s },
			wantErr:  ErrInvalidInput,
		},
		{
			name:     "unknown state",
			provider: domain.ProviderStrava,
			state:    func(*connectionFixture) string { return "forged" },
			code:     "code",
			wantErr:  ErrInvalidState,
		},
		{
			name:     "other provider",
			provider: domain.ProviderSpotify,
			state:    func(f *connectionFixture) string { s, _ := f.states.only(); return s },
			code:     "code",
			wantErr:  ErrInvalidState,
		},
		{
			name:     "other user",
			userID:   "someone-else",
			provider: domain.ProviderStrava,
			state:    func(f *connectionFixture) string { s, _ := f.states.only(); return s },
			code:     "code",
			wantErr:  ErrInvalidState,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newConnectionFixture(t)
			ctx := context.Background()
			_, err := f.svc.Initiate(ctx, testUserID, domain.ProviderStrava)
			require.NoError(t, err)

			_, err = f.svc.Complete(ctx, tt.userID, tt.provider, tt.state(f), tt.code)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.oauth.codes)
			assert.Empty(t, f.vault.stored)
		})
	}
}

func TestCompleteConnectionExchangeFailure(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()
	f.oauth.exchangeErr = errors.New("invalid_grant")

	_, err := f.svc.Initiate(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)
	state, _ := f.states.only()

	_, err = f.svc.Complete(ctx, testUserID, domain.ProviderStrava, state, "code")
	require.Error(t, err)

	conns, err := f.conns.ListByUser(ctx, testUserID)
	require.NoError(t, err)
	assert.Empty(t, conns)
}

func TestReconnectReactivatesConnection(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()

	existing := f.conns.add(testUserID, domain.ProviderStrava)
	require.NoError(t, f.conns.Deactivate(ctx, existing.ID))

	_, err := f.svc.Initiate(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)
	state, _ := f.states.only()

	conn, err := f.svc.Complete(ctx, testUserID, domain.ProviderStrava, state, "code")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, conn.ID)
	assert.True(t, f.conns.snapshot(existing.ID).IsActive)
}

func TestListConnections(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()
	strava := f.conns.add(testUserID, domain.ProviderStrava)
	f.conns.add(testUserID, domain.ProviderSpotify)
	f.conns.add("other-user", domain.ProviderSpotify)

	now := time.Now()
	_, err := f.conns.TryStartSync(ctx, strava.ID, "run-1", now, now)
	require.NoError(t, err)
	_, err = f.conns.FinishSync(ctx, strava.ID, repository.SyncOutcome{
		RunID: "run-1", Status: domain.SyncStatusError, ErrorKind: domain.KindAuthExpired, At: now,
	})
	require.NoError(t, err)

	list, err := f.svc.List(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ProviderSpotify, list[0].Provider)
	assert.False(t, list[0].NeedsReconnect)
	assert.Equal(t, domain.ProviderStrava, list[1].Provider)
	assert.True(t, list[1].NeedsReconnect)
}

func TestDisconnect(t *testing.T) {
	f := newConnectionFixture(t)
	ctx := context.Background()
	conn := f.conns.add(testUserID, domain.ProviderStrava)
	f.vault.stored[conn.ID] = domain.TokenPair{AccessToken: "a"}

	_, _, err := f.records.UpsertBatch(ctx, []*domain.Record{
		{UserID: testUserID, Provider: domain.ProviderStrava, Dataset: domain.DatasetWorkouts, ExternalID: "1", RecordedAt: time.Now()},
		{UserID: testUserID, Provider: domain.ProviderStrava, Dataset: domain.DatasetWorkouts, ExternalID: "2", RecordedAt: time.Now()},
		{UserID: testUserID, Provider: domain.ProviderSpotify, Dataset: domain.DatasetTracks, ExternalID: "3", RecordedAt: time.Now()},
	})
	require.NoError(t, err)
	_, err = f.cursors.Advance(ctx, conn.ID, 0, "after=1700000000")
	require.NoError(t, err)

	result, err := f.svc.Disconnect(ctx, testUserID, domain.ProviderStrava)
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.RecordsDeleted)
	assert.Equal(t, 1, f.records.count())
	assert.False(t, f.conns.snapshot(conn.ID).IsActive)
	assert.Equal(t, []string{conn.ID}, f.cancelled.cancelled)
	assert.Equal(t, []string{conn.ID}, f.vault.revoked)
	assert.NotContains(t, f.vault.stored, conn.ID)
	assert.Zero(t, f.cursors.current(conn.ID).Sequence)
	assert.Equal(t, []domain.AuditAction{domain.AuditActionDisconnect}, f.audit.actions(testUserID))
}

func TestDisconnectUnknownProvider(t *testing.T) {
	f := newConnectionFixture(t)

	_, err := f.svc.Disconnect(context.Background(), testUserID, domain.ProviderSpotify)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.Empty(t, f.audit.actions(testUserID))
}
