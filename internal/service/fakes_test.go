package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/data-vault/internal/connector"
	"github.com/prperemyshlev/data-vault/internal/domain"
	"github.com/prperemyshlev/data-vault/internal/repository"
)

type memConnections struct {
	mu   sync.Mutex
	byID map[string]*domain.Connection
}

func newMemConnections() *memConnections {
	return &memConnections{byID: make(map[string]*domain.Connection)}
}

func (m *memConnections) add(userID string, provider domain.Provider) *domain.Connection {
	conn := &domain.Connection{
		ID:         uuid.NewString(),
		UserID:     userID,
		Provider:   provider,
		IsActive:   true,
		SyncStatus: domain.SyncStatusPending,
		CreatedAt:  time.Now(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *conn
	m.byID[conn.ID] = &c
	return conn
}

func (m *memConnections) snapshot(id string) domain.Connection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.byID[id]
}

func (m *memConnections) Upsert(_ context.Context, conn *domain.Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.UserID == conn.UserID && existing.Provider == conn.Provider {
			existing.IsActive = true
			existing.ProviderUserID = conn.ProviderUserID
			existing.SyncError = nil
			existing.SyncErrorKind = ""
			if existing.SyncStatus != domain.SyncStatusSyncing {
				existing.SyncStatus = domain.SyncStatusPending
			}
			*conn = *existing
			return nil
		}
	}
	conn.ID = uuid.NewString()
	conn.IsActive = true
	conn.SyncStatus = domain.SyncStatusPending
	c := *conn
	m.byID[conn.ID] = &c
	return nil
}

func (m *memConnections) Get(_ context.Context, userID string, provider domain.Provider) (*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.byID {
		if c.UserID == userID && c.Provider == provider {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memConnections) GetByID(_ context.Context, id string) (*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memConnections) ListByUser(_ context.Context, userID string) ([]*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Connection
	for _, c := range m.byID {
		if c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out, nil
}

func (m *memConnections) ListDue(_ context.Context, syncedBefore, staleBefore time.Time, limit int) ([]*domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Connection
	for _, c := range m.byID {
		if !c.IsActive || c.NeedsReconnect() {
			continue
		}
		due := c.LastSyncAt == nil || c.LastSyncAt.Before(syncedBefore)
		if c.SyncStatus == domain.SyncStatusSyncing {
			due = c.SyncStartedAt == nil || c.SyncStartedAt.Before(staleBefore)
		}
		if due {
			cp := *c
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memConnections) TryStartSync(_ context.Context, id, runID string, now, staleBefore time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || !c.IsActive {
		return false, nil
	}
	if c.SyncStatus == domain.SyncStatusSyncing && c.SyncStartedAt != nil && !c.SyncStartedAt.Before(staleBefore) {
		return false, nil
	}
	c.SyncStatus = domain.SyncStatusSyncing
	c.SyncStartedAt = &now
	c.SyncRunID = runID
	return true, nil
}

func (m *memConnections) LockClaim(_ context.Context, id, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdsLocked(id, runID), nil
}

func (m *memConnections) holdsLocked(id, runID string) bool {
	c, ok := m.byID[id]
	return ok && c.IsActive && c.SyncStatus == domain.SyncStatusSyncing && c.SyncRunID == runID
}

func (m *memConnections) FinishSync(_ context.Context, id string, outcome repository.SyncOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok || c.SyncRunID != outcome.RunID {
		return false, nil
	}
	c.SyncStatus = outcome.Status
	c.SyncError = outcome.Error
	c.SyncErrorKind = outcome.ErrorKind
	c.SyncStartedAt = nil
	c.SyncRunID = ""
	if outcome.Status == domain.SyncStatusSuccess {
		at := outcome.At
		c.LastSyncAt = &at
	}
	return true, nil
}

// finish records a successful run outside the orchestrator
func (m *memConnections) finish(id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.byID[id]
	c.SyncStatus = domain.SyncStatusSuccess
	c.LastSyncAt = &at
}

func (m *memConnections) Deactivate(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.IsActive = false
	if c.SyncStatus == domain.SyncStatusSyncing {
		c.SyncStatus = domain.SyncStatusPending
	}
	c.SyncStartedAt = nil
	c.SyncRunID = ""
	return nil
}

func (m *memConnections) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.byID {
		if c.UserID == userID {
			delete(m.byID, id)
			n++
		}
	}
	return n, nil
}

// memBatches commits batches the way the Postgres store does: the claim is
// checked under the connections lock, then records and cursor are written
type memBatches struct {
	conns   *memConnections
	records *memRecords
	cursors *memCursors
}

func (m *memBatches) CommitBatch(ctx context.Context, batch *repository.SyncBatch) (*repository.BatchResult, error) {
	m.conns.mu.Lock()
	defer m.conns.mu.Unlock()
	if !m.conns.holdsLocked(batch.ConnectionID, batch.RunID) {
		return nil, repository.ErrClaimLost
	}

	result := &repository.BatchResult{}
	var err error
	if len(batch.Records) > 0 {
		if result.Inserted, result.Updated, err = m.records.UpsertBatch(ctx, batch.Records); err != nil {
			return nil, err
		}
	}
	if batch.Advance {
		if result.Cursor, err = m.cursors.Advance(ctx, batch.ConnectionID, batch.ExpectedSeq, batch.Position); err != nil {
			return nil, err
		}
	}
	return result, nil
}

type memCursors struct {
	mu       sync.Mutex
	cursors  map[string]domain.Cursor
	advances int
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]domain.Cursor)}
}

func (m *memCursors) Get(_ context.Context, connectionID string) (*domain.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[connectionID]
	if !ok {
		return &domain.Cursor{ConnectionID: connectionID}, nil
	}
	return &c, nil
}

func (m *memCursors) Advance(_ context.Context, connectionID string, expectedSeq int64, position string) (*domain.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.cursors[connectionID]
	if current.Sequence != expectedSeq {
		return nil, repository.ErrStaleCursor
	}
	next := domain.Cursor{
		ConnectionID: connectionID,
		Position:     position,
		Sequence:     expectedSeq + 1,
		UpdatedAt:    time.Now(),
	}
	m.cursors[connectionID] = next
	m.advances++
	return &next, nil
}

func (m *memCursors) Reset(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, connectionID)
	return nil
}

func (m *memCursors) current(connectionID string) domain.Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[connectionID]
}

type memRecords struct {
	mu      sync.Mutex
	records map[domain.RecordKey]*domain.Record
	calls   int
	// failOnCall makes the n-th UpsertBatch call fail
	failOnCall int
}

func newMemRecords() *memRecords {
	return &memRecords{records: make(map[domain.RecordKey]*domain.Record)}
}

func (m *memRecords) UpsertBatch(_ context.Context, records []*domain.Record) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failOnCall > 0 && m.calls == m.failOnCall {
		return 0, 0, errors.New("connection reset by peer")
	}

	var inserted, updated int
	for _, r := range records {
		rec := *r
		if existing, ok := m.records[r.Key()]; ok {
			rec.ID = existing.ID
			updated++
		} else {
			rec.ID = uuid.NewString()
			inserted++
		}
		m.records[r.Key()] = &rec
	}
	return inserted, updated, nil
}

func (m *memRecords) sorted(userID string) []*domain.Record {
	var out []*domain.Record
	for _, r := range m.records {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].RecordedAt.After(out[j].RecordedAt)
	})
	return out
}

func (m *memRecords) Query(_ context.Context, filter repository.RecordFilter) ([]*domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Record
	for _, r := range m.sorted(filter.UserID) {
		if filter.Dataset != "" && r.Dataset != filter.Dataset {
			continue
		}
		if filter.Provider != "" && r.Provider != filter.Provider {
			continue
		}
		if filter.Start != nil && r.RecordedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && r.RecordedAt.After(*filter.End) {
			continue
		}
		if a := filter.After; a != nil {
			// newest first: keep rows strictly below the cursor
			if r.RecordedAt.After(a.RecordedAt) || (r.RecordedAt.Equal(a.RecordedAt) && r.ID >= a.ID) {
				continue
			}
		}
		out = append(out, r)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memRecords) Summarize(_ context.Context, userID string, since time.Time, topN int) (*domain.RecordSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary := &domain.RecordSummary{Counts: map[domain.Dataset]int{}}
	artists := map[string]int{}
	var seconds float64
	for _, r := range m.sorted(userID) {
		if r.RecordedAt.Before(since) {
			continue
		}
		summary.Counts[r.Dataset]++
		var body map[string]any
		_ = json.Unmarshal(r.Body, &body)
		switch r.Dataset {
		case domain.DatasetTracks:
			if a, ok := body["artist"].(string); ok {
				artists[a]++
			}
		case domain.DatasetWorkouts:
			if d, ok := body["distance_km"].(float64); ok {
				summary.WorkoutDistanceKm += d
			}
			if s, ok := body["duration_s"].(float64); ok {
				seconds += s
			}
		}
	}
	summary.WorkoutDurationHours = seconds / 3600
	for a, n := range artists {
		summary.TopArtists = append(summary.TopArtists, domain.ArtistCount{Artist: a, Count: n})
	}
	sort.Slice(summary.TopArtists, func(i, j int) bool {
		if summary.TopArtists[i].Count == summary.TopArtists[j].Count {
			return summary.TopArtists[i].Artist < summary.TopArtists[j].Artist
		}
		return summary.TopArtists[i].Count > summary.TopArtists[j].Count
	})
	if len(summary.TopArtists) > topN {
		summary.TopArtists = summary.TopArtists[:topN]
	}
	return summary, nil
}

func (m *memRecords) Stream(ctx context.Context, userID string, fn func(*domain.Record) error) error {
	m.mu.Lock()
	all := m.sorted(userID)
	m.mu.Unlock()

	for _, ds := range domain.Datasets {
		for i := len(all) - 1; i >= 0; i-- {
			if all[i].Dataset != ds {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(all[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memRecords) DeleteByProvider(_ context.Context, userID string, provider domain.Provider) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.records {
		if r.UserID == userID && r.Provider == provider {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memRecords) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.records {
		if r.UserID == userID {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memRecords) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
	err     error
}

func (m *memAudit) Append(_ context.Context, entry *domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

func (m *memAudit) List(_ context.Context, userID string, limit int) ([]*domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AuditEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memAudit) DeleteByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.UserID == userID {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *memAudit) actions(userID string) []domain.AuditAction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditAction
	for _, e := range m.entries {
		if e.UserID == userID {
			out = append(out, e.Action)
		}
	}
	return out
}

type fakeVault struct {
	mu       sync.Mutex
	tokens   domain.TokenPair
	stored   map[string]domain.TokenPair
	revoked  []string
	forced   atomic.Int32
	forceErr error
	getErr   error
	// rotated is handed out by ForceRefresh
	rotated domain.TokenPair
}

func newFakeVault(access string) *fakeVault {
	return &fakeVault{
		tokens: domain.TokenPair{AccessToken: access, RefreshToken: "refresh-" + access, ExpiresAt: time.Now().Add(time.Hour)},
		stored: make(map[string]domain.TokenPair),
	}
}

func (v *fakeVault) Store(_ context.Context, conn *domain.Connection, tokens domain.TokenPair) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stored[conn.ID] = tokens
	return nil
}

func (v *fakeVault) RefreshIfNeeded(_ context.Context, _ *domain.Connection) (domain.TokenPair, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.getErr != nil {
		return domain.TokenPair{}, v.getErr
	}
	return v.tokens, nil
}

func (v *fakeVault) ForceRefresh(_ context.Context, _ *domain.Connection) (domain.TokenPair, error) {
	v.forced.Add(1)
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.forceErr != nil {
		return domain.TokenPair{}, v.forceErr
	}
	if v.rotated.AccessToken != "" {
		v.tokens = v.rotated
	}
	return v.tokens, nil
}

func (v *fakeVault) Revoke(_ context.Context, conn *domain.Connection) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.revoked = append(v.revoked, conn.ID)
	delete(v.stored, conn.ID)
	return nil
}

// scriptedConnector serves pages from a function and maps {"id","v"} items
type scriptedConnector struct {
	provider domain.Provider
	dataset  domain.Dataset
	fetch    func(ctx context.Context, cursor string, tokens domain.TokenPair) (*connector.Page, error)
}

func (c *scriptedConnector) Provider() domain.Provider { return c.provider }

func (c *scriptedConnector) Dataset() domain.Dataset { return c.dataset }

func (c *scriptedConnector) Fetch(ctx context.Context, cursor string, tokens domain.TokenPair) (*connector.Page, error) {
	return c.fetch(ctx, cursor, tokens)
}

func (c *scriptedConnector) MapToUnified(raw json.RawMessage) (*domain.Record, error) {
	var item struct {
		ID string `json:"id"`
		At string `json:"at"`
	}
	if err := json.Unmarshal(raw, &item); err != nil || item.ID == "" {
		return nil, domain.ErrMalformedItem
	}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if item.At != "" {
		parsed, err := time.Parse(time.RFC3339, item.At)
		if err != nil {
			return nil, domain.ErrMalformedItem
		}
		at = parsed
	}
	return &domain.Record{
		Provider:   c.provider,
		Dataset:    c.dataset,
		ExternalID: item.ID,
		RecordedAt: at,
		Body:       raw,
	}, nil
}

type allowAll struct{}

func (allowAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return true, nil }

type denyAll struct{}

func (denyAll) Allow(context.Context, string, int, time.Duration) (bool, error) { return false, nil }

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) Create(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.users, id)
	return nil
}

type memStates struct {
	mu     sync.Mutex
	states map[string]PendingConnection
	ttls   map[string]time.Duration
}

func newMemStates() *memStates {
	return &memStates{states: make(map[string]PendingConnection), ttls: make(map[string]time.Duration)}
}

func (m *memStates) Save(_ context.Context, state string, pending PendingConnection, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state] = pending
	m.ttls[state] = ttl
	return nil
}

func (m *memStates) Consume(_ context.Context, state string) (*PendingConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.states[state]
	if !ok {
		return nil, ErrInvalidState
	}
	delete(m.states, state)
	return &p, nil
}

func (m *memStates) only() (string, PendingConnection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s, p := range m.states {
		return s, p
	}
	return "", PendingConnection{}
}

type fakeOAuth struct {
	configured  map[domain.Provider]bool
	tokens      domain.TokenPair
	exchangeErr error
	codes       []string
}

func (f *fakeOAuth) Configured(provider domain.Provider) bool {
	return f.configured[provider]
}

func (f *fakeOAuth) AuthCodeURL(provider domain.Provider, state string) (string, error) {
	return "https://auth.example.com/" + string(provider) + "?state=" + state, nil
}

func (f *fakeOAuth) Exchange(_ context.Context, _ domain.Provider, code string) (*connector.Grant, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &connector.Grant{Tokens: f.tokens}, nil
}

// identifyingConnector adds AccountID to a scripted connector
type identifyingConnector struct {
	*scriptedConnector
	accountID string
}

func (c *identifyingConnector) AccountID(context.Context, *connector.Grant) (string, error) {
	return c.accountID, nil
}

type recordingCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (r *recordingCanceller) CancelAndWait(_ context.Context, connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = append(r.cancelled, connectionID)
	return nil
}
