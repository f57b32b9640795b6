package remote

import (
	"context"
	"sync"

	"github.com/postaworks/posta/internal/model"
)

// MutationCall records one ApplyTagMutation invocation.
type MutationCall struct {
	AccountID string
	IDs       []string
	Add       []string
	Remove    []string
}

// PageCall records one FetchPage invocation.
type PageCall struct {
	AccountID string
	CardID    string
	Query     string
	PageToken string
}

// MockService is an in-memory Service for tests, with scripted responses,
// error injection, and call tracking.
type MockService struct {
	mu sync.Mutex

	// ChangesQueue is returned by successive FetchIncrementalChanges calls;
	// once drained, an empty delta is returned.
	ChangesQueue []*Changes

	// Pages maps cardID -> pageToken -> page. The first page uses the "" key.
	Pages map[string]map[string]*Page

	// Error injection
	ChangesErr  error
	PageErr     error
	PageErrFor  map[string]error // per-card page errors
	MutationErr error

	// MutationGate, when set, blocks ApplyTagMutation until the channel is
	// closed. Lets tests exercise behavior while a mutation is in flight.
	MutationGate chan struct{}

	// Call tracking
	ChangesCalls  int
	LastCursor    string
	PageCalls     []PageCall
	MutationCalls []MutationCall
}

// NewMockService creates an empty mock.
func NewMockService() *MockService {
	return &MockService{
		Pages:      make(map[string]map[string]*Page),
		PageErrFor: make(map[string]error),
	}
}

// SetPage scripts the page returned for a card and page token.
func (m *MockService) SetPage(cardID, pageToken string, page *Page) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Pages[cardID] == nil {
		m.Pages[cardID] = make(map[string]*Page)
	}
	m.Pages[cardID][pageToken] = page
}

// QueueChanges appends a delta to the changes queue.
func (m *MockService) QueueChanges(changes *Changes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChangesQueue = append(m.ChangesQueue, changes)
}

// FetchIncrementalChanges pops the next scripted delta.
func (m *MockService) FetchIncrementalChanges(ctx context.Context, accountID, cursor string) (*Changes, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChangesCalls++
	m.LastCursor = cursor

	if m.ChangesErr != nil {
		return nil, m.ChangesErr
	}
	if len(m.ChangesQueue) == 0 {
		return &Changes{Cursor: cursor}, nil
	}
	next := m.ChangesQueue[0]
	m.ChangesQueue = m.ChangesQueue[1:]
	return next, nil
}

// FetchPage returns the scripted page for the card and token.
func (m *MockService) FetchPage(ctx context.Context, accountID, cardID, query, pageToken string) (*Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PageCalls = append(m.PageCalls, PageCall{
		AccountID: accountID, CardID: cardID, Query: query, PageToken: pageToken,
	})

	if m.PageErr != nil {
		return nil, m.PageErr
	}
	if err, ok := m.PageErrFor[cardID]; ok && err != nil {
		return nil, err
	}

	pages, ok := m.Pages[cardID]
	if !ok {
		return &Page{Groups: []model.Group{}}, nil
	}
	page, ok := pages[pageToken]
	if !ok {
		return &Page{Groups: []model.Group{}}, nil
	}
	return page, nil
}

// ApplyTagMutation records the call.
func (m *MockService) ApplyTagMutation(ctx context.Context, accountID string, ids, add, remove []string) error {
	m.mu.Lock()
	m.MutationCalls = append(m.MutationCalls, MutationCall{
		AccountID: accountID,
		IDs:       append([]string(nil), ids...),
		Add:       append([]string(nil), add...),
		Remove:    append([]string(nil), remove...),
	})
	gate := m.MutationGate
	err := m.MutationErr
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

// PageCallsFor returns the number of FetchPage calls made for a card.
func (m *MockService) PageCallsFor(cardID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.PageCalls {
		if c.CardID == cardID {
			n++
		}
	}
	return n
}

// LastMutation returns the most recent mutation call, or nil.
func (m *MockService) LastMutation() *MutationCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.MutationCalls) == 0 {
		return nil
	}
	call := m.MutationCalls[len(m.MutationCalls)-1]
	return &call
}

// Ensure MockService implements Service.
var _ Service = (*MockService)(nil)
