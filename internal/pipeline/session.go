package pipeline

import "sync"

// Session is the state shared by every run on one terminal: whose account
// payments settle to, and the last charge that went through.
type Session struct {
	ConnectedAccountID string
	Currency           string

	mu           sync.Mutex
	lastChargeID string
}

func NewSession(accountID, currency string) *Session {
	return &Session{ConnectedAccountID: accountID, Currency: currency}
}

// LastSuccessfulChargeID is kept for refunds.
func (s *Session) LastSuccessfulChargeID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChargeID
}

func (s *Session) setLastSuccessfulChargeID(id string) {
	s.mu.Lock()
	s.lastChargeID = id
	s.mu.Unlock()
}
