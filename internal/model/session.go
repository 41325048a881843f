package model

import (
	"fmt"
	"time"
)

// DefaultLanguage is assigned to every newly created session.
const DefaultLanguage = "en"

// ConversationTurn is a single exchange between the user and the guidance engine.
type ConversationTurn struct {
	Timestamp       time.Time `json:"timestamp"`
	UserInput       string    `json:"userInput"`
	SystemResponse  string    `json:"systemResponse"`
	Confidence      float64   `json:"confidence"`
	DisclaimerShown bool      `json:"disclaimerShown"`
}

// UserContext carries what the conversation layer has learned about the user.
// It is merged field-wise on update, never replaced wholesale.
type UserContext struct {
	Location          string          `json:"location,omitempty"`
	PreferredLanguage string          `json:"preferredLanguage,omitempty"`
	LegalIssueType    LegalIssueType  `json:"legalIssueType,omitempty"`
	Urgency           UrgencyLevel    `json:"urgency,omitempty"`
	Demographics      map[string]bool `json:"demographics,omitempty"`
}

// Session is a bounded-lifetime conversational context keyed by an opaque id.
type Session struct {
	ID                     string             `json:"id"`
	StartTime              time.Time          `json:"startTime"`
	LastActivity           time.Time          `json:"lastActivity"`
	Language               string             `json:"language"`
	ConversationHistory    []ConversationTurn `json:"conversationHistory"`
	UserContext            UserContext        `json:"userContext"`
	DisclaimerAcknowledged bool               `json:"disclaimerAcknowledged"`
}

// NewSession returns a session with default state and both timestamps set to now.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:                  id,
		StartTime:           now,
		LastActivity:        now,
		Language:            DefaultLanguage,
		ConversationHistory: []ConversationTurn{},
	}
}

// Clone returns a deep copy so callers can never mutate stored state.
func (s *Session) Clone() *Session {
	c := *s
	c.ConversationHistory = make([]ConversationTurn, len(s.ConversationHistory))
	copy(c.ConversationHistory, s.ConversationHistory)
	if s.UserContext.Demographics != nil {
		c.UserContext.Demographics = make(map[string]bool, len(s.UserContext.Demographics))
		for k, v := range s.UserContext.Demographics {
			c.UserContext.Demographics[k] = v
		}
	}
	return &c
}

// Expired reports whether the session has been inactive longer than timeout.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(s.LastActivity) > timeout
}

// Validate checks the session's structural constraints.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session id is empty")
	}
	if s.Language == "" {
		return fmt.Errorf("language is empty")
	}
	if !s.UserContext.Urgency.IsValid() {
		return fmt.Errorf("unknown urgency level %q", s.UserContext.Urgency)
	}
	if !s.UserContext.LegalIssueType.IsValid() {
		return fmt.Errorf("unknown legal issue type %q", s.UserContext.LegalIssueType)
	}
	for i, turn := range s.ConversationHistory {
		if turn.Confidence < 0 || turn.Confidence > 1 {
			return fmt.Errorf("turn %d: confidence %v out of range [0,1]", i, turn.Confidence)
		}
	}
	return nil
}
