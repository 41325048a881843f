package model

// UserContextUpdate sets only the fields the caller wants changed.
// Nil pointers leave the existing value alone; Demographics entries are
// merged key by key.
type UserContextUpdate struct {
	Location          *string         `json:"location,omitempty"`
	PreferredLanguage *string         `json:"preferredLanguage,omitempty"`
	LegalIssueType    *LegalIssueType `json:"legalIssueType,omitempty"`
	Urgency           *UrgencyLevel   `json:"urgency,omitempty"`
	Demographics      map[string]bool `json:"demographics,omitempty"`
}

// SessionUpdate is a partial update applied on a conversational turn.
// Turns are appended to the history; UserContext is deep-merged; the
// remaining fields overwrite when set.
type SessionUpdate struct {
	Language               *string            `json:"language,omitempty"`
	DisclaimerAcknowledged *bool              `json:"disclaimerAcknowledged,omitempty"`
	Turns                  []ConversationTurn `json:"turns,omitempty"`
	UserContext            *UserContextUpdate `json:"userContext,omitempty"`
}

// Empty reports whether the update would change nothing beyond LastActivity.
func (u SessionUpdate) Empty() bool {
	return u.Language == nil && u.DisclaimerAcknowledged == nil &&
		len(u.Turns) == 0 && u.UserContext == nil
}

// Apply merges the update into a deep copy of s and returns it.
// The original session is never touched, so a store can validate the
// result and reject it without losing prior state.
func (u SessionUpdate) Apply(s *Session) *Session {
	merged := s.Clone()

	if u.Language != nil {
		merged.Language = *u.Language
	}
	if u.DisclaimerAcknowledged != nil {
		merged.DisclaimerAcknowledged = *u.DisclaimerAcknowledged
	}
	merged.ConversationHistory = append(merged.ConversationHistory, u.Turns...)

	if u.UserContext != nil {
		ctx := &merged.UserContext
		if u.UserContext.Location != nil {
			ctx.Location = *u.UserContext.Location
		}
		if u.UserContext.PreferredLanguage != nil {
			ctx.PreferredLanguage = *u.UserContext.PreferredLanguage
		}
		if u.UserContext.LegalIssueType != nil {
			ctx.LegalIssueType = *u.UserContext.LegalIssueType
		}
		if u.UserContext.Urgency != nil {
			ctx.Urgency = *u.UserContext.Urgency
		}
		if len(u.UserContext.Demographics) > 0 {
			if ctx.Demographics == nil {
				ctx.Demographics = make(map[string]bool, len(u.UserContext.Demographics))
			}
			for k, v := range u.UserContext.Demographics {
				ctx.Demographics[k] = v
			}
		}
	}

	return merged
}
