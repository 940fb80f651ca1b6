package models

import "fmt"

type Action string

const (
	ActionVerify Action = "verify"
	ActionClear  Action = "clear"
)

func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionVerify, ActionClear:
		return Action(s), nil
	default:
		return "", fmt.Errorf("unknown reaction action: %q", s)
	}
}

type MyReaction struct {
	Verified bool `json:"verified"`
	Cleared  bool `json:"cleared"`
}

// ReactionState holds aggregate counts for a report plus the current
// session's own reaction. Verified and Cleared are mutually exclusive.
type ReactionState struct {
	VerifyCount uint       `json:"verify_count"`
	ClearCount  uint       `json:"clear_count"`
	Me          MyReaction `json:"me"`
}

// Decided reports whether the session already verified or cleared the report.
func (r ReactionState) Decided() bool {
	return r.Me.Verified || r.Me.Cleared
}
