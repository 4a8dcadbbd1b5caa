package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind classifies an expected, user-facing rejection.
type Kind string

const (
	KindDraftNotActive       Kind = "draft_not_active"
	KindNotYourTurn          Kind = "not_your_turn"
	KindCategoryLimitReached Kind = "category_limit_reached"
	KindItemUnavailable      Kind = "item_unavailable"
	KindAlreadyTerminal      Kind = "already_terminal"
	KindInvalidPlayerCount   Kind = "invalid_player_count"
	KindChannelBusy          Kind = "channel_has_active_draft"
	KindNotAdmin             Kind = "not_admin"
)

// ValidationError is the expected outcome of an invalid request. It is a
// normal part of operation and is never logged as a failure.
type ValidationError struct {
	Kind     Kind
	DraftID  uuid.UUID
	PlayerID string
	Category string
	Item     string
	Detail   string
}

func (e *ValidationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return string(e.Kind)
}

// AsValidation extracts a ValidationError from an error chain.
func AsValidation(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// PersistenceError wraps an infrastructure failure during a commit. The
// commit transaction rolled back; callers reload before retrying.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Conflict sentinels returned by the store when a conditional update finds
// zero rows. ErrItemConflict means another pick took the item first;
// ErrTurnConflict means the cursor or status guard lost the race.
var (
	ErrConflict     = errors.New("commit lost a concurrent race")
	ErrItemConflict = fmt.Errorf("item already taken: %w", ErrConflict)
	ErrTurnConflict = fmt.Errorf("turn already advanced: %w", ErrConflict)
)
