package pipeline

import "errors"

// Stage-ordering preconditions. These mean the caller asked for a stage
// whose input does not exist yet; nothing was attempted.
var (
	ErrPageNotFound    = errors.New("pipeline: page not found")
	ErrClientNotFound  = errors.New("pipeline: client not found")
	ErrClientInactive  = errors.New("pipeline: client is inactive")
	ErrNotFetched      = errors.New("pipeline: page has no fetched content")
	ErrNotRewritten    = errors.New("pipeline: page has no generated html")
	ErrAlreadyDeployed = errors.New("pipeline: worker already deployed")
	ErrNotDeployed     = errors.New("pipeline: no worker deployed")
)

// IsPrecondition reports whether err is a stage-ordering or lookup
// failure, as opposed to an upstream service failure. HTTP handlers map
// preconditions to 4xx.
func IsPrecondition(err error) bool {
	for _, p := range []error{
		ErrPageNotFound, ErrClientNotFound, ErrClientInactive,
		ErrNotFetched, ErrNotRewritten, ErrAlreadyDeployed, ErrNotDeployed,
	} {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}
