package domain

import "errors"

// Request-scoped errors are returned to the single requester and never
// broadcast.
var (
	// ErrRoomNotFound indicates the room code has no live room.
	ErrRoomNotFound = errors.New("room not found")

	// ErrUnsupportedLanguage indicates a language outside the policy table.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrInvalidRequest indicates a malformed or incomplete payload.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMemberNotFound indicates the connection is not a member of the room.
	ErrMemberNotFound = errors.New("member not found")

	// ErrRegistryFull indicates the registry reached its room ceiling.
	ErrRegistryFull = errors.New("room limit reached")

	// ErrQueueFull indicates the execution admission queue rejected a job.
	ErrQueueFull = errors.New("execution queue is full")
)

// Infrastructure errors are converted into Failed results by the scheduler.
var (
	// ErrWorkspace indicates the job workspace could not be prepared.
	ErrWorkspace = errors.New("workspace failure")

	// ErrSpawn indicates the compiler or program could not be started.
	ErrSpawn = errors.New("spawn failure")

	// ErrJobExpired indicates the job waited in the queue past its start
	// deadline and was dropped without running.
	ErrJobExpired = errors.New("job expired before a worker was free")

	// ErrResultTimeout indicates no result arrived for a submitted job in time.
	ErrResultTimeout = errors.New("no result received for job")
)

// IsRequestError reports whether err should be answered to the requester
// as a client error rather than logged as an internal failure.
func IsRequestError(err error) bool {
	return errors.Is(err, ErrRoomNotFound) ||
		errors.Is(err, ErrUnsupportedLanguage) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrMemberNotFound)
}
