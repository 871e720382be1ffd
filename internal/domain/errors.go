package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz definition is absent or not
	// visible to the caller (unpublished quizzes are not found for
	// anonymous respondents).
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrProgressNotFound is returned when no progress snapshot exists
	// for the given key.
	ErrProgressNotFound = errors.New("quiz progress not found")
	// ErrMalformedGraph indicates an edge references a node that is not
	// part of the flow. Reported by validation only; traversal treats a
	// missing endpoint as a terminal transition instead.
	ErrMalformedGraph = errors.New("flow graph references a missing node")
	// ErrEmptyFlow indicates the quiz has no nodes to traverse.
	ErrEmptyFlow = errors.New("flow has no nodes")
	// ErrAnswerRequired rejects advancing a question node without a
	// selected option. A refused no-op: state is unchanged.
	ErrAnswerRequired = errors.New("an option must be selected")
	// ErrInputRequired rejects advancing a required text input with a
	// blank value. A refused no-op: state is unchanged.
	ErrInputRequired = errors.New("a value is required")
	// ErrNotStarted is returned when a session operation needs a started
	// or resumed attempt.
	ErrNotStarted = errors.New("attempt not started")
	// ErrAttemptFinished is returned when advancing an attempt that
	// already reached a terminal node.
	ErrAttemptFinished = errors.New("attempt already finished")
)
