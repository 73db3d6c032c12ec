package session

import "errors"

// Domain errors returned by the exam-taking core.
var (
	ErrNoQuestions      = errors.New("exam has no questions")
	ErrUnknownQuestion  = errors.New("question is not part of this session")
	ErrInvalidAnswer    = errors.New("answer is not valid for the question kind")
	ErrIndexOutOfRange  = errors.New("question index out of range")
	ErrSessionClosed    = errors.New("session is no longer accepting changes")
	ErrAlreadySubmitted = errors.New("attempt has already been submitted")
	ErrSubmitInFlight   = errors.New("submission is already in progress")
	ErrTimerNotIdle     = errors.New("timer has already been started")
)
