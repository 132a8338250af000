package domain

import "errors"

var (
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuizInactive is returned when starting an attempt on a deactivated quiz.
	ErrQuizInactive = errors.New("quiz is not active")
	// ErrAttemptInProgress is returned when a learner already has an open attempt for the quiz.
	ErrAttemptInProgress = errors.New("attempt already in progress")
	// ErrAttemptNotFound indicates the attempt id is unknown.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAttemptNotActive is returned when submitting to a completed or abandoned attempt.
	ErrAttemptNotActive = errors.New("attempt is not active")
	// ErrUnknownQuestion indicates the question does not belong to the attempt's quiz.
	ErrUnknownQuestion = errors.New("question does not belong to quiz")
	// ErrAlreadyFinished signals a double finish; callers should treat it as a no-op.
	ErrAlreadyFinished = errors.New("attempt already finished")
	// ErrSessionNotFound is returned when an attempt has no timer session.
	ErrSessionNotFound = errors.New("attempt session not found")
)
