package errors

import "net/http"

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: Identity errors
// 13000-13999: Submission & Judge errors
// 14000-14999: Contest errors
// 16000-16999: Permission errors
const (
	// ========== System & Common Errors (10000-10999) ==========

	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Storage errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103
	StorageError        ErrorCode = 10104
	MQError             ErrorCode = 10105

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200
	LockFailed ErrorCode = 10203

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Invariant violations (10900-10999)
	InvariantViolation ErrorCode = 10900

	// ========== Identity Errors (11000-11999) ==========
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Submission & Judge Errors (13000-13999) ==========

	// Submission (13000-13099)
	AttemptNotFound      ErrorCode = 13000
	CodeTooLarge         ErrorCode = 13002
	LanguageNotSupported ErrorCode = 13003
	SubmitTooFrequently  ErrorCode = 13004
	AlreadyAccepted      ErrorCode = 13006
	SubmissionInProgress ErrorCode = 13007

	// Judge (13100-13199)
	JudgeQueueFull   ErrorCode = 13100
	JudgeUnavailable ErrorCode = 13101

	// Problem catalog (13300-13399)
	ProblemNotFound     ErrorCode = 13300
	ProblemNotInContest ErrorCode = 13301

	// ========== Contest Errors (14000-14999) ==========

	// Contest basic (14000-14099)
	ContestNotFound     ErrorCode = 14000
	ContestNotStarted   ErrorCode = 14001
	ContestEnded        ErrorCode = 14002
	ContestAccessDenied ErrorCode = 14003
	ContestCreateFailed ErrorCode = 14004
	ContestNotRunning   ErrorCode = 14006

	// Registration (14100-14199)
	AlreadyRegistered ErrorCode = 14101
	NotRegistered     ErrorCode = 14103
	InvalidRoomCode   ErrorCode = 14105

	// Ranking (14200-14299)
	RankingNotAvailable ErrorCode = 14200

	// ========== Permission Errors (16000-16999) ==========
	PermissionDenied ErrorCode = 16000
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Storage
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",
	StorageError:        "Object storage operation failed",
	MQError:             "Message queue operation failed",

	// Cache
	CacheError: "Cache operation failed",
	LockFailed: "Failed to acquire lock",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	InvariantViolation: "Conflicting state detected, flagged for review",

	// Identity
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Submission
	AttemptNotFound:      "Attempt not found",
	CodeTooLarge:         "Code is too large",
	LanguageNotSupported: "Programming language not supported",
	SubmitTooFrequently:  "Submitting too frequently, please wait",
	AlreadyAccepted:      "You have already submitted an accepted solution for this problem",
	SubmissionInProgress: "A submission for this problem is still being judged",

	// Judge
	JudgeQueueFull:   "Judge queue is full, please try again later",
	JudgeUnavailable: "Judge is unavailable, please resubmit",

	// Problem catalog
	ProblemNotFound:     "Problem not found",
	ProblemNotInContest: "Problem is not part of this contest",

	// Contest
	ContestNotFound:     "Contest not found",
	ContestNotStarted:   "Contest has not started yet",
	ContestEnded:        "Contest has ended",
	ContestAccessDenied: "Access to this contest is denied",
	ContestCreateFailed: "Failed to create contest",
	ContestNotRunning:   "Contest is not running",

	// Contest Registration
	AlreadyRegistered: "Already registered for this contest",
	NotRegistered:     "Not registered for this contest",
	InvalidRoomCode:   "Invalid room code",

	// Ranking
	RankingNotAvailable: "Contest rankings will be available once the contest has ended",

	// Permission
	PermissionDenied: "Permission denied",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// Retryable reports whether the caller may repeat the request unchanged.
func (c ErrorCode) Retryable() bool {
	switch c {
	case JudgeUnavailable, JudgeQueueFull, ServiceUnavailable, Timeout,
		DatabaseError, CacheError, StorageError, MQError, LockFailed,
		SubmissionInProgress, SubmitTooFrequently:
		return true
	}
	return false
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return http.StatusOK
	case c == RankingNotAvailable:
		return http.StatusAccepted
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return http.StatusUnauthorized
	case c == Forbidden, c == ContestAccessDenied, c == NotRegistered, c >= 16000 && c < 16100:
		return http.StatusForbidden
	case c == NotFound, c == ContestNotFound, c == ProblemNotFound, c == AttemptNotFound, c == InvalidRoomCode:
		return http.StatusNotFound
	case c == AlreadyAccepted, c == AlreadyRegistered, c == SubmissionInProgress, c == RecordAlreadyExists:
		return http.StatusConflict
	case c == ContestNotRunning, c == ContestNotStarted, c == ContestEnded:
		return http.StatusConflict
	case c == TooManyRequests, c == SubmitTooFrequently:
		return http.StatusTooManyRequests
	case c == ServiceUnavailable, c == JudgeUnavailable, c == JudgeQueueFull:
		return http.StatusServiceUnavailable
	case c == Timeout:
		return http.StatusGatewayTimeout
	case c >= 10300 && c < 10400: // Validation errors
		return http.StatusBadRequest
	case c == InvalidParams, c == CodeTooLarge, c == LanguageNotSupported, c == ProblemNotInContest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
