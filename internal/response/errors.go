package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrTeacherAccessOnly ErrCode = "TEACHER_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation        ErrCode = "VALIDATION_ERROR"
	ErrInvalidID         ErrCode = "INVALID_ID"
	ErrInvalidPayload    ErrCode = "INVALID_PAYLOAD"
	ErrInvalidDefinition ErrCode = "INVALID_TEST_DEFINITION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Test session ──────────────────────────────────────────────────
	ErrTestNotFound      ErrCode = "TEST_NOT_FOUND"
	ErrTestLinkTaken     ErrCode = "TEST_LINK_TAKEN"
	ErrSessionNotFound   ErrCode = "SESSION_NOT_FOUND"
	ErrSessionNotActive  ErrCode = "SESSION_NOT_ACTIVE"
	ErrAlreadySubmitted  ErrCode = "ALREADY_SUBMITTED"
	ErrUnknownQuestion   ErrCode = "UNKNOWN_QUESTION"
	ErrAnswerKindInvalid ErrCode = "ANSWER_KIND_MISMATCH"
	ErrInvalidOption     ErrCode = "INVALID_OPTION"
	ErrNotLastQuestion   ErrCode = "NOT_LAST_QUESTION"
	ErrCodeNeedsSubmit   ErrCode = "CODE_NEEDS_SUBMIT"

	// ─── Code execution ────────────────────────────────────────────────
	ErrUnsupportedLanguage ErrCode = "UNSUPPORTED_LANGUAGE"
	ErrNotCodingQuestion   ErrCode = "NOT_CODING_QUESTION"
	ErrJudgeUnavailable    ErrCode = "JUDGE_UNAVAILABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrStudentAccessOnly:
		return "This resource is restricted to students."
	case ErrTeacherAccessOnly:
		return "This resource is restricted to teachers."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrInvalidDefinition:
		return "The test definition is invalid."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Test session ──────────────────────────────────────────────────
	case ErrTestNotFound:
		return "Test not found."
	case ErrTestLinkTaken:
		return "A test with this link already exists."
	case ErrSessionNotFound:
		return "No session for this test. Start the test first."
	case ErrSessionNotActive:
		return "The test session is not active."
	case ErrAlreadySubmitted:
		return "This test has already been submitted."
	case ErrUnknownQuestion:
		return "The question does not belong to this test."
	case ErrAnswerKindInvalid:
		return "The answer does not match the question type."
	case ErrInvalidOption:
		return "The selected option does not exist."
	case ErrNotLastQuestion:
		return "Submit is only available on the last question."
	case ErrCodeNeedsSubmit:
		return "Coding answers are saved by submitting the code."

	// ─── Code execution ────────────────────────────────────────────────
	case ErrUnsupportedLanguage:
		return "The selected language is not supported."
	case ErrNotCodingQuestion:
		return "Code can only be run for coding questions."
	case ErrJudgeUnavailable:
		return "Failed to execute code. Please try again."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "An internal server error occurred."
	default:
		return "An unexpected error occurred."
	}
}
