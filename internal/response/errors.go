package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"
	ErrTokenExpired  ErrCode = "TOKEN_EXPIRED"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrUnknownAction  ErrCode = "UNKNOWN_ACTION"

	// ─── Exam-specific ─────────────────────────────────────────────────
	ErrExamNotFound      ErrCode = "EXAM_NOT_FOUND"
	ErrExamNotAvailable  ErrCode = "EXAM_NOT_AVAILABLE"
	ErrInvalidEntryToken ErrCode = "INVALID_ENTRY_TOKEN"
	ErrNoQuestions       ErrCode = "NO_QUESTIONS"

	// ─── Session ───────────────────────────────────────────────────────
	ErrSessionNotFound  ErrCode = "SESSION_NOT_FOUND"
	ErrSessionClosed    ErrCode = "SESSION_CLOSED"
	ErrInvalidAnswer    ErrCode = "INVALID_ANSWER"
	ErrUnknownQuestion  ErrCode = "UNKNOWN_QUESTION"
	ErrIndexOutOfRange  ErrCode = "INDEX_OUT_OF_RANGE"
	ErrAlreadySubmitted ErrCode = "ALREADY_SUBMITTED"
	ErrSubmitInFlight   ErrCode = "SUBMIT_IN_PROGRESS"
	ErrSubmissionFailed ErrCode = "SUBMISSION_FAILED"
	ErrConfirmRequired  ErrCode = "CONFIRM_REQUIRED"
	ErrServiceShutdown  ErrCode = "SERVICE_SHUTTING_DOWN"

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
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."
	case ErrTokenExpired:
		return "Token autentikasi telah kedaluwarsa."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrUnknownAction:
		return "Aksi tidak dikenal."

	// ─── Exam-specific ─────────────────────────────────────────────────
	case ErrExamNotFound:
		return "Ujian tidak ditemukan."
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrInvalidEntryToken:
		return "Token masuk ujian tidak valid."
	case ErrNoQuestions:
		return "Ujian ini tidak memiliki pertanyaan."

	// ─── Session ───────────────────────────────────────────────────────
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan. Silakan mulai ujian terlebih dahulu."
	case ErrSessionClosed:
		return "Sesi ujian sudah ditutup. Jawaban tidak dapat diubah."
	case ErrInvalidAnswer:
		return "Jawaban tidak sesuai dengan jenis soal."
	case ErrUnknownQuestion:
		return "Soal tidak ditemukan pada ujian ini."
	case ErrIndexOutOfRange:
		return "Nomor soal di luar jangkauan."
	case ErrAlreadySubmitted:
		return "Ujian ini sudah dikumpulkan."
	case ErrSubmitInFlight:
		return "Pengumpulan ujian sedang diproses."
	case ErrSubmissionFailed:
		return "Gagal mengumpulkan ujian. Jawaban Anda tetap tersimpan, silakan coba lagi."
	case ErrConfirmRequired:
		return "Konfirmasi pengumpulan diperlukan."
	case ErrServiceShutdown:
		return "Server sedang dimulai ulang. Silakan sambungkan kembali sebentar lagi."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}

// IsRetryable reports whether a request failing with code may succeed if
// repeated unchanged.
func IsRetryable(code ErrCode) bool {
	switch code {
	case ErrSubmissionFailed, ErrSubmitInFlight, ErrServiceShutdown, ErrRateLimitExceeded:
		return true
	}
	return false
}
