package models

import "net/http"

// ErrorCode is the discriminated outcome of a verification or scan.
type ErrorCode string

const (
	CodeInvalidInput        ErrorCode = "INVALID_INPUT"
	CodeDecryptionFailed    ErrorCode = "DECRYPTION_FAILED"
	CodeChecksumMismatch    ErrorCode = "CHECKSUM_MISMATCH"
	CodeExpired             ErrorCode = "EXPIRED"
	CodeTicketNotFound      ErrorCode = "TICKET_NOT_FOUND"
	CodeWristbandNotFound   ErrorCode = "WRISTBAND_NOT_FOUND"
	CodeStatusInvalid       ErrorCode = "STATUS_INVALID"
	CodeAlreadyUsed         ErrorCode = "ALREADY_USED"
	CodeScanLimitReached    ErrorCode = "SCAN_LIMIT_REACHED"
	CodeOutOfValidityWindow ErrorCode = "OUT_OF_VALIDITY_WINDOW"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

var codeMessages = map[ErrorCode]string{
	CodeInvalidInput:        "This code could not be read. Ask the guest to show it again.",
	CodeDecryptionFailed:    "This code is not a valid admission code for this system.",
	CodeChecksumMismatch:    "This code has been altered and cannot be accepted.",
	CodeExpired:             "This code has expired.",
	CodeTicketNotFound:      "No ticket matches this code for your event.",
	CodeWristbandNotFound:   "No wristband matches this code for your event.",
	CodeStatusInvalid:       "This ticket is not active (cancelled, refunded, expired or unpaid).",
	CodeAlreadyUsed:         "This ticket has already been used for entry.",
	CodeScanLimitReached:    "This wristband has no scans left.",
	CodeOutOfValidityWindow: "This wristband is not valid at this time.",
	CodeInternalError:       "Verification is temporarily unavailable. Please scan again.",
}

// Message is the text shown on the scanning surface.
func (c ErrorCode) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return string(c)
}

func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeInvalidInput, CodeDecryptionFailed:
		return http.StatusBadRequest
	case CodeChecksumMismatch:
		return http.StatusUnprocessableEntity
	case CodeExpired:
		return http.StatusGone
	case CodeTicketNotFound, CodeWristbandNotFound:
		return http.StatusNotFound
	case CodeStatusInvalid, CodeAlreadyUsed, CodeScanLimitReached, CodeOutOfValidityWindow:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Retryable separates infrastructure failures from business outcomes.
func (c ErrorCode) Retryable() bool {
	return c == CodeInternalError
}

type VerificationResult struct {
	Valid  bool            `json:"valid"`
	Ticket *TicketSnapshot `json:"ticket,omitempty"`
	Code   ErrorCode       `json:"errorCode,omitempty"`
}

type ScanResult struct {
	Valid     bool               `json:"valid"`
	Wristband *WristbandSnapshot `json:"wristband,omitempty"`
	Code      ErrorCode          `json:"errorCode,omitempty"`
}

// VerifyRequest is the scanner request body for both tickets and wristbands.
type VerifyRequest struct {
	EncryptedCode string `json:"encryptedCode"`
	ScopeID       string `json:"scopeId"`
	CheckIn       bool   `json:"checkIn"`
	Location      string `json:"location,omitempty"`
	Device        string `json:"device,omitempty"`
}

type VerifyResponse struct {
	Success   bool        `json:"success"`
	ErrorCode ErrorCode   `json:"errorCode,omitempty"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
	Snapshot  interface{} `json:"snapshot,omitempty"`
}

// NewVerifyResponse builds the scanner response and its HTTP status. An
// empty code is success.
func NewVerifyResponse(code ErrorCode, snapshot interface{}) (int, VerifyResponse) {
	if code == "" {
		return http.StatusOK, VerifyResponse{Success: true, Message: "Code accepted.", Snapshot: snapshot}
	}
	return code.HTTPStatus(), VerifyResponse{
		Success:   false,
		ErrorCode: code,
		Message:   code.Message(),
		Retryable: code.Retryable(),
		Snapshot:  snapshot,
	}
}
