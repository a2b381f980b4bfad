// Package handlers defines the HTTP error codes returned in the error
// envelope. Codes are lowercase snake_case and stable; clients and alerting
// branch on them rather than on messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_signature",
//	  "message": "webhook signature verification failed"
//	}
package handlers

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeUnauthorized     = "unauthorized"
	ErrCodeNotFound         = "not_found"
	ErrCodeMethodNotAllowed = "method_not_allowed"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"

	// Webhook:
	ErrCodeInvalidSignature = "invalid_signature"
	ErrCodeMalformedPayload = "malformed_payload"
	ErrCodeSyncFailed       = "sync_failed"

	// Debug surface:
	ErrCodeListFailed = "list_failed"
)
