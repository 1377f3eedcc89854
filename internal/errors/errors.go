// Package errors provides standardized error codes for the clawline client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (identity, rpc, conn, chat, storage)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by callers for programmatic error
// handling, most importantly to tell a retryable transport failure apart from
// a pairing-required condition that needs operator action on the gateway.
// Human-readable messages are provided alongside codes.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes by domain.
// These are stable identifiers that callers can rely on for error handling.
const (
	// Identity domain - device keypair and signing errors
	CodeIdentityGenerateFailed = "identity.generate_failed" // Keypair generation failed
	CodeIdentityInvalidKey     = "identity.invalid_key"     // Stored key material is malformed
	CodeIdentitySignFailed     = "identity.sign_failed"     // Signing the auth payload failed

	// RPC domain - request/response correlation errors
	CodeRPCNotConnected = "rpc.not_connected" // Transport is not open
	CodeRPCTimeout      = "rpc.timeout"       // No response within the deadline
	CodeRPCFailed       = "rpc.failed"        // Gateway rejected the request

	// Connection domain - transport and handshake errors
	CodeConnClosed          = "conn.closed"           // Connection closed or restarting
	CodeConnDialFailed      = "conn.dial_failed"      // Could not open the transport
	CodeConnHandshakeFailed = "conn.handshake_failed" // Connect negotiation failed
	CodeConnInvalidURL      = "conn.invalid_url"      // Gateway URL could not be parsed
	CodeConnStopped         = "conn.stopped"          // Client was explicitly stopped

	// Pairing domain - device approval flow
	CodePairingRequired = "pairing.required" // Gateway wants this device approved first

	// Chat domain - message send and streaming errors
	CodeChatSendFailed = "chat.send_failed" // chat.send was rejected
	CodeChatRunFailed  = "chat.run_failed"  // A streaming run ended in error

	// Storage domain - local state persistence errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data

	// Config domain - configuration loading errors
	CodeConfigInvalid = "config.invalid" // Config file missing or unparseable

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal client error
)

// Gateway-issued error codes with special meaning on connect.
// These arrive in the error block of a failed connect response and are
// matched case-sensitively; a message containing "pairing required" is
// treated the same way for gateways that omit the code.
const (
	GatewayCodePairingRequired        = "PAIRING_REQUIRED"
	GatewayCodeDeviceIdentityRequired = "DEVICE_IDENTITY_REQUIRED"
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "rpc.timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// IsPairingRequired reports whether an error from the gateway indicates the
// device must be approved before connecting. It matches both the local
// pairing.required code and the gateway's own connect-error vocabulary,
// including the message fallback for older gateways.
func IsPairingRequired(err error) bool {
	if err == nil {
		return false
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case CodePairingRequired, GatewayCodePairingRequired, GatewayCodeDeviceIdentityRequired:
			return true
		}
		return strings.Contains(strings.ToLower(coded.Message), "pairing required")
	}

	return strings.Contains(strings.ToLower(err.Error()), "pairing required")
}

// Common error constructors for frequently used error types.

// NotConnected creates an "rpc.not_connected" error.
func NotConnected() *CodedError {
	return New(CodeRPCNotConnected, "not connected to gateway")
}

// Timeout creates an "rpc.timeout" error naming the method and duration.
func Timeout(method string, ms int64) *CodedError {
	return New(CodeRPCTimeout, fmt.Sprintf("%s timed out after %dms", method, ms))
}

// ConnClosed creates a "conn.closed" error. Pending RPCs are flushed with
// this error whenever the transport goes away or the client restarts.
func ConnClosed() *CodedError {
	return New(CodeConnClosed, "connection closed")
}

// PairingRequired creates a "pairing.required" error.
func PairingRequired() *CodedError {
	return New(CodePairingRequired, "device pairing required - approve this device on the gateway")
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}
