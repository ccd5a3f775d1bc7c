// Package core provides the decoding engine for CAN bus traces and signal databases.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
//
// # Format Errors (FMT001-FMT099)
//
//	FMT001 - Unsupported format: No decoder for this file extension
//	         Action: Use .dbc or .sym for databases and .blf, .asc or .trc for traces
//	         Patterns: "unsupported file format"
//
//	FMT002 - Wrong kind: A trace was sent as a database or the other way round
//	         Action: Upload the file to the matching endpoint
//	         Patterns: "is not a database format", "is not a trace format"
//
// # Decode Errors (DEC001-DEC099)
//
//	DEC001 - Bad signature: The file does not start with the expected magic bytes
//	         Patterns: "bad signature"
//
//	DEC002 - Truncated: The file ends inside a structure
//	         Patterns: "truncated input"
//
//	DEC003 - Unsupported structure: Compression or header version not supported
//	         Patterns: "unsupported structure"
//
//	DEC004 - Out of range: A signal reaches past the frame payload
//	         Patterns: "bit field out of range"
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session not found      Patterns: "session not found"
//	SES002 - Session limit reached  Patterns: "session limit reached"
//	SES003 - No database loaded     Patterns: "no database loaded"
//	SES004 - No trace loaded        Patterns: "no trace loaded"
//
// # Signal Errors (SIG001-SIG099)
//
//	SIG001 - Signal not found       Patterns: "signal not found"
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - File too large         Patterns: "file too large"
//	UPL002 - System busy            Patterns: "too many concurrent decodes"
//	UPL003 - No file / empty file   Patterns: "no file provided", "empty file"
//	UPL004 - Request cancelled      Patterns: "context canceled"
//	UPL005 - Request timeout        Patterns: "context deadline exceeded"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests     Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Check the application logs for
// the original technical error.
//
// Patterns are matched case-insensitively using strings.Contains and the
// first matching pattern wins, so specific patterns come before general ones.
package core

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	// =========================================================================
	// Format Errors (FMT001-FMT002)
	// =========================================================================
	{
		pattern: "is not a database format",
		msg: UserMessage{
			Message: "This file is a trace, not a signal database",
			Action:  "Upload it as a trace instead",
			Code:    "FMT002",
		},
	},
	{
		pattern: "is not a trace format",
		msg: UserMessage{
			Message: "This file is a signal database, not a trace",
			Action:  "Upload it as a database instead",
			Code:    "FMT002",
		},
	},
	{
		pattern: "unsupported file format",
		msg: UserMessage{
			Message: "This file type is not supported",
			Action:  "Use .dbc or .sym for databases and .blf, .asc or .trc for traces",
			Code:    "FMT001",
		},
	},

	// =========================================================================
	// Decode Errors (DEC001-DEC004)
	// =========================================================================
	{
		pattern: "bad signature",
		msg: UserMessage{
			Message: "The file is not a valid binary log",
			Action:  "Check that the file was exported by the logging tool and not renamed",
			Code:    "DEC001",
		},
	},
	{
		pattern: "truncated input",
		msg: UserMessage{
			Message: "The file ends unexpectedly",
			Action:  "The file may be incomplete; frames up to the damaged point were kept",
			Code:    "DEC002",
		},
	},
	{
		pattern: "unsupported structure",
		msg: UserMessage{
			Message: "The file uses a structure this decoder does not support",
			Action:  "Re-export the log without compression or with zlib compression",
			Code:    "DEC003",
		},
	},
	{
		pattern: "bit field out of range",
		msg: UserMessage{
			Message: "A signal reaches past the end of its frame",
			Action:  "Check the signal's start bit and length in the database",
			Code:    "DEC004",
		},
	},

	// =========================================================================
	// Session Errors (SES001-SES004)
	// =========================================================================
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "Analysis session not found",
			Action:  "The session may have expired. Please start a new session",
			Code:    "SES001",
		},
	},
	{
		pattern: "session limit reached",
		msg: UserMessage{
			Message: "Too many open sessions",
			Action:  "Close unused sessions and try again",
			Code:    "SES002",
		},
	},
	{
		pattern: "no database loaded",
		msg: UserMessage{
			Message: "No signal database is loaded",
			Action:  "Upload a .dbc or .sym file first",
			Code:    "SES003",
		},
	},
	{
		pattern: "no trace loaded",
		msg: UserMessage{
			Message: "No trace is loaded",
			Action:  "Upload a .blf, .asc or .trc file first",
			Code:    "SES004",
		},
	},

	// =========================================================================
	// Signal Errors (SIG001)
	// =========================================================================
	{
		pattern: "signal not found",
		msg: UserMessage{
			Message: "Signal not found in the loaded database",
			Action:  "Check the signal name against the message list",
			Code:    "SIG001",
		},
	},

	// =========================================================================
	// Upload Errors (UPL001-UPL005)
	// =========================================================================
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Split the trace into smaller files",
			Code:    "UPL001",
		},
	},
	{
		pattern: "too many concurrent decodes",
		msg: UserMessage{
			Message: "System is busy decoding other files",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "UPL003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file is empty",
			Action:  "Please upload a file with content",
			Code:    "UPL003",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Decoding timed out",
			Action:  "Try a smaller file or try again later",
			Code:    "UPL005",
		},
	},

	// =========================================================================
	// Rate Limiting (RATE001)
	// =========================================================================
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())

	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether an error matches a known pattern rather than
// the generic ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError wraps a technical error with its user-friendly message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps a technical error to a UserError. Returns nil for nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
