package tui

import (
	"time"
)

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{ Title string }

// MsgTokensFound signals that a stored token record was found.
type MsgTokensFound struct {
	Location  string
	ExpiresIn time.Duration
}

// MsgTokensNotFound signals that the store holds no usable record.
type MsgTokensNotFound struct{ Location string }

// MsgIssuing signals that credentials are being exchanged for tokens.
type MsgIssuing struct{}

// MsgIssueOK signals that a new token pair was issued.
type MsgIssueOK struct{}

// MsgTokenSaved signals that the record was persisted.
type MsgTokenSaved struct{ Location string }

// MsgTokenCleared signals that the stored record was removed.
type MsgTokenCleared struct{ Location string }

// MsgRequesting signals that a call to the meet API has started.
type MsgRequesting struct {
	Method   string
	Endpoint string
}

// MsgAccessTokenRejected signals that the access token was rejected (401).
type MsgAccessTokenRejected struct{ Endpoint string }

// MsgTokenRefreshedRetrying signals that the token was refreshed and the call is being retried.
type MsgTokenRefreshedRetrying struct{}

// MsgRefreshFailed signals that the refresh failed and the stored token was discarded.
type MsgRefreshFailed struct{ Err error }

// MsgRequestOK signals that the call succeeded.
type MsgRequestOK struct{ Endpoint string }

// MsgRequestFailed signals that the call failed.
type MsgRequestFailed struct{ Err error }

// MsgTokenInfo carries the stored token summary. Preview is truncated.
type MsgTokenInfo struct {
	Preview   string
	ExpiresIn time.Duration
}

// MsgDone signals successful completion of the command.
type MsgDone struct{ Summary string }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
