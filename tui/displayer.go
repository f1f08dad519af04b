package tui

import (
	"fmt"
	"io"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/go-authgate/meetgate/client"
)

// Displayer abstracts all progress output of a CLI command. It also
// receives the executor's authentication events.
type Displayer interface {
	client.Observer

	Banner(title string)
	TokensFound(location string, expiresIn time.Duration)
	TokensNotFound(location string)
	Issuing()
	IssueOK()
	TokenSaved(location string)
	TokenCleared(location string)
	Requesting(method, endpoint string)
	RequestOK(endpoint string)
	RequestFailed(err error)
	TokenInfo(preview string, expiresIn time.Duration)
	Done(summary string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stderr is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner(title string) {
	fmt.Fprintf(p.w, "=== %s ===\n", title)
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) TokensFound(location string, expiresIn time.Duration) {
	if expiresIn > 0 {
		fmt.Fprintf(p.w, "Found stored token in %s (expires in %s)\n", location, formatDuration(expiresIn))
		return
	}
	fmt.Fprintf(p.w, "Found stored token in %s (expired)\n", location)
}

func (p *PlainDisplayer) TokensNotFound(location string) {
	fmt.Fprintf(p.w, "No stored token in %s\n", location)
}

func (p *PlainDisplayer) Issuing() {
	fmt.Fprintln(p.w, "Requesting a new token...")
}

func (p *PlainDisplayer) IssueOK() {
	fmt.Fprintln(p.w, "Token issued successfully!")
}

func (p *PlainDisplayer) TokenSaved(location string) {
	fmt.Fprintf(p.w, "Token saved to %s\n", location)
}

func (p *PlainDisplayer) TokenCleared(location string) {
	fmt.Fprintf(p.w, "Token removed from %s\n", location)
}

func (p *PlainDisplayer) Requesting(method, endpoint string) {
	fmt.Fprintf(p.w, "%s %s\n", method, endpoint)
}

func (p *PlainDisplayer) AccessTokenRejected(endpoint string) {
	fmt.Fprintf(p.w, "Access token rejected by %s (401), refreshing...\n", endpoint)
}

func (p *PlainDisplayer) TokenRefreshed() {
	fmt.Fprintln(p.w, "Token refreshed, retrying request...")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
	fmt.Fprintln(p.w, "Stored token discarded, run `meetgate login` again.")
}

func (p *PlainDisplayer) RequestOK(endpoint string) {
	fmt.Fprintf(p.w, "Request to %s succeeded\n", endpoint)
}

func (p *PlainDisplayer) RequestFailed(err error) {
	fmt.Fprintf(p.w, "Request failed: %v\n", err)
}

func (p *PlainDisplayer) TokenInfo(preview string, expiresIn time.Duration) {
	fmt.Fprintln(p.w, "\n========================================")
	fmt.Fprintln(p.w, "Current Token Info:")
	fmt.Fprintf(p.w, "Access Token: %s...\n", preview)
	fmt.Fprintf(p.w, "Expires In: %s\n", formatDuration(expiresIn))
	fmt.Fprintln(p.w, "========================================")
}

func (p *PlainDisplayer) Done(summary string) {
	if summary != "" {
		fmt.Fprintln(p.w, summary)
	}
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests and with --quiet.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner(string)                     {}
func (NoopDisplayer) TokensFound(string, time.Duration) {}
func (NoopDisplayer) TokensNotFound(string)             {}
func (NoopDisplayer) Issuing()                          {}
func (NoopDisplayer) IssueOK()                          {}
func (NoopDisplayer) TokenSaved(string)                 {}
func (NoopDisplayer) TokenCleared(string)               {}
func (NoopDisplayer) Requesting(string, string)         {}
func (NoopDisplayer) AccessTokenRejected(string)        {}
func (NoopDisplayer) TokenRefreshed()                   {}
func (NoopDisplayer) RefreshFailed(error)               {}
func (NoopDisplayer) RequestOK(string)                  {}
func (NoopDisplayer) RequestFailed(error)               {}
func (NoopDisplayer) TokenInfo(string, time.Duration)   {}
func (NoopDisplayer) Done(string)                       {}
func (NoopDisplayer) Fatal(error)                       {}

// sender is the part of *tea.Program the displayer needs.
type sender interface {
	Send(msg tea.Msg)
}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p sender
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner(title string) {
	t.p.Send(MsgBanner{Title: title})
}

func (t *ProgramDisplayer) TokensFound(location string, expiresIn time.Duration) {
	t.p.Send(MsgTokensFound{Location: location, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) TokensNotFound(location string) {
	t.p.Send(MsgTokensNotFound{Location: location})
}

func (t *ProgramDisplayer) Issuing() {
	t.p.Send(MsgIssuing{})
}

func (t *ProgramDisplayer) IssueOK() {
	t.p.Send(MsgIssueOK{})
}

func (t *ProgramDisplayer) TokenSaved(location string) {
	t.p.Send(MsgTokenSaved{Location: location})
}

func (t *ProgramDisplayer) TokenCleared(location string) {
	t.p.Send(MsgTokenCleared{Location: location})
}

func (t *ProgramDisplayer) Requesting(method, endpoint string) {
	t.p.Send(MsgRequesting{Method: method, Endpoint: endpoint})
}

func (t *ProgramDisplayer) AccessTokenRejected(endpoint string) {
	t.p.Send(MsgAccessTokenRejected{Endpoint: endpoint})
}

func (t *ProgramDisplayer) TokenRefreshed() {
	t.p.Send(MsgTokenRefreshedRetrying{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) RequestOK(endpoint string) {
	t.p.Send(MsgRequestOK{Endpoint: endpoint})
}

func (t *ProgramDisplayer) RequestFailed(err error) {
	t.p.Send(MsgRequestFailed{Err: err})
}

func (t *ProgramDisplayer) TokenInfo(preview string, expiresIn time.Duration) {
	t.p.Send(MsgTokenInfo{Preview: preview, ExpiresIn: expiresIn})
}

func (t *ProgramDisplayer) Done(summary string) {
	t.p.Send(MsgDone{Summary: summary})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
