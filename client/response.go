package client

import (
	"bytes"
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/go-authgate/meetgate/apierr"
)

const maxErrorMessage = 512

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) isJSON() bool {
	mediaType, _, err := mime.ParseMediaType(r.header.Get(headerContentType))
	if err != nil {
		return false
	}
	return mediaType == contentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

func (r *response) empty() bool {
	return len(bytes.TrimSpace(r.body)) == 0
}

// parse returns the decoded JSON value for structured responses and the raw
// text otherwise. An empty JSON body decodes to nil.
func (r *response) parse(op string) (any, error) {
	if !r.isJSON() {
		return string(r.body), nil
	}
	if r.empty() {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(r.body, &v); err != nil {
		e := apierr.New(apierr.CodeMalformedResponse, op, err)
		e.Status = r.status
		return nil, e
	}
	return v, nil
}

// decode unmarshals the body into dst regardless of the declared content
// type, since dst already states what the caller expects.
func (r *response) decode(op string, dst any) error {
	if dst == nil || r.empty() {
		return nil
	}
	if err := json.Unmarshal(r.body, dst); err != nil {
		e := apierr.New(apierr.CodeMalformedResponse, op, err)
		e.Status = r.status
		return e
	}
	return nil
}

// ErrorResponse covers the error shapes returned by the meet API and its
// identity endpoints.
type ErrorResponse struct {
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Detail           string `json:"detail"`
}

// rejection builds the UpstreamRejected error for a non-success response.
// The message comes from the JSON body, then the raw text, then the
// standard status phrase.
func (r *response) rejection(op string) *apierr.Error {
	return apierr.Rejected(op, r.status, r.message())
}

func (r *response) message() string {
	if !r.empty() {
		var errResp ErrorResponse
		if err := json.Unmarshal(r.body, &errResp); err == nil {
			switch {
			case errResp.Message != "":
				return errResp.Message
			case errResp.ErrorDescription != "" && errResp.Error != "":
				return errResp.Error + ": " + errResp.ErrorDescription
			case errResp.ErrorDescription != "":
				return errResp.ErrorDescription
			case errResp.Error != "":
				return errResp.Error
			case errResp.Detail != "":
				return errResp.Detail
			}
		} else if !r.isJSON() {
			text := strings.TrimSpace(string(r.body))
			if len(text) > maxErrorMessage {
				text = text[:maxErrorMessage] + "..."
			}
			return text
		}
	}
	return http.StatusText(r.status)
}
