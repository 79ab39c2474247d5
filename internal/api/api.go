// internal/api/api.go
//
// Structured API result.
//
// Context
// -------
// Handlers that answer with data instead of a page return a *Result.  The
// wire shape is fixed: {code, message, result, time}, where code 1 means
// success and 0 means failure, and time is formatted as a local
// "2006-01-02 15:04:05" string.  This exact shape is the contract every
// API client consumes, so it never changes with the transport.
package api

import (
	"encoding/json"
	"time"
)

const (
	CodeSuccess = 1
	CodeFail    = 0
)

// Timestamp marshals as a local "2006-01-02 15:04:05" string.
type Timestamp time.Time

const timeLayout = "2006-01-02 15:04:05"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(t).Format(timeLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	parsed, err := time.ParseInLocation(`"`+timeLayout+`"`, string(b), time.Local)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// Result is the envelope for data-returning handlers.
type Result struct {
	Code    int       `json:"code"`
	Message string    `json:"message"`
	Result  any       `json:"result"`
	Time    Timestamp `json:"time"`
}

func newResult(code int, message string, result any) *Result {
	return &Result{Code: code, Message: message, Result: result, Time: Timestamp(time.Now())}
}

// Success returns a bare success envelope.
func Success() *Result { return newResult(CodeSuccess, "success", nil) }

// SuccessMsg returns a success envelope carrying only a message.
func SuccessMsg(message string) *Result { return newResult(CodeSuccess, message, "") }

// SuccessWith wraps a payload in a success envelope.
func SuccessWith(result any) *Result { return newResult(CodeSuccess, "success", result) }

// SuccessWithMsg wraps a payload and a message in a success envelope.
func SuccessWithMsg(result any, message string) *Result {
	return newResult(CodeSuccess, message, result)
}

// Fail returns a failure envelope carrying a message.
func Fail(message string) *Result { return newResult(CodeFail, message, nil) }

// FailWith returns a failure envelope carrying a message and a payload,
// typically the name of the field that failed validation.
func FailWith(message string, result any) *Result {
	return newResult(CodeFail, message, result)
}

// JSON renders the envelope for the wire.
func (r *Result) JSON() (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
