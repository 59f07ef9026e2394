package output

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	bridgeerr "github.com/mrz1836/mwcbridge/pkg/errors"
)

// ErrorOutput is the JSON document written for a failed command.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes one failure.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Cause      string            `json:"cause,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// Describe converts err to its structured form. Errors without a kind are
// reported as GENERAL_ERROR.
func Describe(err error) ErrorDetail {
	var be *bridgeerr.BridgeError
	if !errors.As(err, &be) {
		return ErrorDetail{
			Code:     bridgeerr.ErrGeneral.Code,
			Message:  err.Error(),
			ExitCode: bridgeerr.ExitGeneral,
		}
	}
	d := ErrorDetail{
		Code:       be.Code,
		Message:    be.Message,
		Details:    be.Details,
		Suggestion: be.Suggestion,
		ExitCode:   be.ExitCode,
	}
	if be.Cause != nil {
		d.Cause = be.Cause.Error()
	}
	return d
}

// FormatError writes err to w in the given format.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}
	d := Describe(err)
	if format == FormatJSON {
		return writeJSON(w, ErrorOutput{Error: d})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error [%s]: %s\n", d.Code, d.Message)
	if d.Cause != "" {
		fmt.Fprintf(&sb, "  cause: %s\n", d.Cause)
	}
	if len(d.Details) > 0 {
		keys := make([]string, 0, len(d.Details))
		for k := range d.Details {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, d.Details[k])
		}
	}
	if d.Suggestion != "" {
		fmt.Fprintf(&sb, "\nSuggestion: %s\n", d.Suggestion)
	}
	_, err = io.WriteString(w, sb.String())
	return err
}
