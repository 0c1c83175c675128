package output

import (
	"fmt"
	"io"
	"sort"
	"strings"

	bwerr "github.com/mrz1836/balancewatch/pkg/errors"
)

// ErrorOutput represents a structured error for JSON output.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// NewErrorDetail extracts the structured fields of err. Plain errors map to
// the general error code.
func NewErrorDetail(err error) ErrorDetail {
	var be *bwerr.Error
	if bwerr.As(err, &be) {
		msg := be.Message
		if be.Cause != nil {
			msg = fmt.Sprintf("%s: %v", msg, be.Cause)
		}
		return ErrorDetail{
			Code:       be.Code,
			Message:    msg,
			Details:    be.Details,
			Suggestion: be.Suggestion,
			ExitCode:   be.ExitCode,
		}
	}
	return ErrorDetail{
		Code:     bwerr.ErrGeneral.Code,
		Message:  err.Error(),
		ExitCode: bwerr.ExitGeneral,
	}
}

// FormatError formats an error for display.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}

	detail := NewErrorDetail(err)
	if format == FormatJSON {
		return writeJSON(w, ErrorOutput{Error: detail})
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Error: %s\n", detail.Message)
	if len(detail.Details) > 0 {
		keys := make([]string, 0, len(detail.Details))
		for k := range detail.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("\nDetails:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %s\n", k, detail.Details[k])
		}
	}
	if detail.Suggestion != "" {
		fmt.Fprintf(&sb, "\nSuggestion: %s\n", detail.Suggestion)
	}

	_, writeErr := io.WriteString(w, sb.String())
	return writeErr
}

// FormatSuccess formats a success message.
func FormatSuccess(w io.Writer, message string, format Format) error {
	if format == FormatJSON {
		return writeJSON(w, map[string]string{"status": "success", "message": message})
	}
	_, err := fmt.Fprintln(w, message)
	return err
}
