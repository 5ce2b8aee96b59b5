package tools

import "encoding/json"

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`           // content sent to the LLM
	ForUser string `json:"for_user,omitempty"` // content shown to the user
	IsError bool   `json:"is_error"`

	// Blocked marks a security-pattern rejection; the chat layer bumps
	// the session violation counter on these.
	Blocked bool `json:"-"`
	// ApprovalID is set when a dangerous command was parked for
	// operator approval instead of running.
	ApprovalID string `json:"-"`
	// FilePath is set by send_file for the chat layer to deliver.
	FilePath string `json:"-"`
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func BlockedResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true, Blocked: true}
}

// Payload renders the wire shape fed back to the model.
func (r *Result) Payload() string {
	type wire struct {
		Success bool   `json:"success"`
		Output  string `json:"output,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	w := wire{Success: !r.IsError}
	if r.IsError {
		w.Error = r.ForLLM
	} else {
		w.Output = r.ForLLM
	}
	data, err := json.Marshal(w)
	if err != nil {
		return `{"success": false, "error": "internal encoding error"}`
	}
	return string(data)
}
