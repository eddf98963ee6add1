package harness

// Trace event kinds.
const (
	KindAction  = "action"
	KindNotify  = "notify"
	KindPush    = "push"
	KindTap     = "tap"
	KindAdvance = "advance"
	KindApp     = "app"
)

// TraceEvent is one step of a scenario as observed from the sessions.
type TraceEvent struct {
	Seq    int64          `json:"seq"`
	Kind   string         `json:"kind"`
	Actor  string         `json:"actor,omitempty"`
	Action string         `json:"action,omitempty"`
	Args   map[string]any `json:"args,omitempty"`

	// Action outcome.
	State    string `json:"state,omitempty"`
	Affected int    `json:"affected,omitempty"`
	Level    string `json:"level,omitempty"`
	Title    string `json:"title,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`

	// Notification routing.
	Decision string `json:"decision,omitempty"`
	Toasts   int    `json:"toasts,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds one message per failed check. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed check and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends ev to the trace with the next sequence number.
func (r *Result) AddEvent(ev TraceEvent) TraceEvent {
	ev.Seq = int64(len(r.Trace) + 1)
	r.Trace = append(r.Trace, ev)
	return ev
}
