package model

// PushResponse is returned by the collector endpoint when a report is accepted.
type PushResponse struct {
	Accepted   bool   `json:"accepted"`
	Message    string `json:"message"`
	ReportID   string `json:"report_id"`
	ReceivedAt int64  `json:"received_at"`

	// NextPushInSeconds is a hint for periodic reporters; zero means no opinion.
	NextPushInSeconds int `json:"next_push_in_seconds,omitempty"`
}

// PushErrorResponse is returned on rejection (4xx/5xx).
type PushErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
}
