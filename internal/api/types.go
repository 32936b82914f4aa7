package api

import "time"

// StatusResponse is the last completed tick of the desktop agent.
type StatusResponse struct {
	Paired        bool         `json:"paired"`
	PhoneName     string       `json:"phone_name,omitempty"`
	Signal        *Signal      `json:"signal,omitempty"`
	InterfaceName string       `json:"interface_name,omitempty"`
	Session       *LiveSession `json:"session,omitempty"`
	LastTickAt    time.Time    `json:"last_tick_at"`
	LastError     string       `json:"last_error,omitempty"`
	LastReason    string       `json:"last_reason,omitempty"`
}

// Signal is a signal reading as reported by the phone.
type Signal struct {
	Quality     int    `json:"quality"`
	QualityName string `json:"quality_name"`
	Type        string `json:"type"`
}

// LiveSession is the currently open session.
type LiveSession struct {
	ID               string    `json:"id"`
	PhoneName        string    `json:"phone_name"`
	InterfaceName    string    `json:"interface_name"`
	StartedAt        time.Time `json:"started_at"`
	BytesTransferred uint64    `json:"bytes_transferred"`
}

// SessionRecord is one closed session from the history.
type SessionRecord struct {
	ID               string    `json:"id"`
	PhoneName        string    `json:"phone_name"`
	InterfaceName    string    `json:"interface_name"`
	StartedAt        time.Time `json:"started_at"`
	EndedAt          time.Time `json:"ended_at"`
	BytesTransferred uint64    `json:"bytes_transferred"`
}

// SessionsResponse lists closed sessions, oldest first.
type SessionsResponse struct {
	Sessions []SessionRecord `json:"sessions"`
}

// DayUsage is the data transferred on one day.
type DayUsage struct {
	Day      string `json:"day"`
	Sessions int    `json:"sessions"`
	Bytes    uint64 `json:"bytes"`
}

// UsageResponse summarizes data usage in a window.
type UsageResponse struct {
	Window        string     `json:"window"`
	Since         time.Time  `json:"since"`
	Count         int        `json:"count"`
	TotalBytes    uint64     `json:"total_bytes"`
	TotalDuration string     `json:"total_duration"`
	Days          []DayUsage `json:"days"`
}
