package model

import "time"

// ScanFact is the current observation for one (server, item) pair.
type ScanFact struct {
	ServerID   string    `json:"server_id"`
	ItemCode   string    `json:"item_code"`
	Status     Status    `json:"status"`
	RawStatus  string    `json:"raw_status,omitempty"`
	Evidence   string    `json:"raw_evidence"`
	ObservedAt time.Time `json:"scan_date"`
}

func (f ScanFact) Pair() Pair { return Pair{ServerID: f.ServerID, ItemCode: f.ItemCode} }

// RemediationFact is one attempted automated fix; rows are append-only.
type RemediationFact struct {
	ID            int64     `json:"log_id,omitempty"`
	ServerID      string    `json:"server_id"`
	ItemCode      string    `json:"item_code"`
	ActionAt      time.Time `json:"action_date"`
	Success       bool      `json:"is_success"`
	FailureReason string    `json:"failure_reason,omitempty"`
	Evidence      string    `json:"raw_evidence"`
}

func (f RemediationFact) Pair() Pair { return Pair{ServerID: f.ServerID, ItemCode: f.ItemCode} }
