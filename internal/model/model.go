package model

import (
	"strings"
	"time"
)

type Server struct {
	ID        string `json:"server_id"`
	Tenant    string `json:"company"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
	OSType    string `json:"os_type"`
	DBType    string `json:"db_type,omitempty"`
	Active    bool   `json:"is_active"`
}

// Severity is ordered: HIGH > MEDIUM > LOW.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityHigh, SeverityMedium, SeverityLow}

// Weight is the scoring weight of the severity. Unrecognised severities weigh
// the same as LOW.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// ParseSeverity accepts the catalog's English and Korean tokens.
func ParseSeverity(raw string) Severity {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "HIGH", "H", "상":
		return SeverityHigh
	case "MEDIUM", "MID", "M", "중":
		return SeverityMedium
	case "LOW", "L", "하":
		return SeverityLow
	}
	return Severity(strings.TrimSpace(raw))
}

type ComplianceItem struct {
	Code     string   `json:"item_code"`
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Severity Severity `json:"severity"`
	AutoFix  bool     `json:"auto_fix"`
}

// Status is the canonical two-state outcome of a check, plus UNKNOWN for
// producer tokens that the vocabulary does not map.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusNoncompliant Status = "NONCOMPLIANT"
	StatusUnknown      Status = "UNKNOWN"
)

func (s Status) Known() bool {
	return s == StatusCompliant || s == StatusNoncompliant
}

type Exemption struct {
	ID        int64     `json:"exemption_id"`
	ServerID  string    `json:"server_id"`
	ItemCode  string    `json:"item_code"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ActiveAt reports whether the exemption overlays its pair at now.
func (e Exemption) ActiveAt(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Pair identifies a (server, item) combination.
type Pair struct {
	ServerID string
	ItemCode string
}
