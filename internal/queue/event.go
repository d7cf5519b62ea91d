// Package queue publishes approval outcomes to RabbitMQ and consumes them
// for the audit log.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// ApprovalResolvedEvent is published once per approved or rejected request
type ApprovalResolvedEvent struct {
	RequestID      string    `json:"request_id"`
	Status         string    `json:"status"`
	InvestorID     string    `json:"investor_id"`
	InvestorName   string    `json:"investor_name"`
	ResolvedBy     string    `json:"resolved_by"`
	NotificationID string    `json:"notification_id"`
	Changes        int       `json:"changes"`
	Applied        int       `json:"applied"`
	Failed         int       `json:"failed"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// DecodeApprovalResolved parses and sanity-checks a message body
func DecodeApprovalResolved(body []byte) (ApprovalResolvedEvent, error) {
	var ev ApprovalResolvedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return ev, fmt.Errorf("unmarshal: %w", err)
	}
	if ev.RequestID == "" || ev.Status == "" {
		return ev, fmt.Errorf("event missing request_id or status")
	}
	return ev, nil
}
