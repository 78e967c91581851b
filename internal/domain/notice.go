package domain

import "time"

type NoticeKind string

const (
	NoticeEventRecorded       NoticeKind = "ledger.event_recorded"
	NoticeEventUpdated        NoticeKind = "ledger.event_updated"
	NoticeEventDeleted        NoticeKind = "ledger.event_deleted"
	NoticeReservationAdjusted NoticeKind = "reservation.adjusted"
	NoticeGoalAdjusted        NoticeKind = "goal.adjusted"
	NoticeCompensationFailed  NoticeKind = "ledger.compensation_failed"
)

// Notice tells downstream consumers that the ledger changed. Delivery is
// best effort.
type Notice struct {
	Kind       NoticeKind        `json:"kind"`
	OwnerID    string            `json:"owner_id,omitempty"`
	SubjectID  string            `json:"subject_id"`
	Amount     Amount            `json:"amount"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}
