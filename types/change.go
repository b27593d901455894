package types

import "time"

const (
	TableHangouts      = "hangouts"
	TableParticipants  = "participants"
	TableMessages      = "messages"
	TableNotifications = "notifications"
	TableProfiles      = "profiles"
	TableReports       = "reports"
)

type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent describes one committed row mutation. Record holds the JSON form of the row after the change (the
// last known row for deletes).
type ChangeEvent struct {
	Id       string                 `json:"id"`
	Table    string                 `json:"table"`
	Kind     ChangeKind             `json:"kind"`
	RecordId string                 `json:"record_id"`
	Record   map[string]interface{} `json:"record"`
	Created  time.Time              `json:"created"`
}
