package capacity

import (
	"github.com/tcriess/adda/types"
)

const (
	// PreviewCount is the number of approved members shown on a hangout card.
	PreviewCount = 3

	// HighCapacityRatio marks a hangout as nearly full.
	HighCapacityRatio = 0.8
)

// Summary is the membership state of one hangout as seen by one viewer.
type Summary struct {
	ApprovedCount int                     `json:"approved_count"`
	PendingCount  int                     `json:"pending_count"`
	IsFull        bool                    `json:"is_full"`
	SpotsLeft     int                     `json:"spots_left"`
	MyStatus      types.ParticipantStatus `json:"my_status,omitempty"` // empty: the viewer has no record and may request
	FillRatio     float64                 `json:"fill_ratio"`
	HighCapacity  bool                    `json:"high_capacity"`
	Previews      []*types.Participant    `json:"previews"`
}

// Summarize derives the membership state from the participant records of one hangout. Pending requests never
// count against the capacity.
func Summarize(maxParticipants int, participants []*types.Participant, viewerId string) Summary {
	s := Summary{Previews: make([]*types.Participant, 0, PreviewCount)}
	for _, participant := range participants {
		if participant == nil {
			continue
		}
		if viewerId != "" && participant.UserId == viewerId {
			s.MyStatus = participant.Status
		}
		switch participant.Status {
		case types.ParticipantApproved:
			s.ApprovedCount++
			if len(s.Previews) < PreviewCount {
				s.Previews = append(s.Previews, participant)
			}
		case types.ParticipantPending:
			s.PendingCount++
		}
	}
	s.IsFull = s.ApprovedCount >= maxParticipants
	s.SpotsLeft = maxParticipants - s.ApprovedCount
	if s.SpotsLeft < 0 {
		s.SpotsLeft = 0
	}
	if maxParticipants > 0 {
		s.FillRatio = float64(s.ApprovedCount) / float64(maxParticipants)
	}
	s.HighCapacity = s.FillRatio >= HighCapacityRatio
	return s
}

// CanRequest reports whether the viewer may send a join request. A full hangout still accepts requests; the host
// decides once a spot frees up.
func (s Summary) CanRequest() bool {
	return s.MyStatus == ""
}

// IsMember reports whether the viewer is an approved participant.
func (s Summary) IsMember() bool {
	return s.MyStatus == types.ParticipantApproved
}
