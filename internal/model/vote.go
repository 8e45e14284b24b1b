package model

// VoteCount is the tally for one option
type VoteCount struct {
	Option string `json:"option"`
	Value  int    `json:"value"`
}

// PersonVote is one voter's choice
type PersonVote struct {
	Option    string `json:"option"`
	VoterName string `json:"voter_name"`
}

// VoteEvent is a recorded vote, usually on a bill
type VoteEvent struct {
	Base
	SourceList
	ScrapeMetadata

	Identifier           string       `json:"identifier,omitempty"`
	MotionText           string       `json:"motion_text"`
	MotionClassification []string     `json:"motion_classification,omitempty"`
	StartDate            Date         `json:"start_date,omitzero"`
	Result               string       `json:"result"`
	Organization         string       `json:"organization,omitempty"`
	LegislativeSession   string       `json:"legislative_session"`
	BillIdentifier       string       `json:"bill_identifier,omitempty"`
	Counts               []VoteCount  `json:"counts,omitempty"`
	Votes                []PersonVote `json:"votes,omitempty"`
}

// NewVoteEvent creates a vote event with a fresh identifier
func NewVoteEvent(session, motion, result string) *VoteEvent {
	return &VoteEvent{
		Base:               newBase(),
		LegislativeSession: session,
		MotionText:         motion,
		Result:             result,
	}
}

func (v *VoteEvent) Kind() Kind      { return KindVoteEvent }
func (v *VoteEvent) Schema() *Schema { return SchemaFor(KindVoteEvent) }
func (v *VoteEvent) Session() string { return v.LegislativeSession }

// NaturalID is the bill the vote belongs to
func (v *VoteEvent) NaturalID() string { return v.BillIdentifier }

// PreSave stamps the vote with scrape metadata
func (v *VoteEvent) PreSave(j *Jurisdiction) {
	v.AddScrapeMetadata(j)
}

func (v *VoteEvent) String() string {
	return v.LegislativeSession + " " + v.BillIdentifier + " " + v.MotionText
}

// SetCount sets the tally for option, replacing any previous value
func (v *VoteEvent) SetCount(option string, value int) {
	for i := range v.Counts {
		if v.Counts[i].Option == option {
			v.Counts[i].Value = value
			return
		}
	}
	v.Counts = append(v.Counts, VoteCount{Option: option, Value: value})
}

// Vote records one voter's choice
func (v *VoteEvent) Vote(option, voter string) {
	v.Votes = append(v.Votes, PersonVote{Option: option, VoterName: voter})
}

// Yes records a yes vote
func (v *VoteEvent) Yes(voter string) { v.Vote("yes", voter) }

// No records a no vote
func (v *VoteEvent) No(voter string) { v.Vote("no", voter) }
