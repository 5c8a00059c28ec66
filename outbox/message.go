package outbox

import "database/sql"

// Record is one publish attempt held in the ledger.
//
// A record with a NULL ConfirmedAt is still owed to the broker. Attempts that
// were superseded by a republish carry ConfirmedAt = 0 and MessageId = 0, and
// the new attempt references the old broker id through PreviousMessageId.
type Record struct {
	Id                uint
	LogicalTime       int64
	MessageId         int
	PreviousMessageId int
	Qos               byte
	Topic             string
	Payload           []byte
	ProcessedAt       int64
	ConfirmedAt       sql.NullInt64
}

func (r *Record) Confirmed() bool {
	return r.ConfirmedAt.Valid
}

func (r *Record) FirstAttempt() bool {
	return r.PreviousMessageId == 0
}
