package withdrawal

type Event string

const (
	EventAttachFee       Event = "attach_fee"
	EventProofApproved   Event = "proof_approved"
	EventAllFeesVerified Event = "all_fees_verified"
	EventMarkPaid        Event = "mark_paid"
	EventReject          Event = "reject"
)

type rule[S comparable] struct {
	from []S
	to   S
}

func apply[S comparable](table map[Event]rule[S], from S, ev Event) (S, bool) {
	r, ok := table[ev]
	if !ok {
		return from, false
	}
	for _, s := range r.from {
		if s == from {
			return r.to, true
		}
	}
	return from, false
}

var withdrawalTransitions = map[Event]rule[Status]{
	EventAttachFee:       {from: []Status{StatusRequested, StatusFeesRequired, StatusOtpPending, StatusApproved}, to: StatusFeesRequired},
	EventProofApproved:   {from: []Status{StatusFeesRequired, StatusOtpPending}, to: StatusOtpPending},
	EventAllFeesVerified: {from: []Status{StatusRequested, StatusFeesRequired, StatusOtpPending}, to: StatusApproved},
	EventMarkPaid:        {from: []Status{StatusApproved}, to: StatusPaid},
	EventReject:          {from: []Status{StatusRequested, StatusFeesRequired, StatusOtpPending}, to: StatusRejected},
}

const (
	FeeEventSubmitProof   Event = "submit_proof"
	FeeEventProofApproved Event = "proof_approved"
	FeeEventProofRejected Event = "proof_rejected"
	FeeEventResendOtp     Event = "resend_otp"
	FeeEventOtpVerified   Event = "otp_verified"
	FeeEventSettle        Event = "settle"
	FeeEventReject        Event = "reject"
)

var feeTransitions = map[Event]rule[FeeStatus]{
	FeeEventSubmitProof:   {from: []FeeStatus{FeePending}, to: FeeProofUploaded},
	FeeEventProofApproved: {from: []FeeStatus{FeeProofUploaded}, to: FeeOtpSent},
	FeeEventProofRejected: {from: []FeeStatus{FeeProofUploaded}, to: FeePending},
	FeeEventResendOtp:     {from: []FeeStatus{FeeOtpSent}, to: FeeOtpSent},
	FeeEventOtpVerified:   {from: []FeeStatus{FeeOtpSent}, to: FeeVerified},
	FeeEventSettle:        {from: []FeeStatus{FeeVerified}, to: FeePaid},
	FeeEventReject:        {from: []FeeStatus{FeePending, FeeProofUploaded, FeeOtpSent}, to: FeeRejected},
}

func NextStatus(from Status, ev Event) (Status, bool) {
	return apply(withdrawalTransitions, from, ev)
}

func NextFeeStatus(from FeeStatus, ev Event) (FeeStatus, bool) {
	return apply(feeTransitions, from, ev)
}

// allCleared evaluates the fee set after the pending transition. It is
// vacuously true for a withdrawal without fees.
func allCleared(fees []*Fee) bool {
	for _, f := range fees {
		if !f.Status.Cleared() {
			return false
		}
	}
	return true
}
