package core

// SubBusiness is the uniform per-variant contract Design Note 9 calls for,
// replacing runtime type matching over message apps with a closed tagged
// variant: Payload = Payment | Text | DataFeed.
type SubBusiness interface {
	ValidateBasic(m Message) error
	CheckBusiness(ledger *BusinessLedger, unit string, msgIdx int, m Message) (JointSequence, error)
}

// PaymentBusiness is the SubBusiness for AppPayment.
type PaymentBusiness struct{}

func (PaymentBusiness) ValidateBasic(m Message) error { return validatePaymentShape(m.Payment) }

func (PaymentBusiness) CheckBusiness(ledger *BusinessLedger, unit string, msgIdx int, m Message) (JointSequence, error) {
	ok, err := ledger.applyPaymentToTemp(unit, msgIdx, m.Payment, 0, 0)
	if err != nil {
		return SeqTempBad, nil //nolint:nilerr // business conflict surfaces as a sequence, not an error
	}
	if !ok {
		return SeqTempBad, nil
	}
	return SeqGood, nil
}

// TextBusiness is the SubBusiness for AppText: a no-op on state (§4.4).
type TextBusiness struct{}

func (TextBusiness) ValidateBasic(Message) error { return nil }

func (TextBusiness) CheckBusiness(*BusinessLedger, string, int, Message) (JointSequence, error) {
	return SeqGood, nil
}

// DataFeedBusiness is the SubBusiness for AppDataFeed: validates shape,
// otherwise a no-op on state (§4.4).
type DataFeedBusiness struct{}

func (DataFeedBusiness) ValidateBasic(m Message) error { return validateDataFeedShape(m.DataFeed) }

func (DataFeedBusiness) CheckBusiness(*BusinessLedger, string, int, Message) (JointSequence, error) {
	return SeqGood, nil
}

// businessFor resolves the sub-business implementation for a message's app
// tag (§9 "Dynamic dispatch over messages").
func businessFor(app string) SubBusiness {
	switch app {
	case AppPayment:
		return PaymentBusiness{}
	case AppText:
		return TextBusiness{}
	case AppDataFeed:
		return DataFeedBusiness{}
	default:
		return nil
	}
}
