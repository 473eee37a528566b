package core

import "testing"

func TestBusinessForDispatchesKnownApps(t *testing.T) {
	cases := []struct {
		app  string
		want SubBusiness
	}{
		{AppPayment, PaymentBusiness{}},
		{AppText, TextBusiness{}},
		{AppDataFeed, DataFeedBusiness{}},
	}
	for _, c := range cases {
		got := businessFor(c.app)
		if got == nil {
			t.Fatalf("businessFor(%q) = nil, want %T", c.app, c.want)
		}
	}
	if businessFor("unknown") != nil {
		t.Fatalf("businessFor(unknown app) should return nil, not a default variant")
	}
}

func TestTextBusinessValidateBasicAlwaysAccepts(t *testing.T) {
	var tb TextBusiness
	if err := tb.ValidateBasic(Message{App: AppText, Text: "hello"}); err != nil {
		t.Fatalf("TextBusiness.ValidateBasic rejected a plain text message: %v", err)
	}
}

func TestTextBusinessCheckBusinessIsNoOp(t *testing.T) {
	var tb TextBusiness
	bl := NewBusinessLedger(BusinessConfig{})
	seq, err := tb.CheckBusiness(bl, "unit1", 0, Message{App: AppText, Text: "hi"})
	if err != nil || seq != SeqGood {
		t.Fatalf("TextBusiness.CheckBusiness = (%v, %v), want (Good, nil)", seq, err)
	}
}

func TestDataFeedBusinessValidateBasicRejectsOversizedValue(t *testing.T) {
	var db DataFeedBusiness
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	m := Message{App: AppDataFeed, DataFeed: map[string]DataFeedValue{"k": {Str: string(long)}}}
	if err := db.ValidateBasic(m); err == nil {
		t.Fatalf("expected an error for a data_feed value over 64 bytes")
	}
}

func TestDataFeedBusinessValidateBasicAcceptsIntValue(t *testing.T) {
	var db DataFeedBusiness
	m := Message{App: AppDataFeed, DataFeed: map[string]DataFeedValue{"k": {IsInt: true, Int: 42}}}
	if err := db.ValidateBasic(m); err != nil {
		t.Fatalf("DataFeedBusiness rejected a well-formed int data_feed value: %v", err)
	}
}

func TestPaymentBusinessValidateBasicRejectsMissingPayload(t *testing.T) {
	var pb PaymentBusiness
	if err := pb.ValidateBasic(Message{App: AppPayment}); err == nil {
		t.Fatalf("expected an error for a payment message with no payload")
	}
}
