package core

import "sort"

// Input kinds (§4.4).
const (
	InputTransfer = "transfer"
	InputIssue    = "issue"
)

// Message app kinds (§4.4, §9 "closed tagged variant Payload").
const (
	AppPayment  = "payment"
	AppText     = "text"
	AppDataFeed = "data_feed"
)

// Input references a prior stable output (transfer) or mints the genesis
// cap (issue); see §4.4.
type Input struct {
	Kind         string
	Unit         string // transfer: the unit owning the referenced output
	MessageIndex int    // transfer: message index within Unit
	OutputIndex  int    // transfer: output index within that message
	Address      Address
	SerialNumber int64 // issue: must be 1
	Amount       int64 // issue: must equal the configured cap
}

// Output is a payment recipient and amount (§4.4, sorted by address,amount).
type Output struct {
	Address Address
	Amount  int64
}

// PaymentPayload is the inline payment message body (§4.4). Assets,
// denominations and spend-proofs are explicit Non-goals.
type PaymentPayload struct {
	Inputs  []Input
	Outputs []Output
}

// DataFeedValue is either a string (≤64 bytes) or an integer; no floats
// (§4.4 data_feed validation).
type DataFeedValue struct {
	IsInt  bool
	Str    string
	Int    int64
}

// Message is one entry of a unit's message list (≤128, §3). App dispatch
// replaces runtime type matching with a closed tagged variant, per Design
// Note 9 ("Dynamic dispatch over messages").
type Message struct {
	App               string
	PayloadLocation   string // "inline" for payment/text/data_feed
	ContentHash       string // set when this message's payload was stripped
	HeadersCommission int64
	PayloadCommission int64

	Payment  *PaymentPayload
	Text     string
	DataFeed map[string]DataFeedValue
}

// Author is one signer of a unit (§3, §4.2).
type Author struct {
	Address       Address
	Definition    *Definition
	Authentifiers []Authentifier
}

// Unit is the immutable payload of a joint (§3).
type Unit struct {
	Version string
	Alt     string

	Parents      []string // 0-16, unique, sorted unit hashes
	LastBall     string   // 44-byte base64 hash, empty for genesis
	LastBallUnit string   // unit hash, empty for genesis

	Authors  []Author // 1-16, sorted by address
	Messages []Message

	WitnessListUnit string // optional: a stable unit carrying 12 witnesses
	Witnesses       []Address // optional inline list, exactly 12, sorted unique

	HeadersCommission int64
	PayloadCommission int64
	Timestamp         int64

	// UnitHash is cached once computed; empty until ComputeHash runs.
	UnitHash string
}

// IsGenesis reports whether u has no parents.
func (u *Unit) IsGenesis() bool { return len(u.Parents) == 0 }

// SortedParents returns a defensive copy of Parents sorted ascending, used
// by basic validation to detect an unsorted submission.
func SortedParents(parents []string) []string {
	out := append([]string(nil), parents...)
	sort.Strings(out)
	return out
}

// fullCanonicalValue renders every field of u, used as the content-hash
// input and, with authentifiers nulled, as the signed payload.
func (u *Unit) fullCanonicalValue(nullAuthentifiers bool) CanonicalValue {
	authors := make(CArray, len(u.Authors))
	for i, a := range u.Authors {
		obj := CanonicalObject{"address": CString(string(a.Address))}
		if a.Definition != nil {
			obj["definition"] = a.Definition.CanonicalValue()
		}
		if nullAuthentifiers {
			obj["authentifiers"] = CArray{}
		} else {
			auths := make(CArray, len(a.Authentifiers))
			for j, f := range a.Authentifiers {
				auths[j] = CanonicalObject{
					"algo": CString(f.Algo),
					"sig":  CString(string(f.Sig)),
				}
			}
			obj["authentifiers"] = auths
		}
		authors[i] = obj
	}

	messages := make(CArray, len(u.Messages))
	for i, m := range u.Messages {
		obj := CanonicalObject{
			"app":                CString(m.App),
			"payload_location":   CString(m.PayloadLocation),
			"headers_commission": CInt(m.HeadersCommission),
			"payload_commission": CInt(m.PayloadCommission),
		}
		if m.ContentHash != "" {
			obj["content_hash"] = CString(m.ContentHash)
		} else {
			obj["payload"] = messagePayloadCanonical(m)
		}
		messages[i] = obj
	}

	parents := make(CArray, len(u.Parents))
	for i, p := range u.Parents {
		parents[i] = CString(p)
	}

	obj := CanonicalObject{
		"version":            CString(u.Version),
		"alt":                CString(u.Alt),
		"parent_units":        parents,
		"authors":            authors,
		"messages":           messages,
		"headers_commission": CInt(u.HeadersCommission),
		"payload_commission": CInt(u.PayloadCommission),
		"timestamp":          CInt(u.Timestamp),
	}
	if u.LastBall != "" {
		obj["last_ball"] = CString(u.LastBall)
	}
	if u.LastBallUnit != "" {
		obj["last_ball_unit"] = CString(u.LastBallUnit)
	}
	if u.WitnessListUnit != "" {
		obj["witness_list_unit"] = CString(u.WitnessListUnit)
	}
	if len(u.Witnesses) > 0 {
		w := make(CArray, len(u.Witnesses))
		for i, a := range u.Witnesses {
			w[i] = CString(string(a))
		}
		obj["witnesses"] = w
	}
	return obj
}

func messagePayloadCanonical(m Message) CanonicalValue {
	switch m.App {
	case AppPayment:
		return paymentCanonical(m.Payment)
	case AppText:
		return CString(m.Text)
	case AppDataFeed:
		keys := make([]string, 0, len(m.DataFeed))
		for k := range m.DataFeed {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := CanonicalObject{}
		for _, k := range keys {
			v := m.DataFeed[k]
			if v.IsInt {
				obj[k] = CInt(v.Int)
			} else {
				obj[k] = CString(v.Str)
			}
		}
		return obj
	default:
		return CanonicalObject{}
	}
}

func paymentCanonical(p *PaymentPayload) CanonicalValue {
	if p == nil {
		return CanonicalObject{}
	}
	inputs := make(CArray, len(p.Inputs))
	for i, in := range p.Inputs {
		obj := CanonicalObject{"kind": CString(in.Kind)}
		switch in.Kind {
		case InputIssue:
			obj["address"] = CString(string(in.Address))
			obj["serial_number"] = CInt(in.SerialNumber)
			obj["amount"] = CInt(in.Amount)
		default: // transfer
			obj["unit"] = CString(in.Unit)
			obj["message_index"] = CInt(int64(in.MessageIndex))
			obj["output_index"] = CInt(int64(in.OutputIndex))
		}
		inputs[i] = obj
	}
	outputs := make(CArray, len(p.Outputs))
	for i, o := range p.Outputs {
		outputs[i] = CanonicalObject{
			"address": CString(string(o.Address)),
			"amount":  CInt(o.Amount),
		}
	}
	return CanonicalObject{"inputs": inputs, "outputs": outputs}
}

// canonicalForSigning is the payload every author signs (§4.2, §6): the
// full canonical form with authentifiers nulled.
func (u *Unit) canonicalForSigning() CanonicalValue {
	return u.fullCanonicalValue(true)
}

// contentHash is SHA-256/base64 over the full canonical form (including
// real authentifiers), used as the "content-hash-of-full-unit" component of
// the stripped unit-hash view (§6).
func (u *Unit) contentHash() string {
	return Base64Hash(u.fullCanonicalValue(false))
}

// strippedCanonicalValue renders the reduced view unit-hash is computed
// over (§6): version, alt, authors (address only), content-hash-of-full-
// unit, last-ball, last-ball-unit, parent-units, witnesses, witness-list-unit.
func (u *Unit) strippedCanonicalValue() CanonicalValue {
	authors := make(CArray, len(u.Authors))
	for i, a := range u.Authors {
		authors[i] = CanonicalObject{"address": CString(string(a.Address))}
	}
	parents := make(CArray, len(u.Parents))
	for i, p := range u.Parents {
		parents[i] = CString(p)
	}
	obj := CanonicalObject{
		"version":      CString(u.Version),
		"alt":          CString(u.Alt),
		"authors":      authors,
		"content_hash": CString(u.contentHash()),
		"parent_units": parents,
	}
	if u.LastBall != "" {
		obj["last_ball"] = CString(u.LastBall)
	}
	if u.LastBallUnit != "" {
		obj["last_ball_unit"] = CString(u.LastBallUnit)
	}
	if u.WitnessListUnit != "" {
		obj["witness_list_unit"] = CString(u.WitnessListUnit)
	}
	if len(u.Witnesses) > 0 {
		w := make(CArray, len(u.Witnesses))
		for i, a := range u.Witnesses {
			w[i] = CString(string(a))
		}
		obj["witnesses"] = w
	}
	return obj
}

// ComputeHash derives and caches u.UnitHash from the stripped canonical view.
func (u *Unit) ComputeHash() string {
	u.UnitHash = Base64Hash(u.strippedCanonicalValue())
	return u.UnitHash
}

// Joint is a Unit plus its optional stable-commitment ball, skiplist and
// unsigned flag (§3).
type Joint struct {
	Unit          Unit
	Ball          string   // set once the unit becomes stable
	SkiplistUnits []string // sorted unique, set at finalization
	Unsigned      bool
}
