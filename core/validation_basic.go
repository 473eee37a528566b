package core

import (
	"fmt"
	"sort"
)

const (
	maxParents       = 16
	maxAuthors       = 16
	maxMessages      = 128
	maxAuthentifier  = 4096
	minAuthentifier  = 1
	maxPayloadBytes  = 16384
	maxInputsOutputs = 128
)

// ValidationConfig carries the chain-wide constants basic validation checks
// against (§4.2 "version == configured version; alt == configured alt").
type ValidationConfig struct {
	Version string
	Alt     string
}

// BasicValidate runs the pre-cache checks of §4.2 against a freshly
// received joint, before any parent is known to be resolvable.
func BasicValidate(cfg ValidationConfig, j *Joint) error {
	u := &j.Unit
	if u.Version != cfg.Version {
		return fmt.Errorf("%w: version mismatch", ErrMalformed)
	}
	if u.Alt != cfg.Alt {
		return fmt.Errorf("%w: alt mismatch", ErrMalformed)
	}

	if !u.IsGenesis() {
		if len(u.Parents) > maxParents {
			return fmt.Errorf("%w: too many parents", ErrMalformed)
		}
		if !sort.StringsAreSorted(u.Parents) {
			return fmt.Errorf("%w: parents not sorted", ErrMalformed)
		}
		for i := 1; i < len(u.Parents); i++ {
			if u.Parents[i] == u.Parents[i-1] {
				return fmt.Errorf("%w: duplicate parent", ErrMalformed)
			}
		}
		if u.LastBall == "" || !IsValidHash(u.LastBall) {
			return fmt.Errorf("%w: bad last_ball", ErrMalformed)
		}
		if u.LastBallUnit == "" || !IsValidHash(u.LastBallUnit) {
			return fmt.Errorf("%w: bad last_ball_unit", ErrMalformed)
		}
	}

	if len(u.Authors) < 1 || len(u.Authors) > maxAuthors {
		return fmt.Errorf("%w: author count out of range", ErrMalformed)
	}
	for i, a := range u.Authors {
		if i > 0 && a.Address <= u.Authors[i-1].Address {
			return fmt.Errorf("%w: authors not strictly sorted", ErrMalformed)
		}
		if !ValidateAddress(a.Address) {
			return fmt.Errorf("%w: invalid author address checksum", ErrMalformed)
		}
		for _, f := range a.Authentifiers {
			if len(f.Sig) < minAuthentifier || len(f.Sig) > maxAuthentifier {
				return fmt.Errorf("%w: authentifier size out of range", ErrMalformed)
			}
		}
	}

	if len(u.Messages) > maxMessages {
		return fmt.Errorf("%w: too many messages", ErrMalformed)
	}
	for _, m := range u.Messages {
		if m.ContentHash != "" {
			if !IsValidHash(m.ContentHash) {
				return fmt.Errorf("%w: bad content_hash", ErrMalformed)
			}
			if m.Payment != nil || m.Text != "" || len(m.DataFeed) != 0 {
				return fmt.Errorf("%w: content_hash message must strip all payload fields", ErrMalformed)
			}
			if m.App == AppPayment && j.Ball == "" {
				return fmt.Errorf("%w: content_hash allowed only when ball is present", ErrMalformed)
			}
			continue
		}
		if m.PayloadLocation != "inline" {
			return fmt.Errorf("%w: unsupported payload_location", ErrMalformed)
		}
		switch m.App {
		case AppPayment:
			if err := validatePaymentShape(m.Payment); err != nil {
				return err
			}
		case AppText, AppDataFeed:
			// shape checked in ready validation (§4.2 business step)
		default:
			return fmt.Errorf("%w: unknown message app %q", ErrMalformed, m.App)
		}
	}

	if j.Unsigned {
		if j.Ball != "" || len(j.SkiplistUnits) != 0 {
			return fmt.Errorf("%w: unsigned joint must not carry ball or skiplist", ErrMalformed)
		}
	}
	if j.Ball != "" && !IsValidHash(j.Ball) {
		return fmt.Errorf("%w: bad ball length", ErrMalformed)
	}

	return nil
}

func validatePaymentShape(p *PaymentPayload) error {
	if p == nil {
		return fmt.Errorf("%w: payment message missing payload", ErrMalformed)
	}
	if len(p.Inputs) == 0 || len(p.Inputs) > maxInputsOutputs {
		return fmt.Errorf("%w: input count out of range", ErrMalformed)
	}
	if len(p.Outputs) == 0 || len(p.Outputs) > maxInputsOutputs {
		return fmt.Errorf("%w: output count out of range", ErrMalformed)
	}
	for i, o := range p.Outputs {
		if o.Amount <= 0 {
			return fmt.Errorf("%w: non-positive output amount", ErrMalformed)
		}
		if !ValidateAddress(o.Address) {
			return fmt.Errorf("%w: invalid output address", ErrMalformed)
		}
		if i > 0 {
			prev := p.Outputs[i-1]
			if o.Address < prev.Address || (o.Address == prev.Address && o.Amount < prev.Amount) {
				return fmt.Errorf("%w: outputs not sorted by (address,amount)", ErrMalformed)
			}
		}
	}
	return nil
}
