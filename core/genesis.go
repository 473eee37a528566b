package core

import "fmt"

// GenesisConfig carries the parameters that define a ledger's single root
// joint (§8 scenario S1 "fresh ledger starts from a genesis joint"): the
// protocol identity basic validation checks every later unit against, and
// the total supply minted by the lone issue input.
type GenesisConfig struct {
	Version  string
	Alt      string
	IssueCap int64
}

// BuildGenesis constructs and signs the parentless root joint: a single
// payment message issuing IssueCap to the first signer, authored by every
// signer supplied (so a genesis can be jointly controlled), per §4.4's
// issue-input contract and original_source/test_case/src/genesis.rs's
// "one issue input, full cap, to the configured recipient" shape.
func BuildGenesis(cfg GenesisConfig, signers []Signer) (*Joint, error) {
	if len(signers) == 0 {
		return nil, fmt.Errorf("core: genesis requires at least one signer")
	}
	recipient := signers[0].Address()

	authors := make([]Author, len(signers))
	for i, s := range signers {
		def := s.Definition()
		authors[i] = Author{Address: s.Address(), Definition: &def}
	}

	u := Unit{
		Version: cfg.Version,
		Alt:     cfg.Alt,
		Authors: authors,
		Messages: []Message{
			{
				App:             AppPayment,
				PayloadLocation: "inline",
				Payment: &PaymentPayload{
					Inputs: []Input{
						{Kind: InputIssue, Address: recipient, SerialNumber: 1, Amount: cfg.IssueCap},
					},
					Outputs: []Output{
						{Address: recipient, Amount: cfg.IssueCap},
					},
				},
			},
		},
	}

	payloadHash := SignedPayloadHash(&u)
	for i, s := range signers {
		auth, err := s.Sign(payloadHash)
		if err != nil {
			return nil, fmt.Errorf("core: sign genesis: %w", err)
		}
		u.Authors[i].Authentifiers = []Authentifier{auth}
	}
	u.ComputeHash()

	if u.UnitHash == "" {
		return nil, fmt.Errorf("core: genesis unit hash computation failed")
	}
	u.Timestamp = 0 // genesis carries no wall-clock meaning; it is the epoch

	return &Joint{Unit: u}, nil
}
