package chain

// Standard is a contract's token-listing convention. The engine only ever
// dispatches between two variants: fungible contracts, where any unit is as
// good as another, and explicit-serial contracts, where an order trades one
// named token.
type Standard interface {
	Fungible() bool
	// DisplayToken renders the traded token for views. Fungible contracts
	// render their contract id; serialized contracts render the serial.
	DisplayToken(contract, specifier string) string
}

// FungibleStandard covers contracts whose units are interchangeable.
type FungibleStandard struct{}

func (FungibleStandard) Fungible() bool { return true }

func (FungibleStandard) DisplayToken(contract, _ string) string { return contract }

// SerialStandard covers contracts that list explicit token serials. An order
// carrying a specifier trades that exact token, not fungible quantity.
type SerialStandard struct{}

func (SerialStandard) Fungible() bool { return false }

func (SerialStandard) DisplayToken(_, specifier string) string {
	return "sn-" + specifier
}

// StandardFor picks the listing convention implied by a specifier.
func StandardFor(specifier string) Standard {
	if specifier == "" {
		return FungibleStandard{}
	}
	return SerialStandard{}
}
