package capability

// Capability names a metered operation exposed by the platform. Every
// quota ledger row, limit record, and audit entry is keyed by one.
type Capability string

const (
	AddressGenerator Capability = "address_generator"
	EmailToName      Capability = "email_to_name"
	IPLookup         Capability = "ip_lookup"
	ZipLookup        Capability = "zip_lookup"
)

// all is the registry of metered capabilities, in display order.
var all = []Capability{
	AddressGenerator,
	EmailToName,
	IPLookup,
	ZipLookup,
}

// All returns every registered capability.
func All() []Capability {
	out := make([]Capability, len(all))
	copy(out, all)
	return out
}

// Parse returns the registered capability matching s, or false if s is
// not a known capability name.
func Parse(s string) (Capability, bool) {
	for _, c := range all {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

func (c Capability) String() string {
	return string(c)
}
