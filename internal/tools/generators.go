package tools

import (
	"fmt"
	"math/rand/v2"
	"net"
	"strings"
)

// The generator bodies below are deliberately small sample-data
// producers; the interesting part of these endpoints is the quota
// gating and auditing around them.

type Address struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

type Name struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	FullName  string `json:"full_name"`
}

type IPInfo struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country"`
}

type ZipInfo struct {
	ZipCode string `json:"zip_code"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
}

var (
	streets = []string{"Maple Street", "Oak Avenue", "Cedar Lane", "Elm Drive", "Pine Court", "Birch Road"}
	cities  = []string{"Springfield", "Riverton", "Fairview", "Georgetown", "Clinton", "Salem"}
	states  = []string{"CA", "TX", "NY", "FL", "WA", "OH"}
)

func generateAddresses(count int) []Address {
	out := make([]Address, count)
	for i := range out {
		out[i] = Address{
			Street:  fmt.Sprintf("%d %s", 100+rand.IntN(9900), streets[rand.IntN(len(streets))]),
			City:    cities[rand.IntN(len(cities))],
			State:   states[rand.IntN(len(states))],
			ZipCode: fmt.Sprintf("%05d", 10000+rand.IntN(89999)),
			Country: "US",
		}
	}
	return out
}

// inferName derives a likely human name from an email local part,
// splitting on the usual separators.
func inferName(email string) Name {
	local := email
	if at := strings.IndexByte(email, '@'); at >= 0 {
		local = email[:at]
	}
	local = strings.Map(func(r rune) rune {
		switch r {
		case '.', '_', '-', '+':
			return ' '
		}
		return r
	}, local)
	local = strings.TrimRight(local, "0123456789 ")

	parts := strings.Fields(local)
	n := Name{}
	if len(parts) > 0 {
		n.FirstName = title(parts[0])
	}
	if len(parts) > 1 {
		n.LastName = title(parts[len(parts)-1])
	}
	n.FullName = strings.TrimSpace(n.FirstName + " " + n.LastName)
	return n
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

func lookupIP(ip string) (IPInfo, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return IPInfo{}, fmt.Errorf("invalid IP address %q", ip)
	}
	idx := int(parsed[len(parsed)-1]) % len(cities)
	return IPInfo{
		IP:      parsed.String(),
		City:    cities[idx],
		Region:  states[idx%len(states)],
		Country: "US",
	}, nil
}

func lookupZip(zip string) (ZipInfo, error) {
	if len(zip) != 5 {
		return ZipInfo{}, fmt.Errorf("invalid ZIP code %q", zip)
	}
	for _, r := range zip {
		if r < '0' || r > '9' {
			return ZipInfo{}, fmt.Errorf("invalid ZIP code %q", zip)
		}
	}
	idx := int(zip[4]-'0') % len(cities)
	return ZipInfo{
		ZipCode: zip,
		City:    cities[idx],
		State:   states[idx%len(states)],
		Country: "US",
	}, nil
}
