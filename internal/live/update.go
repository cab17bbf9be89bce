// Package live turns sensor notifications into persisted raw samples and a
// stream of typed updates for the display and relay.
package live

import "fmt"

// Kind identifies the quantity an Update carries.
type Kind int

const (
	KindPower Kind = iota
	KindCadence
	KindHeartRate
	// KindExternalEnergy is the cumulative mechanical work in joules.
	KindExternalEnergy
	// KindCrankCount is the cumulative number of crank revolutions.
	KindCrankCount
	// KindSpeed is in m/s.
	KindSpeed
	// KindDistance is the cumulative distance in metres.
	KindDistance
)

var kindNames = map[Kind]string{
	KindPower:          "power",
	KindCadence:        "cadence",
	KindHeartRate:      "heart_rate",
	KindExternalEnergy: "external_energy",
	KindCrankCount:     "crank_count",
	KindSpeed:          "speed",
	KindDistance:       "distance",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Update is one derived value. Present is false when the sensor reported that
// the quantity is currently unknown, e.g. cadence with no new revolution.
type Update struct {
	Kind    Kind
	Value   float64
	Present bool
}

func present(kind Kind, value float64) Update {
	return Update{Kind: kind, Value: value, Present: true}
}

func absent(kind Kind) Update {
	return Update{Kind: kind}
}

// ReplayKey groups updates by Kind so that a late listener receives the
// latest value of every quantity.
func ReplayKey(u Update) string {
	return u.Kind.String()
}
