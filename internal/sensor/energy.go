package sensor

const (
	oxygenPerJoule     = 10.38 / 60.0
	oxygenPerRev       = 4.9
	kcalPerLitreOxygen = 4.74
)

// MetabolicCostKcal estimates the rider's energy cost in kilocalories from
// external work and crank revolutions. Uses the lower oxidation constant, so
// it reads low rather than high.
func MetabolicCostKcal(externalEnergyJoules float64, crankRevolutions uint64) float64 {
	mlOxygen := oxygenPerJoule*externalEnergyJoules + oxygenPerRev*float64(crankRevolutions)
	return mlOxygen / 1000.0 * kcalPerLitreOxygen
}
