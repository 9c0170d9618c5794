package restriction

import "fmt"

// MaskType is a kind of face covering.
type MaskType string

const (
	MaskNone     MaskType = "none"
	MaskCloth    MaskType = "cloth"
	MaskSurgical MaskType = "surgical"
	MaskN95      MaskType = "n95"
)

// maskFactors holds (shedding, intake) multipliers per mask type.
var maskFactors = map[MaskType][2]float64{
	MaskNone:     {1, 1},
	MaskCloth:    {0.6, 0.5},
	MaskSurgical: {0.3, 0.2},
	MaskN95:      {0.15, 0.025},
}

// ParseMaskType validates a mask type name.
func ParseMaskType(name string) (MaskType, error) {
	m := MaskType(name)
	if _, ok := maskFactors[m]; !ok {
		return "", fmt.Errorf("unknown mask type %q", name)
	}
	return m, nil
}

// Shedding is the multiplier a mask applies to the wearer's emitted load.
func (m MaskType) Shedding() float64 {
	if f, ok := maskFactors[m]; ok {
		return f[0]
	}
	return 1
}

// Intake is the multiplier a mask applies to the wearer's inhaled load.
func (m MaskType) Intake() float64 {
	if f, ok := maskFactors[m]; ok {
		return f[1]
	}
	return 1
}

// MaskShare is the compliance fraction for one mask type.
type MaskShare struct {
	Type     MaskType `yaml:"type" json:"type"`
	Fraction float64  `yaml:"fraction" json:"fraction"`
}

// Pick selects a mask from an ordered distribution using a uniform draw u in
// [0,1). Shares are consumed in order and the remainder wears none.
func Pick(masks []MaskShare, u float64) MaskType {
	acc := 0.0
	for _, m := range masks {
		acc += m.Fraction
		if u < acc {
			return m.Type
		}
	}
	return MaskNone
}
