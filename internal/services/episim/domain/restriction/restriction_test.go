package restriction

import (
	"math"
	"testing"

	"gopkg.in/yaml.v3"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
)

func TestMergeKeepsUnsetFields(t *testing.T) {
	base := None().Merge(OfFraction(0.5)).Merge(OfCiCorrection(0.3))
	got := base.Merge(OfMask(MaskShare{Type: MaskCloth, Fraction: 0.9}))

	if got.Fraction() != 0.5 {
		t.Fatalf("Fraction() = %v, want 0.5", got.Fraction())
	}
	if got.Ci() != 0.3 {
		t.Fatalf("Ci() = %v, want 0.3", got.Ci())
	}
	if len(got.Masks) != 1 || got.Masks[0].Type != MaskCloth {
		t.Fatalf("Masks = %v, want cloth", got.Masks)
	}
	// base must not share state with the merged value
	if len(base.Masks) != 0 {
		t.Fatalf("base.Masks = %v, want untouched", base.Masks)
	}
}

func TestMergeNoneOpensEverything(t *testing.T) {
	closed := None().
		Merge(WithDistricts(0.2, map[string]float64{"Köln": 0.4})).
		Merge(OfClosingHours(21, 5)).
		Merge(OfMask(MaskShare{Type: MaskN95, Fraction: 1}))
	open := closed.Merge(None())

	if open.ClosingHours != nil {
		t.Fatalf("ClosingHours = %v, want cleared", open.ClosingHours)
	}
	if len(open.Masks) != 0 || open.DistrictFractions != nil || open.Fraction() != 1 {
		t.Fatalf("open = %+v, want unrestricted", open)
	}
}

func TestOpenSurvivesYAML(t *testing.T) {
	raw, err := yaml.Marshal(None())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Restriction
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	closed := None().Merge(OfClosingHours(21, 5)).Merge(OfMask(MaskShare{Type: MaskCloth, Fraction: 1}))
	open := closed.Merge(decoded)
	if open.ClosingHours != nil || len(open.Masks) != 0 {
		t.Fatalf("open = %+v, want closing hours and masks cleared", open)
	}
}

func TestFractionFor(t *testing.T) {
	r := WithDistricts(0.5, map[string]float64{"Basel": 0.2})
	if got := r.FractionFor("Basel"); got != 0.2 {
		t.Fatalf("FractionFor(Basel) = %v, want 0.2", got)
	}
	if got := r.FractionFor("Riehen"); got != 0.5 {
		t.Fatalf("FractionFor(Riehen) = %v, want 0.5", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		r    Restriction
		code apperrors.Code
	}{
		{"ok", None().Merge(OfClosingHours(21, 5)), ""},
		{"fraction above one", OfFraction(1.2), apperrors.CodeInvalidProbability},
		{"negative ci", OfCiCorrection(-0.1), apperrors.CodeInvalidConfig},
		{"mask overflow", OfMask(MaskShare{MaskCloth, 0.7}, MaskShare{MaskN95, 0.6}), apperrors.CodeInvalidProbability},
		{"unknown mask", OfMask(MaskShare{"paper", 0.1}), apperrors.CodeInvalidConfig},
		{"bad hours", OfClosingHours(25, 3), apperrors.CodeInvalidConfig},
	}
	for _, tt := range tests {
		err := tt.r.Validate()
		if tt.code == "" {
			if err != nil {
				t.Fatalf("%s: Validate() error = %v", tt.name, err)
			}
			continue
		}
		if !apperrors.IsCode(err, tt.code) {
			t.Fatalf("%s: Validate() error = %v, want %s", tt.name, err, tt.code)
		}
	}
}

func TestPickMask(t *testing.T) {
	masks := []MaskShare{{MaskN95, 0.2}, {MaskSurgical, 0.3}}
	tests := []struct {
		u    float64
		want MaskType
	}{
		{0, MaskN95},
		{0.19, MaskN95},
		{0.2, MaskSurgical},
		{0.49, MaskSurgical},
		{0.5, MaskNone},
		{0.99, MaskNone},
	}
	for _, tt := range tests {
		if got := Pick(masks, tt.u); got != tt.want {
			t.Fatalf("Pick(%v) = %v, want %v", tt.u, got, tt.want)
		}
	}
}

func TestOpenDuration(t *testing.T) {
	h := &ClosingHours{From: 21, To: 5}
	hour := 3600.0
	tests := []struct {
		name       string
		start, end float64
		want       float64
	}{
		{"daytime", 10 * hour, 18 * hour, 8 * hour},
		{"evening", 19 * hour, 23 * hour, 2 * hour},
		{"early morning", 3 * hour, 7 * hour, 2 * hour},
		{"past midnight", 20 * hour, 26 * hour, 1 * hour},
		{"fully closed", 22 * hour, 23 * hour, 0},
		{"empty", 5 * hour, 5 * hour, 0},
	}
	for _, tt := range tests {
		got := h.OpenDuration(tt.start, tt.end)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Fatalf("%s: OpenDuration = %v, want %v", tt.name, got, tt.want)
		}
	}
	var none *ClosingHours
	if got := none.OpenDuration(0, hour); got != hour {
		t.Fatalf("nil OpenDuration = %v, want %v", got, hour)
	}
}
