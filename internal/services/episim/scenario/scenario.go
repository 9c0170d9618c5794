// Package scenario loads a run description from YAML, Lua and tab separated
// input files and assembles the engine components from it.
package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/mesaricr/matsim-episim-libs/internal/platform/errors"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/infection"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/person"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/progression"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/strain"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/tracing"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/vaccination"
)

// Scenario is the file format of a run.
type Scenario struct {
	Name       string  `yaml:"name" json:"name"`
	Seed       int64   `yaml:"seed" json:"seed"`
	Start      string  `yaml:"start" json:"start"`
	Days       int     `yaml:"days" json:"days"`
	SampleSize float64 `yaml:"sample_size" json:"sample_size"`

	// Population and Mobility are tab separated files, relative to the
	// scenario file.
	Population string `yaml:"population" json:"population"`
	Mobility   string `yaml:"mobility" json:"mobility"`
	// PolicyScript is an optional Lua file run after Restrictions are recorded.
	PolicyScript string `yaml:"policy_script" json:"policy_script"`

	Infection     Infection              `yaml:"infection" json:"infection"`
	Strains       []strain.Strain        `yaml:"strains" json:"strains"`
	Progression   Progression            `yaml:"progression" json:"progression"`
	Restrictions  []RestrictionEntry     `yaml:"restrictions" json:"restrictions"`
	Participation *Participation         `yaml:"participation" json:"participation"`
	Adaptive      *Adaptive              `yaml:"adaptive" json:"adaptive"`
	Tracing       *Tracing               `yaml:"tracing" json:"tracing"`
	Vaccination   *Vaccination           `yaml:"vaccination" json:"vaccination"`
	Seeding       Seeding                `yaml:"seeding" json:"seeding"`
	Extra         map[string]interface{} `yaml:"extra,omitempty" json:"extra,omitempty"`

	dir string
}

// Infection configures the contact model.
type Infection struct {
	Activities            []infection.ActivityParams `yaml:"activities" json:"activities"`
	Calibration           float64                    `yaml:"calibration" json:"calibration"`
	Mode                  infection.HazardMode       `yaml:"mode" json:"mode"`
	Seasonal              map[string]float64         `yaml:"seasonal" json:"seasonal"`
	ReinfectionProtection float64                    `yaml:"reinfection_protection" json:"reinfection_protection"`
	MinContactDuration    float64                    `yaml:"min_contact_duration" json:"min_contact_duration"`
	Workers               int                        `yaml:"workers" json:"workers"`
	ContactRetention      int                        `yaml:"contact_retention_days" json:"contact_retention_days"`
}

// Progression configures the disease model. Transitions replace the default
// table when given.
type Progression struct {
	HospitalFactor float64               `yaml:"hospital_factor" json:"hospital_factor"`
	ICU            *progression.Logistic `yaml:"icu" json:"icu"`
	Transitions    []TransitionSpec      `yaml:"transitions" json:"transitions"`
}

// TransitionSpec is one row of a custom transition table. Exactly one of
// Probability, ByAge and Rest selects the weight.
type TransitionSpec struct {
	From        string       `yaml:"from" json:"from"`
	To          string       `yaml:"to" json:"to"`
	Probability *float64     `yaml:"probability" json:"probability,omitempty"`
	ByAge       []AgeBand    `yaml:"by_age" json:"by_age,omitempty"`
	Rest        bool         `yaml:"rest" json:"rest,omitempty"`
	Duration    DurationSpec `yaml:"duration" json:"duration"`
}

// AgeBand is a probability for ages below Below; Below 0 closes the list.
type AgeBand struct {
	Below int     `yaml:"below" json:"below"`
	P     float64 `yaml:"p" json:"p"`
}

// DurationSpec selects a duration distribution.
type DurationSpec struct {
	Kind   progression.DistributionKind `yaml:"kind" json:"kind"`
	Days   float64                      `yaml:"days" json:"days"`
	Median float64                      `yaml:"median" json:"median"`
	Mean   float64                      `yaml:"mean" json:"mean"`
	Std    float64                      `yaml:"std" json:"std"`
}

// RestrictionEntry sets a restriction delta for activities from Date on.
// Open lifts every restriction instead.
type RestrictionEntry struct {
	Date                    string   `yaml:"date" json:"date"`
	Activities              []string `yaml:"activities" json:"activities"`
	Open                    bool     `yaml:"open" json:"open"`
	restriction.Restriction `yaml:",inline"`
}

// Participation derives restrictions from a mobility change series.
type Participation struct {
	File          string               `yaml:"file" json:"file"`
	Districts     map[string]string    `yaml:"districts" json:"districts"`
	Activities    []string             `yaml:"activities" json:"activities"`
	Alpha         float64              `yaml:"alpha" json:"alpha"`
	Column        string               `yaml:"column" json:"column"`
	Holidays      []string             `yaml:"holidays" json:"holidays"`
	Extrapolation policy.Extrapolation `yaml:"extrapolation" json:"extrapolation"`
}

// Adaptive wraps the fixed calendar in an incidence driven policy.
type Adaptive struct {
	Scope           policy.Scope                       `yaml:"scope" json:"scope"`
	Start           string                             `yaml:"start" json:"start"`
	RestrictAt      float64                            `yaml:"restrict_at" json:"restrict_at"`
	OpenAt          float64                            `yaml:"open_at" json:"open_at"`
	ConsecutiveDays int                                `yaml:"consecutive_days" json:"consecutive_days"`
	Restricted      map[string]restriction.Restriction `yaml:"restricted" json:"restricted"`
}

// Tracing configures contact tracing. Calendars are keyed by date.
type Tracing struct {
	EnableDay              int                 `yaml:"enable_day" json:"enable_day"`
	Delay                  int                 `yaml:"delay" json:"delay"`
	Probability            map[string]float64  `yaml:"probability" json:"probability"`
	Lookback               *int                `yaml:"lookback" json:"lookback"`
	MinDuration            float64             `yaml:"min_duration" json:"min_duration"`
	TraceSusceptible       *bool               `yaml:"trace_susceptible" json:"trace_susceptible"`
	EquipmentRate          *float64            `yaml:"equipment_rate" json:"equipment_rate"`
	CapacityType           tracing.CapacityType `yaml:"capacity_type" json:"capacity_type"`
	Capacity               map[string]int      `yaml:"capacity" json:"capacity"`
	QuarantineHousehold    *bool               `yaml:"quarantine_household" json:"quarantine_household"`
	QuarantineIndexCase    *bool               `yaml:"quarantine_index_case" json:"quarantine_index_case"`
	QuarantineStatus       map[string]string   `yaml:"quarantine_status" json:"quarantine_status"`
	TriggerStatus          string              `yaml:"trigger_status" json:"trigger_status"`
	TraceOnPositiveTest    bool                `yaml:"trace_on_positive_test" json:"trace_on_positive_test"`
	QuarantineDays         *int                `yaml:"quarantine_days" json:"quarantine_days"`
	QuarantineDaysByStatus map[string]int      `yaml:"quarantine_days_by_status" json:"quarantine_days_by_status"`
}

// Vaccination configures vaccine supply and allocation. Allocation is
// "by_age" (default) or "from_data", the latter reading per group counts
// from Data.
type Vaccination struct {
	Types           []vaccination.Type            `yaml:"types" json:"types"`
	Mix             map[string]map[string]float64 `yaml:"mix" json:"mix"`
	Capacity        map[string]int                `yaml:"capacity" json:"capacity"`
	BoosterCapacity map[string]int                `yaml:"booster_capacity" json:"booster_capacity"`
	MinAge          int                           `yaml:"min_age" json:"min_age"`
	Compliance      []vaccination.AgeShare        `yaml:"compliance" json:"compliance"`
	Allocation      string                        `yaml:"allocation" json:"allocation"`
	Groups          []vaccination.AgeGroup        `yaml:"groups" json:"groups"`
	Data            string                        `yaml:"data" json:"data"`
}

// Seeding configures initial and imported infections.
type Seeding struct {
	Initial       map[string]int            `yaml:"initial" json:"initial"`
	InitialStrain string                    `yaml:"initial_strain" json:"initial_strain"`
	MinAge        int                       `yaml:"min_age" json:"min_age"`
	MaxAge        int                       `yaml:"max_age" json:"max_age"`
	Imports       map[string]map[string]int `yaml:"imports" json:"imports"`
	ImportFiles   map[string]ImportFile     `yaml:"import_files" json:"import_files"`
	Interpolate   []InterpolateSpec         `yaml:"interpolate" json:"interpolate"`
}

// ImportFile is a tab separated import series scaled by Factor.
type ImportFile struct {
	File   string  `yaml:"file" json:"file"`
	Factor float64 `yaml:"factor" json:"factor"`
}

// InterpolateSpec ramps the imports of a strain linearly between two dates.
type InterpolateSpec struct {
	Strain string  `yaml:"strain" json:"strain"`
	Factor float64 `yaml:"factor" json:"factor"`
	Start  string  `yaml:"start" json:"start"`
	End    string  `yaml:"end" json:"end"`
	From   float64 `yaml:"from" json:"from"`
	To     float64 `yaml:"to" json:"to"`
}

// Load reads a scenario file, applies defaults and validates it.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// Parse decodes a scenario, applies defaults and validates it. Relative
// paths resolve against the working directory.
func Parse(b []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidConfig, "decode scenario", err)
	}
	s.ApplyDefaults()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ApplyDefaults fills unset fields.
func (s *Scenario) ApplyDefaults() {
	if s.Name == "" {
		s.Name = "episim"
	}
	if s.SampleSize == 0 {
		s.SampleSize = 1
	}
	if s.Infection.Calibration == 0 {
		s.Infection.Calibration = 1e-5
	}
	if s.Infection.Mode == "" {
		s.Infection.Mode = infection.HazardExponential
	}
	if len(s.Infection.Activities) == 0 {
		s.Infection.Activities = []infection.ActivityParams{
			{Name: "home", ContactIntensity: 1, Home: true},
			{Name: "work", ContactIntensity: 1.47},
			{Name: "leisure", ContactIntensity: 9.24},
			{Name: "educ_primary", ContactIntensity: 11},
			{Name: "shop_daily", ContactIntensity: 0.88},
			{Name: "pt", ContactIntensity: 10},
		}
	}
	for i := range s.Strains {
		st := &s.Strains[i]
		d := strain.Default()
		if st.Infectiousness == 0 {
			st.Infectiousness = d.Infectiousness
		}
		if st.FactorSeriouslySick == 0 {
			st.FactorSeriouslySick = d.FactorSeriouslySick
		}
		if st.FactorSeriouslySickVaccinated == 0 {
			st.FactorSeriouslySickVaccinated = st.FactorSeriouslySick
		}
		if st.FactorCritical == 0 {
			st.FactorCritical = d.FactorCritical
		}
	}
	if s.Vaccination != nil && s.Vaccination.Allocation == "" {
		s.Vaccination.Allocation = "by_age"
	}
}

// Validate checks the fields that can be judged without loading inputs.
// Component constructors validate the rest in Build.
func (s *Scenario) Validate() error {
	if _, err := calendar.Parse(s.Start); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidCalendar, "start date", err)
	}
	if s.Days <= 0 {
		return apperrors.New(apperrors.CodeInvalidConfig, "days must be positive")
	}
	if s.SampleSize <= 0 || s.SampleSize > 1 {
		return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "sample size must be in (0,1]", map[string]string{"sample_size": fmt.Sprint(s.SampleSize)})
	}
	if strings.TrimSpace(s.Population) == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "population file is required")
	}
	if strings.TrimSpace(s.Mobility) == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "mobility file is required")
	}
	for i, r := range s.Restrictions {
		if _, err := calendar.Parse(r.Date); err != nil {
			return apperrors.Wrap(apperrors.CodeInvalidCalendar, fmt.Sprintf("restriction %d date", i), err)
		}
		if len(r.Activities) == 0 {
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "restriction names no activity", map[string]string{"index": fmt.Sprint(i)})
		}
	}
	if s.Vaccination != nil {
		switch s.Vaccination.Allocation {
		case "by_age":
		case "from_data":
			if s.Vaccination.Data == "" {
				return apperrors.New(apperrors.CodeInvalidConfig, "from_data allocation needs a data file")
			}
		default:
			return apperrors.WithMetadata(apperrors.CodeInvalidConfig, "unknown vaccine allocation", map[string]string{"allocation": s.Vaccination.Allocation})
		}
	}
	if s.Tracing != nil {
		if s.Tracing.TriggerStatus != "" {
			if _, err := person.ParseDiseaseStatus(s.Tracing.TriggerStatus); err != nil {
				return apperrors.Wrap(apperrors.CodeInvalidConfig, "tracing trigger", err)
			}
		}
	}
	return nil
}

// Path resolves a scenario relative path.
func (s *Scenario) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}
