package scenario

import (
	"fmt"
	"math"
	"time"

	"github.com/Shopify/go-lua"
	"gopkg.in/yaml.v3"

	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/calendar"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/policy"
	"github.com/mesaricr/matsim-episim-libs/internal/services/episim/domain/restriction"
)

const policyTypeName = "policy"

// LoadPolicyScript runs a Lua policy script against b. Scripts create a
// handle with Policy.new() and record restrictions through its methods:
//
//	local p = Policy.new()
//	p:restrict("2020-03-16", 0.4, "work", "leisure")
//	 :mask("2020-04-27", {{type = "cloth", fraction = 0.6}}, "pt", "shop_daily")
//	 :apply_to_rf("2020-03-16", "2020-06-01", function(date, f) return f * 0.9 end, "work")
//
// Errors recorded by the builder surface when the caller builds the policy.
func LoadPolicyScript(path string, b *policy.Builder) error {
	state := lua.NewState()
	lua.OpenLibraries(state)
	registerPolicyType(state, b)

	if err := lua.LoadFile(state, path, ""); err != nil {
		return fmt.Errorf("load lua: %w", err)
	}
	if err := state.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run lua: %w", err)
	}
	return nil
}

func registerPolicyType(state *lua.State, b *policy.Builder) {
	lua.NewMetaTable(state, policyTypeName)
	state.NewTable()
	lua.SetFunctions(state, policyMethods, 0)
	state.SetField(-2, "__index")
	state.Pop(1)

	state.NewTable()
	lua.SetFunctions(state, []lua.RegistryFunction{
		{Name: "new", Function: func(state *lua.State) int {
			state.PushUserData(b)
			lua.SetMetaTableNamed(state, policyTypeName)
			return 1
		}},
	}, 0)
	state.SetGlobal("Policy")
}

var policyMethods = []lua.RegistryFunction{
	{Name: "restrict", Function: policyRestrict},
	{Name: "open", Function: policyOpen},
	{Name: "mask", Function: policyMask},
	{Name: "ci", Function: policyCi},
	{Name: "closing_hours", Function: policyClosingHours},
	{Name: "apply_to_rf", Function: policyApplyToRf},
	{Name: "apply", Function: policyApply},
}

func checkBuilder(state *lua.State) *policy.Builder {
	ud := lua.CheckUserData(state, 1, policyTypeName)
	b, ok := ud.(*policy.Builder)
	if !ok || b == nil {
		lua.ArgumentError(state, 1, "policy expected")
	}
	return b
}

func checkDate(state *lua.State, index int) time.Time {
	value := lua.CheckString(state, index)
	date, err := calendar.Parse(value)
	if err != nil {
		lua.ArgumentError(state, index, err.Error())
	}
	return date
}

// activitiesFrom collects the string arguments from index to the top.
func activitiesFrom(state *lua.State, index int) []string {
	var out []string
	for i := index; i <= state.Top(); i++ {
		out = append(out, lua.CheckString(state, i))
	}
	return out
}

// chain returns the policy handle so calls can be chained.
func chain(state *lua.State) int {
	state.PushValue(1)
	return 1
}

// policy:restrict(date, fraction|table, activities...)
func policyRestrict(state *lua.State) int {
	b := checkBuilder(state)
	date := checkDate(state, 2)
	var r restriction.Restriction
	switch state.TypeOf(3) {
	case lua.TypeNumber:
		r = restriction.OfFraction(lua.CheckNumber(state, 3))
	case lua.TypeTable:
		var err error
		r, err = tableToRestriction(state, 3)
		if err != nil {
			lua.ArgumentError(state, 3, err.Error())
		}
	default:
		lua.ArgumentError(state, 3, "fraction or restriction table expected")
	}
	b.Restrict(date, r, activitiesFrom(state, 4)...)
	return chain(state)
}

// policy:open(date, activities...)
func policyOpen(state *lua.State) int {
	b := checkBuilder(state)
	b.Open(checkDate(state, 2), activitiesFrom(state, 3)...)
	return chain(state)
}

// policy:mask(date, {{type=, fraction=}, ...}, activities...)
func policyMask(state *lua.State) int {
	b := checkBuilder(state)
	date := checkDate(state, 2)
	lua.CheckType(state, 3, lua.TypeTable)
	var shares []restriction.MaskShare
	if err := decodeLua(state, 3, &shares); err != nil {
		lua.ArgumentError(state, 3, err.Error())
	}
	b.Restrict(date, restriction.OfMask(shares...), activitiesFrom(state, 4)...)
	return chain(state)
}

// policy:ci(date, correction, activities...)
func policyCi(state *lua.State) int {
	b := checkBuilder(state)
	date := checkDate(state, 2)
	b.Restrict(date, restriction.OfCiCorrection(lua.CheckNumber(state, 3)), activitiesFrom(state, 4)...)
	return chain(state)
}

// policy:closing_hours(date, from, to, activities...)
func policyClosingHours(state *lua.State) int {
	b := checkBuilder(state)
	date := checkDate(state, 2)
	from, to := lua.CheckInteger(state, 3), lua.CheckInteger(state, 4)
	b.Restrict(date, restriction.OfClosingHours(from, to), activitiesFrom(state, 5)...)
	return chain(state)
}

// policy:apply_to_rf(start, end, factor|function(date, fraction), activities...)
func policyApplyToRf(state *lua.State) int {
	b := checkBuilder(state)
	start, end := checkDate(state, 2), checkDate(state, 3)
	var fn policy.RfFunc
	switch state.TypeOf(4) {
	case lua.TypeNumber:
		factor := lua.CheckNumber(state, 4)
		fn = func(_ time.Time, f float64) float64 { return math.Min(1, f*factor) }
	case lua.TypeFunction:
		fn = func(date time.Time, f float64) float64 {
			state.PushValue(4)
			state.PushString(date.Format(calendar.DateLayout))
			state.PushNumber(f)
			state.Call(2, 1)
			v, ok := state.ToNumber(-1)
			state.Pop(1)
			if !ok {
				lua.Errorf(state, "apply_to_rf function must return a number")
			}
			return v
		}
	default:
		lua.ArgumentError(state, 4, "factor or function expected")
	}
	b.ApplyToRf(start, end, fn, activitiesFrom(state, 5)...)
	return chain(state)
}

// policy:apply(start, end, function(date, restriction) -> restriction, activities...)
func policyApply(state *lua.State) int {
	b := checkBuilder(state)
	start, end := checkDate(state, 2), checkDate(state, 3)
	lua.CheckType(state, 4, lua.TypeFunction)
	fn := func(date time.Time, r restriction.Restriction) restriction.Restriction {
		state.PushValue(4)
		state.PushString(date.Format(calendar.DateLayout))
		if err := pushEncoded(state, r); err != nil {
			lua.Errorf(state, "apply: %s", err.Error())
		}
		state.Call(2, 1)
		out, err := tableToRestriction(state, -1)
		state.Pop(1)
		if err != nil {
			lua.Errorf(state, "apply function must return a restriction: %s", err.Error())
		}
		return out
	}
	b.Apply(start, end, fn, activitiesFrom(state, 5)...)
	return chain(state)
}

func tableToRestriction(state *lua.State, index int) (restriction.Restriction, error) {
	var r restriction.Restriction
	if state.TypeOf(index) != lua.TypeTable {
		return r, fmt.Errorf("table expected")
	}
	err := decodeLua(state, index, &r)
	return r, err
}

// decodeLua converts the Lua value at index into out through its YAML form,
// so scripts use the same field names as scenario files.
func decodeLua(state *lua.State, index int, out any) error {
	b, err := yaml.Marshal(luaToGo(state, index))
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, out)
}

// pushEncoded pushes v as a Lua table keyed by its YAML field names.
func pushEncoded(state *lua.State, v any) error {
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	var generic map[string]any
	if err := yaml.Unmarshal(b, &generic); err != nil {
		return err
	}
	pushGo(state, generic)
	return nil
}

func pushGo(state *lua.State, v any) {
	switch v := v.(type) {
	case string:
		state.PushString(v)
	case int:
		state.PushInteger(v)
	case float64:
		state.PushNumber(v)
	case bool:
		state.PushBoolean(v)
	case []any:
		state.NewTable()
		for i, item := range v {
			pushGo(state, item)
			state.RawSetInt(-2, i+1)
		}
	case map[string]any:
		state.NewTable()
		for key, item := range v {
			pushGo(state, item)
			state.SetField(-2, key)
		}
	default:
		state.PushNil()
	}
}

func luaToGo(state *lua.State, index int) any {
	switch state.TypeOf(index) {
	case lua.TypeString:
		value, _ := state.ToString(index)
		return value
	case lua.TypeNumber:
		value, _ := state.ToNumber(index)
		if math.Mod(value, 1) == 0 {
			return int(value)
		}
		return value
	case lua.TypeBoolean:
		return state.ToBoolean(index)
	case lua.TypeTable:
		return tableToGo(state, index)
	default:
		return nil
	}
}

// tableToGo returns a sequence as a slice and anything else as a map.
func tableToGo(state *lua.State, index int) any {
	index = state.AbsIndex(index)
	isArray := true
	maxIndex, count := 0, 0
	state.PushNil()
	for state.Next(index) {
		if isArray {
			if idx, ok := state.ToInteger(-2); ok && state.TypeOf(-2) == lua.TypeNumber && idx > 0 {
				count++
				maxIndex = max(maxIndex, idx)
			} else {
				isArray = false
			}
		}
		state.Pop(1)
	}
	if isArray && count > 0 && maxIndex == count {
		out := make([]any, 0, maxIndex)
		for i := 1; i <= maxIndex; i++ {
			state.RawGetInt(index, i)
			out = append(out, luaToGo(state, -1))
			state.Pop(1)
		}
		return out
	}

	out := map[string]any{}
	state.PushNil()
	for state.Next(index) {
		if state.TypeOf(-2) == lua.TypeString {
			key, _ := state.ToString(-2)
			out[key] = luaToGo(state, -1)
		}
		state.Pop(1)
	}
	return out
}
