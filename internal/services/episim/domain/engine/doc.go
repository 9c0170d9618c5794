// Package engine runs the simulation one day at a time.
//
// Each day reads the registry as it stood at the end of the previous day.
// The components return plans (infections, transitions, doses, quarantines,
// imports) and the engine applies them in phase order once all are known,
// so no component sees another's changes from the same day. All random
// draws are addressed by (seed, day, person, purpose), which makes a run
// independent of worker count and lets a restored checkpoint continue
// exactly as the uninterrupted run would.
package engine
