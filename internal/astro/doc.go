// Package astro computes solar and lunar events for a configured
// location: dawn, sunrise, solar noon, sunset, dusk, golden hour, sun
// position, and moon phase.
//
// The trigger scheduler uses EventTime to derive daily fire times for
// astronomical triggers; the condition evaluator resolves the literal
// values "sunrise" and "sunset" in time conditions through the same
// call. Solar times are cached per calendar day; everything else is
// computed on demand.
//
// Computation is delegated to github.com/sj14/astral, a port of the
// astral solar-position library. At extreme latitudes some events do not
// occur on some dates; these surface as ErrCalculation and dependent
// triggers are skipped for that day rather than failing the engine.
package astro
