// Package pid runs one closed-loop controller per enabled configuration
// entry. The control law lives in Step, a pure fixed-step function over the
// controller's private state; Loop schedules it on the configured interval
// and routes the output through the value pipeline.
package pid

import (
	"math"

	"scada-core/internal/model"
)

// deadZoneDecay bleeds the integral accumulator toward zero while the error
// sits inside the dead zone, so a stale bias cannot stick.
const deadZoneDecay = 0.95

// State is the integrator and filter memory owned exclusively by one
// controller's engine instance.
type State struct {
	integral      float64
	prevErr       float64
	filteredDeriv float64
	prevOutput    float64
	hasOutput     bool
}

// LastOutput reports the most recently applied output, if any tick has run.
func (s *State) LastOutput() (float64, bool) {
	return s.prevOutput, s.hasOutput
}

// Step advances the control law by one interval against the measured input
// and returns the output to apply.
func Step(c *model.PidController, s *State, measured float64) float64 {
	dt := c.Interval.Seconds()

	if !c.Auto {
		// Manual mode bypasses the law entirely. The integrator is zeroed
		// so the next auto transition starts clean instead of unwinding a
		// stale accumulation.
		s.integral = 0
		s.prevErr = 0
		s.filteredDeriv = 0
		s.prevOutput = c.ManualValue
		s.hasOutput = true
		return c.ManualValue
	}

	err := c.SetPoint - measured

	if math.Abs(err) < c.DeadZone {
		// Inside the dead zone P and D see zero error; the integral decays
		// toward zero rather than freezing.
		err = 0
		s.integral *= deadZoneDecay
	} else {
		s.integral += err * dt
	}

	// Anti-windup: the integral term alone may never exceed the output
	// bounds.
	if c.Ki != 0 {
		if term := c.Ki * s.integral; term > c.OutputMax {
			s.integral = c.OutputMax / c.Ki
		} else if term := c.Ki * s.integral; term < c.OutputMin {
			s.integral = c.OutputMin / c.Ki
		}
	}

	// Derivative on the low-pass-filtered error delta. Alpha near 1 trusts
	// history; alpha 0 passes the raw delta through.
	rawDeriv := 0.0
	if dt > 0 {
		rawDeriv = (err - s.prevErr) / dt
	}
	s.filteredDeriv = c.DerivativeAlpha*s.filteredDeriv + (1-c.DerivativeAlpha)*rawDeriv
	s.prevErr = err

	out := c.Kp*err + c.Ki*s.integral + c.Kd*s.filteredDeriv + c.FeedForward
	out = clamp(out, c.OutputMin, c.OutputMax)

	// Slew-rate limit against the previously applied output.
	if c.MaxSlewRate > 0 && s.hasOutput {
		maxStep := c.MaxSlewRate * dt
		out = clamp(out, s.prevOutput-maxStep, s.prevOutput+maxStep)
	}

	s.prevOutput = out
	s.hasOutput = true
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
