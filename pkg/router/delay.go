package router

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
)

// Query parameters read by /slow and /conclose.
const (
	PARAM_DELAY        = "delay"
	PARAM_RANDOM_DELAY = "randomdelay"
)

// DelayKind tells how a request's delay was chosen.
type DelayKind int

const (
	DelayNone DelayKind = iota
	DelayFixed
	DelayRandom
)

func (k DelayKind) String() string {
	switch k {
	case DelayFixed:
		return "fixed"
	case DelayRandom:
		return "random"
	default:
		return "none"
	}
}

// DelaySpec is the delay a single request asked for.
// Requested is the raw query value (the fixed delay or the random upper bound),
// Seconds is the delay actually applied.
type DelaySpec struct {
	Kind      DelayKind
	Requested int
	Seconds   int
}

// Message is the text /slow reports for this delay. A random delay reports nothing.
func (d DelaySpec) Message() string {
	if d.Kind == DelayRandom {
		return ""
	}
	return fmt.Sprintf("The delay is set to : %d\r\n", d.Seconds)
}

// Duration is the applied delay measured in units of unit.
func (d DelaySpec) Duration(unit time.Duration) time.Duration {
	return time.Duration(d.Seconds) * unit
}

// Picker returns a uniformly distributed integer in [0, n). n is always > 0.
type Picker func(n int) int

func defaultPicker(n int) int {
	return rand.IntN(n)
}

// ResolveDelay reads delay and randomdelay from the query args. randomdelay wins
// whenever it is present; for repeated keys the last value counts.
func ResolveDelay(args *fasthttp.Args, pick Picker) (DelaySpec, error) {
	if pick == nil {
		pick = defaultPicker
	}

	if raw, ok := lastValue(args, PARAM_RANDOM_DELAY); ok {
		upper, err := parseSeconds(PARAM_RANDOM_DELAY, raw)
		if err != nil {
			return DelaySpec{}, err
		}
		plan := DelaySpec{Kind: DelayRandom, Requested: upper}
		if upper > 0 {
			plan.Seconds = pick(upper)
		}
		return plan, nil
	}

	if raw, ok := lastValue(args, PARAM_DELAY); ok {
		secs, err := parseSeconds(PARAM_DELAY, raw)
		if err != nil {
			return DelaySpec{}, err
		}
		return DelaySpec{Kind: DelayFixed, Requested: secs, Seconds: secs}, nil
	}

	return DelaySpec{Kind: DelayNone}, nil
}

func lastValue(args *fasthttp.Args, key string) (string, bool) {
	values := args.PeekMulti(key)
	if len(values) == 0 {
		return "", false
	}
	return string(values[len(values)-1]), true
}

func parseSeconds(name, raw string) (int, error) {
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, &InvalidParameterError{Name: name, Value: raw, Err: err}
	}
	if n < 0 {
		return 0, &InvalidParameterError{Name: name, Value: raw, Err: ErrNegativeDelay}
	}
	return int(n), nil
}

// Sleep waits for d or until ctx is done. It reports whether the full delay elapsed.
func Sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
