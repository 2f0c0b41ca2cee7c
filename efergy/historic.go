package efergy

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	chaidata "github.com/chai-project/chai-data-sources"
)

// energyhiveUTCOffset is the minute offset the getEnergy endpoint expects for
// the account's local time zone (UK installations, minutes west of UTC).
const energyhiveUTCOffset = -60

// HistoricSeries lazily produces the historic power values for a period, one
// rate-limited upstream call per sub-interval, in chronological order.
//
// The series is finite and aborts on the first failed sub-interval: once Next
// returns false, Err reports why. Reset rewinds to the start; values are
// recomputed, not memoized.
type HistoricSeries struct {
	meter *Meter
	start time.Time
	next  time.Time
	end   time.Time
	step  time.Duration
	cur   HistoricPower
	err   error
	done  bool
}

// Historic prepares retrieval of the per-interval energy use between start
// and end. The period is aligned to the hour: start is rounded down and end
// rounded up to the nearest multiple of interval.
//
// Use sparingly: every interval costs one API call, capped at 20 calls per
// second.
func (m *Meter) Historic(start, end time.Time, interval chaidata.Minutes) (*HistoricSeries, error) {
	if !interval.Valid() {
		return nil, ErrInvalidInterval
	}
	if !end.After(start) {
		return nil, ErrEndBeforeStart
	}
	aligned := chaidata.RoundDown(start, interval)
	return &HistoricSeries{
		meter: m,
		start: aligned,
		next:  aligned,
		end:   chaidata.RoundUp(end, interval),
		step:  interval.Duration(),
	}, nil
}

// Reset rewinds the series to its first sub-interval and clears any error.
// The next pass re-issues the upstream calls.
func (s *HistoricSeries) Reset() {
	s.next = s.start
	s.cur = HistoricPower{}
	s.err = nil
	s.done = false
}

// Next advances to the next sub-interval, blocking on the rate limiter and
// the upstream call. It returns false when the series is exhausted, a
// sub-interval call failed, or ctx was cancelled; check Err afterwards.
func (s *HistoricSeries) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	if !s.next.Before(s.end) {
		s.done = true
		return false
	}
	if err := s.meter.limiter.Acquire(ctx); err != nil {
		s.err = err
		return false
	}

	from, to := s.next, s.next.Add(s.step)
	value, err := s.meter.fetchHistoric(ctx, from, to)
	if err != nil {
		s.err = err
		return false
	}
	s.cur = HistoricPower{Value: value, Start: from, End: to}
	s.next = to
	return true
}

// Value returns the sub-interval read by the latest successful Next call.
func (s *HistoricSeries) Value() HistoricPower {
	return s.cur
}

// Err returns the error that terminated the series, or nil after a full run.
func (s *HistoricSeries) Err() error {
	return s.err
}

type historyResult struct {
	Sum      looseFloat `json:"sum"`
	Duration looseInt   `json:"duration"`
	Units    string     `json:"units"`
}

func (m *Meter) fetchHistoric(ctx context.Context, from, to time.Time) (float64, error) {
	const op = "getEnergy"
	params := url.Values{}
	params.Set("fromTime", strconv.FormatInt(from.Unix(), 10))
	params.Set("toTime", strconv.FormatInt(to.Unix(), 10))
	params.Set("period", "custom")
	params.Set("offset", strconv.Itoa(energyhiveUTCOffset))

	body, err := m.get(ctx, "/getEnergy", params)
	if err != nil {
		return 0, err
	}

	var result historyResult
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, m.classifyFailure(op, body)
	}
	if want := int(to.Sub(from).Seconds()); int(result.Duration) != want {
		m.logger.Debug("unable to get the entry between interval bounds",
			"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339),
			"duration", int(result.Duration))
		return 0, &chaidata.UpstreamError{Service: "efergy", Op: op, Err: ErrIntervalMismatch}
	}
	return float64(result.Sum), nil
}
