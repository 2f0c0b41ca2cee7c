package netatmo

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"time"

	chaidata "github.com/chai-project/chai-data-sources"
)

// measureChunkLimit is the maximum number of records the getmeasure endpoint
// returns in one call.
const measureChunkLimit = 1024

type historicEntry struct {
	at    time.Time
	value float64
}

// Historic returns the temperature for every interval between start and end
// for the thermostat or the valve. The period is aligned to the hour: start
// is rounded down and end rounded up to the nearest multiple of interval.
//
// The API bins readings at 30 minutes; values are carried forward between
// readings, so a response shaped --4---7---3-- fills out as 4444447777333.
func (c *Client) Historic(ctx context.Context, device DeviceType, start, end time.Time, interval chaidata.Minutes) ([]HistoricTemperature, error) {
	if !interval.Valid() {
		return nil, ErrInvalidInterval
	}
	if !end.After(start) {
		return nil, ErrEndBeforeStart
	}

	start = chaidata.RoundDown(start, interval)
	end = chaidata.RoundUp(end, interval)

	// Request whole 30-minute bins covering the period, split into chunks
	// the API can return in one call.
	chunkStart := chaidata.RoundDown(start, chaidata.Min30)
	chunkEnd := chaidata.RoundUp(end, chaidata.Min30)

	var entries []historicEntry
	for chunkStart.Before(chunkEnd) {
		next := chunkStart.Add(measureChunkLimit * chaidata.Min30.Duration())
		if next.After(chunkEnd) {
			next = chunkEnd
		}
		chunk, err := c.fetchMeasureChunk(ctx, device, chunkStart, next)
		if err != nil {
			return nil, err
		}
		entries = append(entries, chunk...)
		chunkStart = next
	}
	if len(entries) == 0 {
		return nil, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: ErrMeasurement}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].at.Before(entries[j].at) })

	// Forward-fill: each slot takes the latest reading before its end,
	// initially unknown values map forward from the first reading.
	step := interval.Duration()
	response := make([]HistoricTemperature, 0, int(end.Sub(start)/step))
	idx, previous := 0, entries[0].value
	for current := start; current.Before(end); current = current.Add(step) {
		slotEnd := current.Add(step)
		for idx < len(entries) && entries[idx].at.Before(slotEnd) {
			previous = entries[idx].value
			idx++
		}
		response = append(response, HistoricTemperature{Value: previous, Start: current, End: slotEnd})
	}
	return response, nil
}

func (c *Client) fetchMeasureChunk(ctx context.Context, device DeviceType, from, to time.Time) ([]historicEntry, error) {
	form := url.Values{}
	form.Set("device_id", c.topology.RelayID)
	form.Set("module_id", c.moduleID(device))
	form.Set("scale", "30min")
	form.Set("type", "Temperature")
	form.Set("limit", strconv.Itoa(measureChunkLimit))
	form.Set("date_begin", strconv.FormatInt(from.Unix(), 10))
	form.Set("date_end", strconv.FormatInt(to.Unix(), 10))
	form.Set("optimize", "false")

	var data measureResponse
	if err := c.call(ctx, "/getmeasure", form, &data); err != nil {
		return nil, err
	}

	entries := make([]historicEntry, 0, len(data.Body))
	for stamp, values := range data.Body {
		if len(values) != 1 {
			return nil, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: ErrMeasurement}
		}
		at, err := chaidata.ParseUnixSeconds(stamp)
		if err != nil {
			return nil, &chaidata.UpstreamError{Service: "netatmo", Op: "getmeasure", Err: err}
		}
		entries = append(entries, historicEntry{at: at, value: values[0]})
	}
	return entries, nil
}
