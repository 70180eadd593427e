package scheduler

import (
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestSpecHashRoundTrip(t *testing.T) {
	in := Spec{
		Pattern:   "0 9 * * 1-5",
		TZ:        "Europe/Berlin",
		Limit:     10,
		StartDate: time.UnixMilli(1_700_000_000_000),
		EndDate:   time.UnixMilli(1_800_000_000_000),
	}

	raw, err := msgpack.Marshal(in.fields())
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	if _, ok := m["every"]; ok {
		t.Error("zero every should be omitted")
	}

	// Redis hands every field back as a string.
	h := map[string]string{
		"pattern":   "0 9 * * 1-5",
		"tz":        "Europe/Berlin",
		"limit":     "10",
		"startDate": "1700000000000",
		"endDate":   "1800000000000",
	}
	out := specFromHash(h)
	if out.Pattern != in.Pattern || out.TZ != in.TZ || out.Limit != in.Limit {
		t.Errorf("specFromHash = %+v", out)
	}
	if !out.StartDate.Equal(in.StartDate) || !out.EndDate.Equal(in.EndDate) {
		t.Errorf("dates = %v, %v", out.StartDate, out.EndDate)
	}
}
