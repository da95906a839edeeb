package stream

import (
	"errors"
	"fmt"
	"testing"

	"github.com/teslashibe/go-vista/pkg/detection"
)

func payload(seq int, objects string) []byte {
	return []byte(fmt.Sprintf(`{"sequence":%d,"objects":[%s]}`, seq, objects))
}

const person = `{"id":1,"label":"person","confidence":0.9,"bbox":[10,10,110,310]}`

func fixedSize() (int, int) { return 640, 480 }

func TestHandleAcceptsAndEnriches(t *testing.T) {
	d := NewDecoder(fixedSize)
	b, err := d.Handle(1, payload(3, person))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if b.Sequence != 3 || b.Epoch != 1 || len(b.Records) != 1 {
		t.Fatalf("batch = %+v", b)
	}
	r := b.Records[0]
	if r.Position != detection.PositionLeft || r.Distance != "very near" {
		t.Errorf("record not enriched: %+v", r)
	}
	if latest, ok := d.Latest(); !ok || latest.Sequence != 3 {
		t.Errorf("Latest() = %+v, %v", latest, ok)
	}
}

func TestOutOfOrderBatchIsDiscarded(t *testing.T) {
	d := NewDecoder(fixedSize)
	var published []uint64
	d.Subscribe(func(b detection.Batch) { published = append(published, b.Sequence) })

	for _, seq := range []int{1, 2, 7, 5, 7, 8} {
		d.HandleMessage(1, payload(seq, person))
	}

	want := []uint64{1, 2, 7, 7, 8}
	if fmt.Sprint(published) != fmt.Sprint(want) {
		t.Errorf("published = %v, want %v", published, want)
	}
	if s := d.Stats(); s.Stale != 1 || s.Accepted != 5 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestSequenceFiveAfterSevenKeepsSeven(t *testing.T) {
	d := NewDecoder(nil)
	d.HandleMessage(1, payload(7, ""))
	_, err := d.Handle(1, payload(5, ""))
	if !errors.Is(err, ErrStale) {
		t.Fatalf("Handle(5) error = %v, want ErrStale", err)
	}
	if b, _ := d.Latest(); b.Sequence != 7 {
		t.Errorf("Latest().Sequence = %d, want 7", b.Sequence)
	}
}

func TestEqualSequenceReplacesLatest(t *testing.T) {
	d := NewDecoder(fixedSize)
	d.HandleMessage(1, payload(7, ""))
	b, err := d.Handle(1, payload(7, person))
	if err != nil {
		t.Fatalf("Handle(7) again error = %v, want accepted", err)
	}
	if len(b.Records) != 1 {
		t.Errorf("records = %d, want 1", len(b.Records))
	}
	if latest, _ := d.Latest(); len(latest.Records) != 1 {
		t.Errorf("Latest() kept the earlier batch: %+v", latest)
	}
}

func TestNewEpochRestartsSequence(t *testing.T) {
	d := NewDecoder(nil)
	d.HandleMessage(1, payload(40, ""))
	b, err := d.Handle(2, payload(1, ""))
	if err != nil {
		t.Fatalf("Handle() on new epoch error = %v", err)
	}
	if b.Epoch != 2 || b.Sequence != 1 {
		t.Errorf("batch = %+v", b)
	}
	if _, err := d.Handle(1, payload(41, "")); !errors.Is(err, ErrStale) {
		t.Errorf("late batch from old epoch: %v", err)
	}
}

func TestInvalidPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"sequence":`},
		{"missing sequence", `{"objects":[]}`},
		{"inverted box", string(payload(1, `{"id":1,"label":"cup","confidence":0.5,"bbox":[50,10,20,30]}`))},
		{"box outside frame", string(payload(1, `{"id":1,"label":"cup","confidence":0.5,"bbox":[600,10,700,30]}`))},
		{"bad confidence", string(payload(1, `{"id":1,"label":"cup","confidence":7,"bbox":[1,1,2,2]}`))},
		{"short bbox", string(payload(1, `{"id":1,"label":"cup","confidence":0.5,"bbox":[1,1,2]}`))},
		{"missing id", string(payload(1, `{"label":"cup","confidence":0.5,"bbox":[1,1,2,2]}`))},
		{"backend error", `{"sequence":1,"objects":[],"error":"model not loaded"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(fixedSize)
			var calls int
			d.Subscribe(func(detection.Batch) { calls++ })

			_, err := d.Handle(1, []byte(tt.payload))
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("Handle() error = %v, want ErrInvalidPayload", err)
			}
			if calls != 0 {
				t.Error("invalid payload was published")
			}
			if _, ok := d.Latest(); ok {
				t.Error("invalid payload became latest")
			}
			if d.Stats().Invalid != 1 {
				t.Errorf("Invalid = %d", d.Stats().Invalid)
			}
		})
	}
}

func TestBackendFrameSizeWins(t *testing.T) {
	d := NewDecoder(func() (int, int) { return 100, 100 })
	b, err := d.Handle(1, []byte(`{"sequence":1,"width":640,"height":480,"objects":[`+person+`]}`))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if b.FrameWidth != 640 || b.FrameHeight != 480 {
		t.Errorf("frame size = %dx%d", b.FrameWidth, b.FrameHeight)
	}
}

func TestSubscribersInOrder(t *testing.T) {
	d := NewDecoder(nil)
	var order []string
	d.Subscribe(func(detection.Batch) { order = append(order, "overlay") })
	d.Subscribe(func(detection.Batch) { order = append(order, "navigation") })
	d.HandleMessage(1, payload(1, ""))
	if fmt.Sprint(order) != "[overlay navigation]" {
		t.Errorf("order = %v", order)
	}
}

func TestReset(t *testing.T) {
	d := NewDecoder(nil)
	d.HandleMessage(1, payload(9, ""))
	d.Reset()
	if _, ok := d.Latest(); ok {
		t.Error("Latest() after Reset should be empty")
	}
	if _, err := d.Handle(1, payload(1, "")); err != nil {
		t.Errorf("Handle() after Reset = %v", err)
	}
}
