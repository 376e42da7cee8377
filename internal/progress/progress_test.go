package progress

import "testing"

func TestEventFraction(t *testing.T) {
	tests := []struct {
		ev   Event
		want float64
	}{
		{Event{0, 4}, 0},
		{Event{1, 4}, 0.25},
		{Event{4, 4}, 1},
		{Event{5, 4}, 1},
		{Event{1, 0}, 0},
	}
	for _, tt := range tests {
		if got := tt.ev.Fraction(); got != tt.want {
			t.Errorf("%+v.Fraction() = %v, want %v", tt.ev, got, tt.want)
		}
	}
}

func TestReporterIsMonotonic(t *testing.T) {
	var got []Event
	r := NewReporter(func(ev Event) { got = append(got, ev) })

	r.Report(1, 3)
	r.Report(2, 3)
	r.Report(1, 3)
	r.Report(3, 3)

	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Fraction() < got[i-1].Fraction() {
			t.Errorf("progress regressed: %v", got)
		}
	}
}

func TestReporterNil(t *testing.T) {
	var r *Reporter
	r.Report(1, 1)
	NewReporter(nil).Report(1, 1)
}

func TestChannelKeepsLatest(t *testing.T) {
	publish, ch, done := Channel(1)

	publish(Event{1, 3})
	publish(Event{2, 3})
	publish(Event{3, 3})
	done()
	publish(Event{3, 3})

	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	if len(events) != 1 || events[0].Completed != 3 {
		t.Fatalf("expected only the latest event, got %v", events)
	}
}
