package malgo

import "testing"

func TestMatchDevice(t *testing.T) {
	t.Parallel()

	names := []string{"Monitor of Built-in Audio", "USB PnP Sound Device", "Built-in Microphone"}
	tests := []struct {
		want string
		idx  int
	}{
		{want: "usb", idx: 1},
		{want: "  Built-in ", idx: 0},
		{want: "microphone", idx: 2},
		{want: "bluetooth", idx: -1},
		{want: "", idx: -1},
	}
	for _, tt := range tests {
		if got := matchDevice(names, tt.want); got != tt.idx {
			t.Errorf("matchDevice(%q) = %d, want %d", tt.want, got, tt.idx)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	t.Parallel()

	s := New(WithDevice("usb"), WithPeriod(10))
	if err := s.Stop(); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if s.periodMs != 10 || s.deviceName != "usb" {
		t.Errorf("options not applied: %+v", s)
	}
}

func TestDrainFaults(t *testing.T) {
	t.Parallel()

	s := New()
	s.faults <- errDeviceStopped
	s.drainFaults()
	select {
	case err := <-s.Faults():
		t.Errorf("stale fault survived drain: %v", err)
	default:
	}
	// Draining an empty channel must not block.
	s.drainFaults()
}
