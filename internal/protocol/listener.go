package protocol

// Temperature is one tool's or the bed's last-known actual/target
// reading; either half may be unset if the firmware has not reported
// it yet (spec.md §3 "preserving any unspecified half").
type Temperature struct {
	Actual *float64
	Target *float64
}

// SDEntry is one file reported during an SD card listing.
type SDEntry struct {
	Name string
	Size uint64
}

// Listener is the set of notifications the engine publishes
// (spec.md §6 "Listener contract"), plus a generic OnProtocolEvent
// hook for the gcode-to-event table (e.g. M600 filament changes)
// that the original source drives off tagged queuing-phase commands.
type Listener interface {
	OnProtocolState(old, new State)
	OnProtocolTemperature(temps map[string]Temperature)
	OnProtocolSDFileList(files []SDEntry)
	OnProtocolFilePrintStarted(name string, size int)
	OnProtocolFilePrintDone()
	OnProtocolSDStatus(current, total int)
	OnProtocolLog(msg string)
	OnProtocolPositionZUpdate(z float64)
	OnProtocolEvent(event string, payload map[string]interface{})
}

// BaseListener implements every Listener method as a no-op so callers
// only need to override what they care about.
type BaseListener struct{}

func (BaseListener) OnProtocolState(old, new State)                        {}
func (BaseListener) OnProtocolTemperature(temps map[string]Temperature)    {}
func (BaseListener) OnProtocolSDFileList(files []SDEntry)                  {}
func (BaseListener) OnProtocolFilePrintStarted(name string, size int)      {}
func (BaseListener) OnProtocolFilePrintDone()                              {}
func (BaseListener) OnProtocolSDStatus(current, total int)                {}
func (BaseListener) OnProtocolLog(msg string)                              {}
func (BaseListener) OnProtocolPositionZUpdate(z float64)                  {}
func (BaseListener) OnProtocolEvent(event string, payload map[string]interface{}) {}

// gcodeToEvent maps a handful of gcode heads to event names emitted
// via OnProtocolEvent when trigger_events is set, mirroring the
// original's GCODE_TO_EVENT table.
var gcodeToEvent = map[string]string{
	"M0":   "print_paused",
	"M1":   "print_paused",
	"M25":  "print_paused",
	"M226": "waiting",
	"M600": "filament_change",
}
