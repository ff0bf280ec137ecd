package protocol

import (
	"strconv"
	"strings"

	"github.com/robodone/reprap-engine/internal/flavor"
)

// onTransportLine is the push-style delivery hook installed on the
// transport (spec.md §6 "on_transport_data_pushed"). It is the entry
// point of the receive dispatcher (spec.md §4.H).
func (e *Engine) onTransportLine(raw string) {
	line := strings.TrimRight(strings.Map(dropControl, raw), " \t\r\n\x00")
	lower := strings.ToLower(line)

	e.extendDeadline(e.opts.CommunicationTimeout)

	f := e.currentFlavor()
	if e.dispatchTable(f.Messages, line, lower) {
		return
	}
	e.dispatchErrors(f.Errors, line, lower)
}

func dropControl(r rune) rune {
	if r == 0 {
		return -1
	}
	return r
}

// dispatchTable walks msgs in declaration order, stopping at the
// first match unless it asks to continue further.
func (e *Engine) dispatchTable(msgs []flavor.Message, line, lower string) bool {
	matchedAny := false
	for _, m := range msgs {
		res := m.Match(line, lower, e)
		if !res.Matched {
			continue
		}
		matchedAny = true
		var values flavor.ParsedValues
		if m.Parse != nil {
			v, ok := m.Parse(line, lower, e)
			if ok {
				values = v
			}
		}
		if m.Before != nil {
			if err := m.Before(values, e); err != nil {
				log.WithError(err).WithField("message", m.Name).Warn("before-hook failed, continuing")
			}
		}
		e.handleBuiltin(m.Name, line, values)
		if m.After != nil {
			if err := m.After(values, e); err != nil {
				log.WithError(err).WithField("message", m.Name).Warn("after-hook failed, continuing")
			}
		}
		if !res.ContinueFurther {
			return true
		}
	}
	return matchedAny
}

func (e *Engine) dispatchErrors(errs []flavor.Message, line, lower string) {
	for _, m := range errs {
		res := m.Match(line, lower, e)
		if !res.Matched {
			continue
		}
		e.handleError(m.Name, line)
		if !res.ContinueFurther {
			return
		}
	}
}

func (e *Engine) handleError(name, line string) {
	log.WithField("kind", name).WithField("line", line).Warn("firmware reported an error")
	switch name {
	case "error_linenumber":
		e.recordLastError("linenumber")
	case "error_checksum":
		e.recordLastError("checksum")
	default:
		e.recordLastError("communication")
	}
}

func (e *Engine) handleBuiltin(name, line string, values flavor.ParsedValues) {
	switch name {
	case "comm_ok":
		e.onOK()
	case "comm_wait":
		if e.State() == Processing {
			e.onOK()
		}
	case "comm_start":
		if e.State() == Connecting {
			e.onConnectingHandshake()
		}
	case "comm_resend":
		if n, ok := values["line_number"].(uint64); ok {
			e.onResendRequested(n)
		}
	case "comm_ignore_ok":
		// No-op line, e.g. Marlin's busy-processing echo.
	case "message_temperature":
		e.onTemperature(values)
	case "message_firmware_info":
		e.onFirmwareInfo(values)
	case "message_firmware_capability":
		e.onFirmwareCapability(values)
	case "message_sd_init_ok":
		e.stateMu.Lock()
		e.sd.available = true
		e.stateMu.Unlock()
	case "message_sd_init_fail":
		e.stateMu.Lock()
		e.sd.available = false
		e.stateMu.Unlock()
	case "message_sd_begin_file_list":
		e.stateMu.Lock()
		e.sd.listingActive = true
		e.sd.scratch = nil
		e.stateMu.Unlock()
	case "message_sd_entry":
		name, _ := values["name"].(string)
		size, _ := values["size"].(uint64)
		e.stateMu.Lock()
		e.sd.scratch = append(e.sd.scratch, SDEntry{Name: name, Size: size})
		e.stateMu.Unlock()
	case "message_sd_end_file_list":
		e.stateMu.Lock()
		e.sd.listingActive = false
		e.sd.files = e.sd.scratch
		files := append([]SDEntry(nil), e.sd.files...)
		e.stateMu.Unlock()
		if e.listener != nil {
			e.listener.OnProtocolSDFileList(files)
		}
	case "message_sd_file_opened":
		fname, _ := values["name"].(string)
		size, _ := values["size"].(uint64)
		if e.listener != nil {
			e.listener.OnProtocolFilePrintStarted(fname, int(size))
		}
	case "message_sd_done_printing":
		if e.listener != nil {
			e.listener.OnProtocolFilePrintDone()
		}
	case "message_sd_printing_byte":
		current, _ := values["current"].(uint64)
		total, _ := values["total"].(uint64)
		if e.listener != nil {
			e.listener.OnProtocolSDStatus(int(current), int(total))
		}
	}
}

// onOK implements the "ok" handler (spec.md §4.H).
func (e *Engine) onOK() {
	e.stateMu.Lock()
	if e.ignoreOK > 0 {
		e.ignoreOK--
		e.stateMu.Unlock()
		return
	}
	e.stateMu.Unlock()

	if e.State() == Connecting {
		e.onConnectingHandshake()
		return
	}

	e.credit.Set()
	e.longRunning.Store(false)

	e.stateMu.Lock()
	if e.hasFormerTool {
		e.currentTool = e.formerTool
		e.hasFormerTool = false
	}
	e.stateMu.Unlock()
	if e.heating.Load() {
		e.finishHeatup()
	}

	if !e.State().Operational() {
		return
	}
	if e.resendOutstanding() {
		e.pushNextResendEntry(false)
		return
	}
	e.kickContinueSending()
}

// onConnectingHandshake implements CONNECTING → CONNECTED (spec.md §4.J).
func (e *Engine) onConnectingHandshake() {
	e.setState(Connected)
	if setLine := e.currentFlavor().Emit.SetLine; setLine != nil {
		e.resetLineNumbering(0)
		e.enqueueSend(setLine(0), "", 0)
	}
	e.credit.Set()
}

// resetLineNumbering implements M110's effect (spec.md I1): it
// atomically clears history and the resend cursor and sets the next
// line number.
func (e *Engine) resetLineNumbering(n uint64) {
	e.lineMu.Lock()
	e.currentLine = n
	e.history.Clear()
	e.lineMu.Unlock()
	e.abortResend()
}

// onTemperature applies a parsed temperature report, updating only the
// half (actual and/or target) the firmware actually reported and
// preserving the other (spec.md §4.H).
func (e *Engine) onTemperature(values flavor.ParsedValues) {
	if values == nil {
		return
	}
	e.stateMu.Lock()
	for key, v := range values {
		if strings.HasSuffix(key, "_target") {
			continue
		}
		fv, ok := v.(float64)
		if !ok {
			continue
		}
		toolID := temperatureToolID(key)
		t := e.temperatures[toolID]
		actual := fv
		t.Actual = &actual
		e.temperatures[toolID] = t
	}
	for key, v := range values {
		baseKey, ok := strings.CutSuffix(key, "_target")
		if !ok {
			continue
		}
		fv, ok := v.(float64)
		if !ok {
			continue
		}
		toolID := temperatureToolID(baseKey)
		t := e.temperatures[toolID]
		target := fv
		t.Target = &target
		e.temperatures[toolID] = t
	}
	snapshot := make(map[string]Temperature, len(e.temperatures))
	for k, v := range e.temperatures {
		snapshot[k] = v
	}
	e.stateMu.Unlock()
	if e.listener != nil {
		e.listener.OnProtocolTemperature(snapshot)
	}
}

func temperatureToolID(key string) string {
	switch {
	case key == "B":
		return "bed"
	case strings.HasPrefix(key, "T"):
		if key == "T" {
			return "tool0"
		}
		if n, err := strconv.Atoi(key[1:]); err == nil {
			return "tool" + strconv.Itoa(n)
		}
	}
	return key
}

func (e *Engine) onFirmwareInfo(values flavor.ParsedValues) {
	e.stateMu.Lock()
	alreadyIdentified := e.firmware.identified
	e.stateMu.Unlock()
	if alreadyIdentified {
		return
	}
	info := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			info[k] = s
		}
	}
	name := info["FIRMWARE_NAME"]
	matched := e.registry.Identify(name, info)
	if matched != nil {
		e.flavorMu.Lock()
		e.active = matched
		e.flavorMu.Unlock()
		log.WithField("flavor", matched.Name).Info("firmware identified")
	}
	e.stateMu.Lock()
	e.firmware.identified = true
	e.firmware.name = name
	e.firmware.info = info
	e.stateMu.Unlock()
}

func (e *Engine) onFirmwareCapability(values flavor.ParsedValues) {
	name, _ := values["name"].(string)
	value, _ := values["value"].(string)
	enabled := value == "1"

	e.stateMu.Lock()
	if e.firmware.capabilities == nil {
		e.firmware.capabilities = make(map[string]bool)
	}
	e.firmware.capabilities[name] = enabled
	e.stateMu.Unlock()

	if !enabled {
		return
	}
	f := e.currentFlavor()
	switch name {
	case "AUTOREPORT_TEMP":
		if f.Emit.AutoreportTemperature != nil {
			e.enqueueSend(f.Emit.AutoreportTemperature(2), "autoreport_temperature", 0)
		}
	case "AUTOREPORT_SD_STATUS":
		if f.Emit.AutoreportSDStatus != nil {
			e.enqueueSend(f.Emit.AutoreportSDStatus(2), "autoreport_sd_status", 0)
		}
	}
}
