package flavor

import (
	"strconv"
	"strings"

	"github.com/robodone/reprap-engine/internal/command"
)

// hasAnyPrefix reports whether s starts with any of prefixes.
func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// NewGeneric builds the baseline flavor every firmware understands.
// Its matchers follow the plain RepRap dialect: no capability
// negotiation, no autoreport, and no command that always requires a
// checksum (the sending loop still checksums G-code while a job is
// processing).
func NewGeneric() *Flavor {
	return &Flavor{
		Name: "generic",
		Messages: []Message{
			{
				// Checked first, and always lets dispatch continue: a
				// Marlin "ok" reply to M105 carries its temperature
				// payload on the very same line ("ok T:200.0 /200.0
				// B:60.0 /60.0"), so comm_ok still needs its turn below.
				Name: "message_temperature",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.Contains(line, "T:") || strings.Contains(line, "B:") {
						return MatchResult{Matched: true, ContinueFurther: true}
					}
					return NoMatch
				},
				Parse: parseTemperatureLine,
			},
			{
				Name: "comm_ok",
				Match: func(line, lower string, st StateView) MatchResult {
					if line == "ok" || strings.HasPrefix(line, "ok ") || strings.HasPrefix(line, "ok\t") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
			{
				Name: "comm_start",
				Match: func(line, lower string, st StateView) MatchResult {
					if lower == "start" {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
			{
				Name: "comm_wait",
				Match: func(line, lower string, st StateView) MatchResult {
					if lower == "wait" {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
			{
				Name: "comm_resend",
				Match: func(line, lower string, st StateView) MatchResult {
					if hasAnyPrefix(line, "Resend:", "resend:") || hasAnyPrefix(lower, "rs ", "rs:") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
				Parse: parseResendLineNumber,
			},
			{
				Name: "message_firmware_info",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.Contains(line, "FIRMWARE_NAME:") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
				Parse: parseFirmwareInfoLine,
			},
			{
				Name: "message_firmware_capability",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.HasPrefix(line, "Cap:") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
				Parse: parseCapabilityLine,
			},
			{
				Name: "message_sd_init_ok",
				Match: literalMatch("SD card ok"),
			},
			{
				Name: "message_sd_init_fail",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.Contains(lower, "sd init fail") || strings.Contains(lower, "volume.init failed") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
			{
				Name:  "message_sd_begin_file_list",
				Match: prefixMatch("Begin file list"),
			},
			{
				Name:  "message_sd_end_file_list",
				Match: prefixMatch("End file list"),
			},
			{
				Name: "message_sd_entry",
				Match: func(line, lower string, st StateView) MatchResult {
					if st != nil && st.SDListingActive() {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
				Parse: parseSDEntryLine,
			},
			{
				Name:  "message_sd_file_opened",
				Match: prefixMatch("File opened:"),
				Parse: parseSDFileOpenedLine,
			},
			{
				Name:  "message_sd_done_printing",
				Match: prefixMatch("Done printing file"),
			},
			{
				Name:  "message_sd_printing_byte",
				Match: prefixMatch("SD printing byte"),
				Parse: parseSDPrintingByteLine,
			},
		},
		Errors: []Message{
			{
				Name: "error_linenumber",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.Contains(lower, "line number") || strings.Contains(lower, "expected line") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
			{
				Name: "error_checksum",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.Contains(lower, "checksum mismatch") || strings.Contains(lower, "bad checksum") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
			{
				Name: "error_communication",
				Match: func(line, lower string, st StateView) MatchResult {
					if strings.HasPrefix(line, "Error:") || strings.HasPrefix(line, "!!") {
						return MatchResult{Matched: true}
					}
					return NoMatch
				},
			},
		},
		Emit: Emitters{
			SetLine: func(n uint64) *command.Command {
				return command.ToCommand("M110 N"+strconv.FormatUint(n, 10), "set_line", nil)
			},
			GetTemp: func() *command.Command {
				return command.ToCommand("M105", "temperature", nil)
			},
			EmergencyStop: func() *command.Command {
				return command.ToCommand("M112", "emergency_stop", nil)
			},
			Home: func(axes string) *command.Command {
				line := "G28"
				if axes != "" {
					line += " " + axes
				}
				return command.ToCommand(line, "home", nil)
			},
			Move: func(axes map[byte]float64, feedrate *float64) *command.Command {
				return buildMoveCommand(axes, feedrate)
			},
		},
		LongRunningCommands: map[string]bool{
			"G4": true, "G28": true, "G29": true,
			"M109": true, "M190": true, "M116": true, "M400": true,
		},
		ChecksumRequiringCommands: map[string]bool{},
	}
}

func literalMatch(want string) Matcher {
	return func(line, lower string, st StateView) MatchResult {
		if line == want {
			return MatchResult{Matched: true}
		}
		return NoMatch
	}
}

func prefixMatch(prefix string) Matcher {
	return func(line, lower string, st StateView) MatchResult {
		if strings.HasPrefix(line, prefix) {
			return MatchResult{Matched: true}
		}
		return NoMatch
	}
}

func parseResendLineNumber(line, lower string, st StateView) (ParsedValues, bool) {
	idx := strings.IndexAny(line, ":")
	if idx < 0 {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, false
		}
		n, err := strconv.ParseUint(strings.TrimSpace(fields[1]), 10, 64)
		if err != nil {
			return nil, false
		}
		return ParsedValues{"line_number": n}, true
	}
	rest := strings.TrimSpace(line[idx+1:])
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return nil, false
	}
	return ParsedValues{"line_number": n}, true
}

// parseTemperatureLine extracts both halves of each "T:<actual>
// /<target>" pair. The actual reading is stored under the tool key
// itself (e.g. "T", "B", "T0"); when a target is present it is stored
// under "<key>_target" so a caller can update only the half that was
// reported and preserve the other (spec.md §4.H).
func parseTemperatureLine(line, lower string, st StateView) (ParsedValues, bool) {
	values := ParsedValues{}
	fields := strings.Fields(line)
	lastKey := ""
	for _, f := range fields {
		if strings.HasPrefix(f, "/") {
			// Target written as a separate field: "T:200.0 /210.0".
			if lastKey != "" {
				if target, err := strconv.ParseFloat(f[1:], 64); err == nil {
					values[lastKey+"_target"] = target
				}
			}
			lastKey = ""
			continue
		}
		lastKey = ""
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key, val := parts[0], parts[1]
		halves := strings.SplitN(val, "/", 2)
		actual, err := strconv.ParseFloat(halves[0], 64)
		if err != nil {
			continue
		}
		values[key] = actual
		lastKey = key
		if len(halves) == 2 {
			if target, err := strconv.ParseFloat(halves[1], 64); err == nil {
				values[key+"_target"] = target
			}
		}
	}
	if len(values) == 0 {
		return nil, false
	}
	return values, true
}

func parseFirmwareInfoLine(line, lower string, st StateView) (ParsedValues, bool) {
	values := ParsedValues{}
	for _, pair := range strings.Split(line, " ") {
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		values[kv[0]] = kv[1]
	}
	if len(values) == 0 {
		return nil, false
	}
	return values, true
}

func parseCapabilityLine(line, lower string, st StateView) (ParsedValues, bool) {
	rest := strings.TrimPrefix(line, "Cap:")
	parts := strings.SplitN(rest, ":", 2)
	if len(parts) != 2 {
		return nil, false
	}
	return ParsedValues{"name": parts[0], "value": parts[1]}, true
}

func parseSDEntryLine(line, lower string, st StateView) (ParsedValues, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, false
	}
	values := ParsedValues{"name": fields[0]}
	if len(fields) > 1 {
		if size, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
			values["size"] = size
		}
	}
	return values, true
}

func parseSDFileOpenedLine(line, lower string, st StateView) (ParsedValues, bool) {
	rest := strings.TrimPrefix(line, "File opened:")
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, false
	}
	values := ParsedValues{"name": fields[0]}
	if len(fields) > 1 {
		if size, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "Size:"), 10, 64); err == nil {
			values["size"] = size
		}
	}
	return values, true
}

func parseSDPrintingByteLine(line, lower string, st StateView) (ParsedValues, bool) {
	rest := strings.TrimPrefix(line, "SD printing byte")
	parts := strings.SplitN(strings.TrimSpace(rest), "/", 2)
	if len(parts) != 2 {
		return nil, false
	}
	current, err1 := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	total, err2 := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 64)
	if err1 != nil || err2 != nil {
		return nil, false
	}
	return ParsedValues{"current": current, "total": total}, true
}

func buildMoveCommand(axes map[byte]float64, feedrate *float64) *command.Command {
	var b strings.Builder
	b.WriteString("G1")
	for _, letter := range []byte{'X', 'Y', 'Z', 'E'} {
		if v, ok := axes[letter]; ok {
			b.WriteByte(' ')
			b.WriteByte(letter)
			b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	if feedrate != nil {
		b.WriteString(" F")
		b.WriteString(strconv.FormatFloat(*feedrate, 'f', -1, 64))
	}
	return command.ToCommand(b.String(), "move", nil)
}
