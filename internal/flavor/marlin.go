package flavor

import (
	"strconv"
	"strings"

	"github.com/robodone/reprap-engine/internal/command"
)

// NewMarlin builds the Marlin dialect on top of the generic baseline.
// Marlin identifies itself in the M115 FIRMWARE_NAME response and
// advertises capabilities via Cap: lines; once identified it requires
// an explicit ack for unrecognized commands and accepts M155/M27
// autoreporting.
func NewMarlin() *Flavor {
	f := NewGeneric()
	f.Name = "marlin"
	f.Identifier = func(name string, info map[string]string) bool {
		if strings.Contains(name, "Marlin") {
			return true
		}
		if v, ok := info["FIRMWARE_NAME"]; ok && strings.Contains(v, "Marlin") {
			return true
		}
		return false
	}
	f.Messages = append(f.Messages, Message{
		Name: "comm_ignore_ok",
		Match: func(line, lower string, st StateView) MatchResult {
			// Marlin echoes a spurious "ok" after "echo:busy: processing"
			// on some builds; treat the busy line itself as a no-op ack.
			if strings.HasPrefix(lower, "echo:busy") {
				return MatchResult{Matched: true}
			}
			return NoMatch
		},
	})
	f.Emit.Hello = func() *command.Command {
		return command.ToCommand("M115", "hello", nil)
	}
	f.Emit.AutoreportTemperature = func(intervalSeconds int) *command.Command {
		return command.ToCommand("M155 S"+strconv.Itoa(intervalSeconds), "autoreport_temperature", nil)
	}
	f.Emit.AutoreportSDStatus = func(intervalSeconds int) *command.Command {
		return command.ToCommand("M27 S"+strconv.Itoa(intervalSeconds), "autoreport_sd_status", nil)
	}
	f.UnknownRequiresAck = true
	f.ChecksumRequiringCommands = map[string]bool{
		"M110": true,
		"M112": true,
	}
	return f
}
