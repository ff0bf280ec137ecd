package protocol

import (
	"strconv"
	"time"

	"github.com/robodone/reprap-engine/internal/command"
	"github.com/robodone/reprap-engine/internal/job"
)

// registerBuiltinPhaseHandlers wires the recognized G-code side
// effects (spec.md §6 "Recognized G-code side effects tracked") into
// the phase pipeline. Nothing here is reflection-driven: every hook
// is attached explicitly, by name, at construction time.
func registerBuiltinPhaseHandlers(e *Engine) {
	e.phases.RegisterQueuingCatchAll(func(cmd *command.Command) ([]*command.Command, error) {
		if cmd.Kind() == command.KindAtCommand {
			e.handleAtCommand(cmd)
			return nil, nil
		}
		if cmd.Kind() != command.KindGcode {
			return []*command.Command{cmd}, nil
		}
		if e.triggerEvts.Load() && e.listener != nil {
			if ev, ok := gcodeToEvent[gcodeHead(cmd)]; ok {
				e.listener.OnProtocolEvent(ev, map[string]interface{}{"command": cmd.Raw()})
			}
		}
		switch gcodeHead(cmd) {
		case "M112":
			// M112 bypasses the queue entirely (spec.md §4.I); a caller
			// that routed it through the normal queue still gets the
			// fast path instead of a second, queued stop.
			go e.EmergencyStop()
			return nil, nil
		case "M0", "M1":
			e.pauseFromQueuing()
			return nil, nil
		case "M25":
			e.pauseIfPrintingNonSD()
			// M25 still goes to the firmware to halt the SD stream itself.
			return []*command.Command{cmd}, nil
		case "M110":
			if n, ok := cmd.Param('N'); ok {
				if v, err := parseUintParam(n); err == nil {
					e.resetLineNumbering(v)
				}
			}
		}
		if cmd.Code() == 'T' {
			e.stateMu.Lock()
			e.currentTool = "tool" + strconv.Itoa(cmd.Number())
			e.stateMu.Unlock()
		}
		if (cmd.Code() == 'G') && (cmd.Number() == 0 || cmd.Number() == 1) {
			if z, ok := cmd.ParamFloat('Z'); ok && e.listener != nil {
				e.listener.OnProtocolPositionZUpdate(z)
			}
		}
		if cmd.Code() == 'M' && (cmd.Number() == 104 || cmd.Number() == 140) {
			e.recordTargetTemp(cmd)
		}
		if cmd.Code() == 'M' && (cmd.Number() == 109 || cmd.Number() == 190 || cmd.Number() == 116) {
			e.recordTargetTemp(cmd)
			e.heating.Store(true)
			e.longRunning.Store(true)
			e.stateMu.Lock()
			if e.heatingStart.IsZero() {
				e.heatingStart = time.Now()
			}
			e.stateMu.Unlock()
		}
		if cmd.Code() == 'M' && cmd.Number() == 155 {
			e.stateMu.Lock()
			e.sd.autoreport = true
			e.stateMu.Unlock()
		}
		return []*command.Command{cmd}, nil
	})

	e.phases.RegisterSendingCatchAll(func(cmd *command.Command) (*command.Command, error) {
		if cmd.Code() == 'G' && cmd.Number() == 4 {
			if ms, ok := cmd.ParamFloat('P'); ok {
				e.extendDeadlineBy(time.Duration(ms) * time.Millisecond)
			} else if s, ok := cmd.ParamFloat('S'); ok {
				e.extendDeadlineBy(time.Duration(s * float64(time.Second)))
			}
		}
		return cmd, nil
	})
}

func gcodeHead(cmd *command.Command) string {
	return string(cmd.Code()) + strconv.Itoa(cmd.Number())
}

func parseUintParam(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

func parseFloatParam(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func (e *Engine) recordTargetTemp(cmd *command.Command) {
	toolID := "tool0"
	if cmd.Number() == 140 || cmd.Number() == 190 {
		toolID = "bed"
	}
	s, ok := cmd.Param('S')
	if !ok {
		s, ok = cmd.Param('R')
	}
	if !ok {
		return
	}
	v, err := parseFloatParam(s)
	if err != nil {
		return
	}
	e.stateMu.Lock()
	t := e.temperatures[toolID]
	target := v
	t.Target = &target
	e.temperatures[toolID] = t
	e.stateMu.Unlock()
}

// handleAtCommand implements the recognized at-commands (spec.md §6):
// @pause, @cancel/@abort and @resume trigger the corresponding job
// transition, unless the command is tagged as arising from the very
// script that transition would run (avoiding a script-triggered loop),
// following the original reprap protocol's _atcommand_*_queuing split.
func (e *Engine) handleAtCommand(cmd *command.Command) {
	switch cmd.Name() {
	case "pause":
		if !cmd.HasTag("script:afterPrintPaused") {
			e.Pause()
		}
	case "cancel", "abort":
		if !cmd.HasTag("script:afterPrintCancelled") {
			e.Cancel()
		}
	case "resume":
		if !cmd.HasTag("script:beforePrintResumed") {
			e.Resume()
		}
	}
}

func (e *Engine) pauseFromQueuing() {
	if e.State() == Processing {
		e.Pause()
	}
}

func (e *Engine) pauseIfPrintingNonSD() {
	e.jobMu.Lock()
	_, isSD := e.job.(*job.SDFileJob)
	e.jobMu.Unlock()
	if !isSD && e.State() == Processing {
		e.Pause()
	}
}
