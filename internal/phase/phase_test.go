package phase

import (
	"errors"
	"testing"

	"github.com/robodone/reprap-engine/internal/command"
)

func TestQueuingFanOut(t *testing.T) {
	p := New()
	p.RegisterQueuing("G28", func(cmd *command.Command) ([]*command.Command, error) {
		return []*command.Command{
			command.ToCommand("M400", "", nil),
			cmd,
		}, nil
	})
	out := p.RunQueuing(command.ToCommand("G28", "", nil))
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0].Raw() != "M400" {
		t.Fatalf("out[0] = %q, want M400", out[0].Raw())
	}
}

func TestQueuingHookErrorPassesThrough(t *testing.T) {
	p := New()
	cmd := command.ToCommand("G28", "", nil)
	p.RegisterQueuing("G28", func(c *command.Command) ([]*command.Command, error) {
		return nil, errors.New("boom")
	})
	out := p.RunQueuing(cmd)
	if len(out) != 1 || out[0] != cmd {
		t.Fatalf("expected original command to pass through on hook error, got %+v", out)
	}
}

func TestCatchAllRunsBeforeNamed(t *testing.T) {
	p := New()
	var order []string
	p.RegisterQueuedCatchAll(func(c *command.Command) (*command.Command, error) {
		order = append(order, "catchall")
		return c, nil
	})
	p.RegisterQueued("G28", func(c *command.Command) (*command.Command, error) {
		order = append(order, "named")
		return c, nil
	})
	p.RunQueued(command.ToCommand("G28", "", nil))
	if len(order) != 2 || order[0] != "catchall" || order[1] != "named" {
		t.Fatalf("unexpected hook order: %v", order)
	}
}

func TestSendingHookErrorPassesThrough(t *testing.T) {
	p := New()
	cmd := command.ToCommand("G1 X10", "", nil)
	p.RegisterSending("G1", func(c *command.Command) (*command.Command, error) {
		return nil, errors.New("boom")
	})
	out := p.RunSending(cmd)
	if out != cmd {
		t.Fatalf("expected original command on hook error, got %+v", out)
	}
}

func TestSendingDropShortCircuitsRemainingHooks(t *testing.T) {
	p := New()
	p.RegisterSendingCatchAll(func(c *command.Command) (*command.Command, error) {
		return nil, nil
	})
	named := false
	p.RegisterSending("G1", func(c *command.Command) (*command.Command, error) {
		named = true
		return c, nil
	})
	out := p.RunSending(command.ToCommand("G1 X10", "", nil))
	if out != nil {
		t.Fatalf("expected a dropped command to stay nil, got %+v", out)
	}
	if named {
		t.Fatalf("named hook ran after the command was dropped by the catch-all")
	}
}

func TestSentHookReplacesCommand(t *testing.T) {
	p := New()
	replacement := command.ToCommand("M105", "", nil)
	p.RegisterSent("G1", func(c *command.Command) (*command.Command, error) {
		return replacement, nil
	})
	out := p.RunSent(command.ToCommand("G1 X10", "", nil))
	if out != replacement {
		t.Fatalf("expected replacement command, got %+v", out)
	}
}
