package node

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kolibri-swarm/kolibri/genomelog"
)

// Command is one parsed interactive line.
type Command struct {
	Name string
	Args []string
}

// readCommands scans lines of the form ":name arg1 arg2..." from in and
// sends them to out until in reaches EOF, or until ctx is canceled and a
// further line is read (a read already blocked on in is not interrupted).
func readCommands(ctx context.Context, in io.Reader, out chan<- Command) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, ":") {
			continue
		}
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			continue
		}
		cmd := Command{Name: fields[0], Args: fields[1:]}
		select {
		case out <- cmd:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// handleCommand dispatches one interactive command. Every command that
// changes node state records exactly one log event; :help and :quit are
// pure and record nothing. :tick is not bound to one event: it records
// whatever IMPORT, EVOLVE and SYNC events the beats it runs produce,
// which may be none or several. :sync records SYNC only when there is a
// best formula and at least one peer.
func (r *Runtime) handleCommand(cmd Command, out io.Writer) {
	switch cmd.Name {
	case "teach":
		r.cmdTeach(cmd.Args, out)
	case "ask":
		r.cmdAsk(cmd.Args, out)
	case "good":
		r.cmdFeedback(0.3, out)
	case "bad":
		r.cmdFeedback(-0.3, out)
	case "tick":
		r.cmdTick(cmd.Args, out)
	case "evolve":
		r.cmdEvolve(cmd.Args, out)
	case "why":
		r.cmdWhy(out)
	case "canvas":
		r.cmdCanvas(out)
	case "sync":
		r.broadcastBest()
	case "verify":
		r.cmdVerify(out)
	case "script":
		r.cmdScript(cmd.Args, out)
	case "help":
		fmt.Fprintln(out, "commands: :teach a->b :ask x :good :bad :tick [n] :evolve [n] :why :canvas :sync :verify :script PATH :help :quit")
	case "quit":
		fmt.Fprintln(out, "bye")
	default:
		fmt.Fprintf(out, "unknown command: %s\n", cmd.Name)
	}
}

func (r *Runtime) cmdTeach(args []string, out io.Writer) {
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: :teach a->b")
		return
	}
	parts := strings.SplitN(args[0], "->", 2)
	if len(parts) != 2 {
		fmt.Fprintln(out, "usage: :teach a->b")
		return
	}
	a, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		fmt.Fprintln(out, "teach: a and b must be integers")
		return
	}
	if err := r.pool.AddExample(int32(a), int32(b)); err != nil {
		fmt.Fprintf(out, "teach: %v\n", err)
		return
	}
	r.recordEvent("TEACH", fmt.Sprintf("%d->%d", a, b))
}

func (r *Runtime) cmdAsk(args []string, out io.Writer) {
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: :ask x")
		return
	}
	x, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(out, "ask: x must be an integer")
		return
	}
	best, ok := r.pool.Best()
	if !ok {
		fmt.Fprintln(out, "ask: no examples taught yet")
		return
	}
	y, evalErr := best.Gene.Eval(int32(x))
	if evalErr != nil {
		fmt.Fprintf(out, "ask: %v\n", evalErr)
		return
	}
	fmt.Fprintf(out, "%d\n", y)
	r.recordEvent("ASK", fmt.Sprintf("%d=%d", x, y))
}

func (r *Runtime) cmdFeedback(delta float64, out io.Writer) {
	best, ok := r.pool.Best()
	if !ok {
		fmt.Fprintln(out, "no current best to give feedback on")
		return
	}
	if err := r.pool.Feedback(best.Gene, delta); err != nil {
		fmt.Fprintf(out, "feedback: %v\n", err)
		return
	}
	r.recordEvent("USER_FEEDBACK", fmt.Sprintf("%+.2f", delta))
}

func (r *Runtime) cmdTick(args []string, out io.Writer) {
	n := parseOptionalCount(args)
	for i := 0; i < n; i++ {
		r.RunOnce(nowMs())
	}
}

func (r *Runtime) cmdEvolve(args []string, out io.Writer) {
	n := parseOptionalCount(args)
	r.pool.Tick(n)
	r.recordEvent("EVOLVE", fmt.Sprintf("manual n=%d gen=%d", n, r.pool.Generation()))
}

func (r *Runtime) cmdWhy(out io.Writer) {
	best, ok := r.pool.Best()
	if !ok {
		fmt.Fprintln(out, "no current best")
		return
	}
	fmt.Fprintf(out, "%s (fitness=%.6f, feedback=%.2f, diversity=%.4f)\n",
		best.Gene.Describe(), best.Fitness, best.Feedback, r.pool.DiversityIndex())
	r.recordEvent("NOTE", "why queried")
}

func (r *Runtime) cmdCanvas(out io.Writer) {
	pop := r.pool.Population()
	fmt.Fprintf(out, "population=%d diversity=%.4f\n", len(pop), r.pool.DiversityIndex())
	for i, f := range pop {
		if i >= 10 {
			fmt.Fprintf(out, "... (%d more)\n", len(pop)-10)
			break
		}
		fmt.Fprintf(out, "%2d: %s fitness=%.6f\n", i, f.Gene.Describe(), f.Fitness)
	}
	r.recordEvent("NOTE", "canvas queried")
}

func (r *Runtime) cmdVerify(out io.Writer) {
	status, err := genomelog.Verify(r.cfg.GenomePath, r.key)
	if err != nil {
		fmt.Fprintf(out, "verify: %v\n", err)
	}
	fmt.Fprintf(out, "genome: %s\n", status)
	r.recordEvent("NOTE", fmt.Sprintf("verify=%s", status))
}

// RunScript reads interactive-command lines from in and executes each,
// recording one SCRIPT event for the run as a whole (nested commands
// still record their own events per handleCommand's contract). Used by
// the CLI's --bootstrap path.
func (r *Runtime) RunScript(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	var cmds []Command
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, ":") {
			continue
		}
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			continue
		}
		cmds = append(cmds, Command{Name: fields[0], Args: fields[1:]})
	}
	r.recordEvent("SCRIPT", fmt.Sprintf("bootstrap lines=%d", len(cmds)))
	for _, c := range cmds {
		r.handleCommand(c, out)
	}
}

func (r *Runtime) cmdScript(args []string, out io.Writer) {
	if len(args) != 1 {
		fmt.Fprintln(out, "usage: :script PATH")
		return
	}
	path := args[0]
	cmds, err := loadScript(path)
	if err != nil {
		fmt.Fprintf(out, "script: %v\n", err)
		return
	}
	r.recordEvent("SCRIPT", fmt.Sprintf("path=%s lines=%d", path, len(cmds)))
	for _, c := range cmds {
		r.handleCommand(c, out)
	}
}

func loadScript(path string) ([]Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Command
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, ":") {
			continue
		}
		fields := strings.Fields(line[1:])
		if len(fields) == 0 {
			continue
		}
		out = append(out, Command{Name: fields[0], Args: fields[1:]})
	}
	return out, scanner.Err()
}

func parseOptionalCount(args []string) int {
	if len(args) == 0 {
		return 1
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 1
	}
	return n
}
