package sequencer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"time"
)

// scope holds the parameters and loop variables of one call frame.
type scope struct {
	vars  map[string]Value
	depth int

	// calls is shared by every frame of one top-level line.
	calls *int
}

func newScope() *scope {
	return &scope{vars: make(map[string]Value), calls: new(int)}
}

func (sc *scope) child(vars map[string]Value) *scope {
	return &scope{vars: vars, depth: sc.depth + 1, calls: sc.calls}
}

// exec runs stmts in order. Abort is checked before every statement so
// loops and recursion without a wait or sleep still stop.
func (s *Sequencer) exec(ctx context.Context, stmts []Stmt, sc *scope) error {
	for _, st := range stmts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.state.Aborted() {
			return ErrAborted
		}

		switch st := st.(type) {
		case *DefStmt:
			if err := s.define(st); err != nil {
				return err
			}

		case *AssignStmt:
			v, err := s.eval(ctx, st.Value, sc)
			if err != nil {
				return err
			}
			if _, local := sc.vars[st.Name]; local {
				sc.vars[st.Name] = v
			} else {
				s.SetGlobal(st.Name, v)
			}

		case *CallStmt:
			if _, err := s.call(ctx, st.Call, sc); err != nil {
				return err
			}

		case *ForStmt:
			if err := s.loop(ctx, st, sc); err != nil {
				return err
			}

		default:
			return fmt.Errorf("unsupported statement %T", st)
		}
	}
	return nil
}

func (s *Sequencer) loop(ctx context.Context, st *ForStmt, sc *scope) error {
	bounds := make([]int, len(st.Range))
	for i, x := range st.Range {
		v, err := s.eval(ctx, x, sc)
		if err != nil {
			return err
		}
		if bounds[i], err = v.Int(); err != nil {
			return err
		}
	}

	start, stop, step := 0, 0, 1
	switch len(bounds) {
	case 1:
		stop = bounds[0]
	case 2:
		start, stop = bounds[0], bounds[1]
	default:
		start, stop, step = bounds[0], bounds[1], bounds[2]
	}
	if step == 0 {
		return fmt.Errorf("%w: range step must not be zero", ErrBadArguments)
	}

	n := 0
	for i := start; step > 0 && i < stop || step < 0 && i > stop; i += step {
		if n++; n > maxIterations {
			return fmt.Errorf("%w: range exceeds %d iterations", ErrBadArguments, maxIterations)
		}
		sc.vars[st.Var] = Num(float64(i))
		if err := s.exec(ctx, st.Body, sc); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sequencer) eval(ctx context.Context, x Expr, sc *scope) (Value, error) {
	switch x := x.(type) {
	case *StringLit:
		return Str(x.Value), nil

	case *NumberLit:
		return Num(x.Value), nil

	case *Ident:
		if v, ok := sc.vars[x.Name]; ok {
			return v, nil
		}
		if v, ok := s.Global(x.Name); ok {
			return v, nil
		}
		return None, fmt.Errorf("%w: %s", ErrUndefined, x.Name)

	case *NegExpr:
		v, err := s.eval(ctx, x.X, sc)
		if err != nil {
			return None, err
		}
		f, err := v.Number()
		if err != nil {
			return None, err
		}
		return Num(-f), nil

	case *BinaryExpr:
		l, err := s.eval(ctx, x.Left, sc)
		if err != nil {
			return None, err
		}
		r, err := s.eval(ctx, x.Right, sc)
		if err != nil {
			return None, err
		}
		if x.Op == '+' && (l.IsString() || r.IsString()) {
			return Str(l.String() + r.String()), nil
		}
		lf, err := l.Number()
		if err != nil {
			return None, err
		}
		rf, err := r.Number()
		if err != nil {
			return None, err
		}
		if x.Op == '-' {
			return Num(lf - rf), nil
		}
		return Num(lf + rf), nil

	case *CallExpr:
		return s.call(ctx, x, sc)

	default:
		return None, fmt.Errorf("unsupported expression %T", x)
	}
}

func (s *Sequencer) call(ctx context.Context, c *CallExpr, sc *scope) (Value, error) {
	args := make([]Value, len(c.Args))
	for i, a := range c.Args {
		v, err := s.eval(ctx, a, sc)
		if err != nil {
			return None, err
		}
		args[i] = v
	}
	return s.invoke(ctx, c.Name, args, sc)
}

func (s *Sequencer) invoke(ctx context.Context, name string, args []Value, sc *scope) (Value, error) {
	if *sc.calls++; *sc.calls > s.cfg.MaxCalls {
		return None, fmt.Errorf("%w: more than %d calls in one command", ErrTooManyCalls, s.cfg.MaxCalls)
	}

	if b, ok := builtins[name]; ok {
		if len(args) < b.minArgs || b.maxArgs >= 0 && len(args) > b.maxArgs {
			return None, fmt.Errorf("%w: %s takes %s", ErrBadArguments, name, b.arity())
		}
		return b.fn(ctx, s, args)
	}

	f, ok := s.function(name)
	if !ok {
		return None, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	if len(args) != len(f.Params) {
		return None, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrBadArguments, f.Signature(), len(f.Params), len(args))
	}
	if sc.depth >= maxDepth {
		return None, fmt.Errorf("%w: calling %s", ErrTooDeep, name)
	}

	vars := make(map[string]Value, len(args))
	for i, p := range f.Params {
		vars[p] = args[i]
	}
	return None, s.exec(ctx, f.body, sc.child(vars))
}

type builtin struct {
	params  []string
	help    string
	minArgs int
	maxArgs int // -1 for variadic
	fn      func(ctx context.Context, s *Sequencer, args []Value) (Value, error)
}

func (b builtin) arity() string {
	switch {
	case b.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", b.minArgs)
	case b.minArgs == b.maxArgs:
		return fmt.Sprintf("%d arguments", b.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", b.minArgs, b.maxArgs)
	}
}

var builtins map[string]builtin

func init() {
	builtins = map[string]builtin{
		"emit": {
			params: []string{"s"}, minArgs: 1, maxArgs: 1,
			help: "sends the string s to the bus",
			fn: func(ctx context.Context, s *Sequencer, a []Value) (Value, error) {
				return None, s.Emit(ctx, a[0].String())
			},
		},
		"wait": {
			params: []string{"s", "timeout=1"}, minArgs: 1, maxArgs: 2,
			help: "waits to hear the string s on the bus, or panics after timeout seconds",
			fn: func(ctx context.Context, s *Sequencer, a []Value) (Value, error) {
				timeout := s.cfg.WaitTimeout
				if len(a) == 2 {
					d, err := seconds(a[1])
					if err != nil {
						return None, err
					}
					timeout = d
				}
				return None, s.Wait(ctx, a[0].String(), timeout)
			},
		},
		"sleep": {
			params: []string{"seconds"}, minArgs: 1, maxArgs: 1,
			help: "pauses, or bails out on abort",
			fn: func(ctx context.Context, s *Sequencer, a []Value) (Value, error) {
				d, err := seconds(a[0])
				if err != nil {
					return None, err
				}
				return None, s.Sleep(ctx, d)
			},
		},
		"abort": {
			help: "stops the running sequence and drops queued work",
			fn: func(_ context.Context, s *Sequencer, _ []Value) (Value, error) {
				s.Abort()
				return None, nil
			},
		},
		"help": {
			help: "shows this useful help",
			fn: func(ctx context.Context, s *Sequencer, _ []Value) (Value, error) {
				return None, s.Help(ctx)
			},
		},
		"process_line": {
			params: []string{"s"}, minArgs: 1, maxArgs: 1,
			help: "lines starting with '@' are executed; lines starting with '!' are emitted; lines starting with '#' are ignored",
			fn: func(ctx context.Context, s *Sequencer, a []Value) (Value, error) {
				return None, s.ProcessLine(ctx, a[0].String())
			},
		},
		"run_file": {
			params: []string{"filename"}, minArgs: 1, maxArgs: 1,
			help: "resets the shot counter and passes each line of the file to process_line",
			fn: func(ctx context.Context, s *Sequencer, a []Value) (Value, error) {
				return None, s.RunFile(ctx, a[0].String())
			},
		},
		"feed": {
			params: []string{"s"}, minArgs: 1, maxArgs: 1,
			help: "queues s to run after the current command",
			fn: func(_ context.Context, s *Sequencer, a []Value) (Value, error) {
				return None, s.Feed(a[0].String())
			},
		},
		"deferred_emit": {
			params: []string{"s"}, minArgs: 1, maxArgs: 1,
			help: "queues emit(s) to run after the current command",
			fn: func(_ context.Context, s *Sequencer, a []Value) (Value, error) {
				return None, s.DeferredEmit(a[0].String())
			},
		},
		"str": {
			params: []string{"x"}, minArgs: 1, maxArgs: 1,
			help: "converts x to a string",
			fn: func(_ context.Context, _ *Sequencer, a []Value) (Value, error) {
				return Str(a[0].String()), nil
			},
		},
		"int": {
			params: []string{"x"}, minArgs: 1, maxArgs: 1,
			help: "converts x to an integer",
			fn: func(_ context.Context, _ *Sequencer, a []Value) (Value, error) {
				n, err := a[0].Int()
				return Num(float64(n)), err
			},
		},
		"pad": {
			params: []string{"n", "width"}, minArgs: 2, maxArgs: 2,
			help: "formats n zero-padded to width digits",
			fn: func(_ context.Context, _ *Sequencer, a []Value) (Value, error) {
				n, err := a[0].Int()
				if err != nil {
					return None, err
				}
				w, err := a[1].Int()
				if err != nil {
					return None, err
				}
				return Str(fmt.Sprintf("%0*d", w, n)), nil
			},
		},
		"path": {
			params: []string{"parts..."}, minArgs: 1, maxArgs: -1,
			help: "joins path elements",
			fn: func(_ context.Context, _ *Sequencer, a []Value) (Value, error) {
				parts := make([]string, len(a))
				for i, v := range a {
					parts[i] = v.String()
				}
				return Str(filepath.Join(parts...)), nil
			},
		},
		"seq": {
			help: "returns the shot counter",
			fn: func(_ context.Context, s *Sequencer, _ []Value) (Value, error) {
				return Num(float64(s.state.Seq())), nil
			},
		},
	}
}

func seconds(v Value) (time.Duration, error) {
	f, err := v.Number()
	if err != nil {
		return 0, err
	}
	if f < 0 || math.IsNaN(f) || f > math.MaxInt64/float64(time.Second) {
		return 0, fmt.Errorf("%w: %s is not a valid number of seconds", ErrBadArguments, v)
	}
	return time.Duration(f * float64(time.Second)), nil
}
