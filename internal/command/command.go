// Package command implements the line protocol spoken to the actuator
// controller.
//
// Every command is a single ASCII line:
//
//	<opcode><space><magnitude><newline>
//
// where opcode is one of 1-5 and magnitude is a non-negative decimal integer.
// Direction is carried by the opcode, never by the sign of the magnitude. The
// controller answers each command with one byte once it has finished
// executing it.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/banshee-data/pursuit/internal/planner"
)

// ErrMalformed is returned by Parse for lines that are not valid commands.
var ErrMalformed = errors.New("malformed command")

// Opcode is the numeric command identifier on the wire.
type Opcode int

const (
	OpAdvance   Opcode = 1
	OpRetreat   Opcode = 2
	OpRotateCW  Opcode = 3
	OpRotateCCW Opcode = 4
	OpFire      Opcode = 5
)

func (o Opcode) String() string {
	switch o {
	case OpAdvance:
		return "advance"
	case OpRetreat:
		return "retreat"
	case OpRotateCW:
		return "rotate_cw"
	case OpRotateCCW:
		return "rotate_ccw"
	case OpFire:
		return "fire"
	}
	return fmt.Sprintf("opcode(%d)", int(o))
}

// Valid reports whether o is a known opcode.
func (o Opcode) Valid() bool {
	return o >= OpAdvance && o <= OpFire
}

// Command is a decoded wire command.
type Command struct {
	Opcode    Opcode
	Magnitude int
}

// Bytes renders the command in wire format.
func (c Command) Bytes() []byte {
	return []byte(c.String())
}

func (c Command) String() string {
	return strconv.Itoa(int(c.Opcode)) + " " + strconv.Itoa(c.Magnitude) + "\n"
}

// opcodeFor resolves the wire opcode for an action. ScanRotate is sent as a
// plain rotation in its configured direction.
func opcodeFor(a planner.Action) (Opcode, bool) {
	kind := a.Kind
	if kind == planner.ScanRotate {
		kind = a.Direction
	}
	switch kind {
	case planner.Advance:
		return OpAdvance, true
	case planner.Retreat:
		return OpRetreat, true
	case planner.RotateCW:
		return OpRotateCW, true
	case planner.RotateCCW:
		return OpRotateCCW, true
	case planner.Fire:
		return OpFire, true
	}
	return 0, false
}

// FromAction converts an action to a wire command. The bool is false when the
// action produces no command: movement and rotation with a magnitude <= 0, a
// negative fire duration, or an unknown kind.
func FromAction(a planner.Action) (Command, bool) {
	op, ok := opcodeFor(a)
	if !ok {
		return Command{}, false
	}
	if op == OpFire {
		if a.Magnitude < 0 {
			return Command{}, false
		}
	} else if a.Magnitude <= 0 {
		return Command{}, false
	}
	// int() truncates toward zero, matching the controller's integer parsing.
	return Command{Opcode: op, Magnitude: int(a.Magnitude)}, true
}

// Encode serializes an action. It returns nil when the action produces no
// command (see FromAction).
func Encode(a planner.Action) []byte {
	cmd, ok := FromAction(a)
	if !ok {
		return nil
	}
	return cmd.Bytes()
}

// Parse decodes a single wire line. The trailing newline is optional.
func Parse(line string) (Command, error) {
	line = strings.TrimSuffix(line, "\n")
	opStr, magStr, found := strings.Cut(line, " ")
	if !found {
		return Command{}, fmt.Errorf("%w: %q: missing separator", ErrMalformed, line)
	}
	op, err := strconv.Atoi(opStr)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q: opcode: %v", ErrMalformed, line, err)
	}
	if !Opcode(op).Valid() {
		return Command{}, fmt.Errorf("%w: %q: unknown opcode %d", ErrMalformed, line, op)
	}
	mag, err := strconv.Atoi(magStr)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %q: magnitude: %v", ErrMalformed, line, err)
	}
	if mag < 0 {
		return Command{}, fmt.Errorf("%w: %q: negative magnitude", ErrMalformed, line)
	}
	return Command{Opcode: Opcode(op), Magnitude: mag}, nil
}

// Acknowledgement is the result of polling the link for a completion receipt.
// The receipt byte itself carries no meaning.
type Acknowledgement struct {
	Received bool
}

// Decode turns the outcome of a byte poll into an acknowledgement. It never
// fails: no byte simply means no acknowledgement yet.
func Decode(available bool) Acknowledgement {
	return Acknowledgement{Received: available}
}

// Controller receipt bytes. Any byte acknowledges a command; these are only
// distinguished for diagnostics.
const (
	ReceiptDone     byte = 'y'
	ReceiptRejected byte = 'n'
)
