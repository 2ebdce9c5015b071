// Package welcome implements the introductory lab program. It takes no
// accounts: Welcome logs a greeting and NoOp always fails.
package welcome

import (
	"fmt"

	"github.com/near/borsh-go"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
)

// Instruction is the welcome program's wire format.
type Instruction struct {
	Enum    borsh.Enum `borsh_enum:"true"`
	Welcome Welcome
	NoOp    NoOp
}

const (
	InstructionWelcome borsh.Enum = iota
	InstructionNoOp
)

// Welcome greets Name.
type Welcome struct {
	Name string
}

// NoOp fails the program.
type NoOp struct{}

// Encode serializes the instruction.
func (ix Instruction) Encode() []byte {
	data, err := borsh.Serialize(ix)
	if err != nil {
		panic(fmt.Sprintf("welcome: encode instruction: %v", err))
	}
	return data
}

// DecodeInstruction parses data as exactly one instruction.
func DecodeInstruction(data []byte) (Instruction, error) {
	var ix Instruction
	if len(data) == 0 {
		return ix, program.Errorf(program.ErrDecode, "empty instruction data")
	}
	if err := borsh.Deserialize(&ix, data); err != nil {
		return Instruction{}, program.Errorf(program.ErrDecode, "%v", err)
	}
	if n := len(ix.Encode()); n != len(data) {
		return Instruction{}, program.Errorf(program.ErrDecode, "%d trailing bytes", len(data)-n)
	}
	return ix, nil
}

// Processor executes welcome instructions.
type Processor struct{}

// Process implements program.Entrypoint.
func (Processor) Process(host program.Host, _ types.Pubkey, _ []*program.AccountRef, data []byte) error {
	ix, err := DecodeInstruction(data)
	if err != nil {
		return err
	}

	switch ix.Enum {
	case InstructionWelcome:
		host.Log(fmt.Sprintf("Hello %s! Welcome to the security labs!", ix.Welcome.Name))
		return nil
	case InstructionNoOp:
		host.Log("NoOp!")
		return program.Errorf(program.ErrDecode, "no-op instruction")
	default:
		return program.Errorf(program.ErrDecode, "variant %d", ix.Enum)
	}
}

// NewWelcome builds a Welcome instruction for programID.
func NewWelcome(programID types.Pubkey, name string) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: programID,
		Data:      Instruction{Enum: InstructionWelcome, Welcome: Welcome{Name: name}}.Encode(),
	}
}

// NewNoOp builds a NoOp instruction for programID.
func NewNoOp(programID types.Pubkey) runtime.Instruction {
	return runtime.Instruction{
		ProgramID: programID,
		Data:      Instruction{Enum: InstructionNoOp}.Encode(),
	}
}

var _ program.Entrypoint = Processor{}
