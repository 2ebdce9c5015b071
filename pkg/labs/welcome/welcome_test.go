package welcome

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fortiblox/X1-Vaultlab/internal/types"
	"github.com/fortiblox/X1-Vaultlab/pkg/accounts"
	"github.com/fortiblox/X1-Vaultlab/pkg/program"
	"github.com/fortiblox/X1-Vaultlab/pkg/runtime"
)

func newRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt, err := runtime.New(accounts.NewMemoryDB(), runtime.DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, rt.RegisterProgram(types.WelcomeProgramAddr, "welcome", Processor{}))
	return rt
}

func TestWelcome(t *testing.T) {
	rt := newRuntime(t)
	tx, err := runtime.NewTransaction([]runtime.Instruction{NewWelcome(types.WelcomeProgramAddr, "Blablador")})
	require.NoError(t, err)

	res, err := rt.Execute(tx)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.Contains(t, res.Logs, "Program log: Hello Blablador! Welcome to the security labs!")
}

func TestNoOpFails(t *testing.T) {
	rt := newRuntime(t)
	tx, err := runtime.NewTransaction([]runtime.Instruction{NewNoOp(types.WelcomeProgramAddr)})
	require.NoError(t, err)

	res, err := rt.Execute(tx)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, program.ErrDecode)
	assert.Contains(t, res.Logs, "Program log: NoOp!")
}

func TestGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, {2}, {0, 5, 0, 0, 0, 'a'}} {
		err := Processor{}.Process(nil, types.WelcomeProgramAddr, nil, data)
		assert.ErrorIs(t, err, program.ErrDecode)
	}
}

func TestTrailingBytesRejected(t *testing.T) {
	greet := append(NewWelcome(types.WelcomeProgramAddr, "Blablador").Data, 0)
	noop := append(NewNoOp(types.WelcomeProgramAddr).Data, 7)

	for _, data := range [][]byte{greet, noop} {
		_, err := DecodeInstruction(data)
		assert.ErrorIs(t, err, program.ErrDecode)
		assert.ErrorIs(t, Processor{}.Process(nil, types.WelcomeProgramAddr, nil, data), program.ErrDecode)
	}

	ix, err := DecodeInstruction(NewWelcome(types.WelcomeProgramAddr, "Blablador").Data)
	require.NoError(t, err)
	assert.Equal(t, "Blablador", ix.Welcome.Name)
}
