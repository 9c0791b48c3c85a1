package solana

import "encoding/binary"

// MaxComputeUnits is the per-transaction compute ceiling.
const MaxComputeUnits = 1_400_000

// SetComputeUnitLimit builds a ComputeBudget instruction capping compute units.
func SetComputeUnitLimit(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)
	return Instruction{ProgramID: MustPublicKey(ComputeBudgetProgramID), Data: data}
}

// SetComputeUnitPrice builds a ComputeBudget instruction setting the priority
// fee in micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{ProgramID: MustPublicKey(ComputeBudgetProgramID), Data: data}
}
