package solana

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// MaxTransactionSize is the packet limit for a serialized transaction.
const MaxTransactionSize = 1232

var (
	// ErrMissingSigner is returned when a required signer has no keypair.
	ErrMissingSigner = errors.New("missing signer")
	// ErrTooManyAccounts is returned when a message references more than 256 accounts.
	ErrTooManyAccounts = errors.New("too many accounts")
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	PublicKey  PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a single program invocation.
type Instruction struct {
	ProgramID PublicKey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts signer and read-only accounts.
type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

// CompiledInstruction references accounts by index.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

// Message is a legacy transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []PublicKey
	RecentBlockhash [32]byte
	Instructions    []CompiledInstruction
}

type accountEntry struct {
	key      PublicKey
	signer   bool
	writable bool
}

// CompileMessage orders accounts as fee payer first, then signer-writable,
// signer-readonly, writable and readonly. Within a class first-seen order is kept.
func CompileMessage(feePayer PublicKey, instructions []Instruction, recentBlockhash string) (*Message, error) {
	bh, err := base58.Decode(recentBlockhash)
	if err != nil {
		return nil, fmt.Errorf("decode blockhash: %w", err)
	}
	if len(bh) != 32 {
		return nil, fmt.Errorf("blockhash: expected 32 bytes, got %d", len(bh))
	}

	entries := []*accountEntry{{key: feePayer, signer: true, writable: true}}
	index := map[PublicKey]*accountEntry{feePayer: entries[0]}
	add := func(key PublicKey, signer, writable bool) {
		if e, ok := index[key]; ok {
			e.signer = e.signer || signer
			e.writable = e.writable || writable
			return
		}
		e := &accountEntry{key: key, signer: signer, writable: writable}
		index[key] = e
		entries = append(entries, e)
	}
	for _, ix := range instructions {
		for _, a := range ix.Accounts {
			add(a.PublicKey, a.IsSigner, a.IsWritable)
		}
		add(ix.ProgramID, false, false)
	}

	class := func(e *accountEntry) int {
		switch {
		case e.key == feePayer:
			return 0
		case e.signer && e.writable:
			return 1
		case e.signer:
			return 2
		case e.writable:
			return 3
		default:
			return 4
		}
	}
	ordered := make([]*accountEntry, 0, len(entries))
	for c := 0; c <= 4; c++ {
		for _, e := range entries {
			if class(e) == c {
				ordered = append(ordered, e)
			}
		}
	}
	if len(ordered) > 256 {
		return nil, ErrTooManyAccounts
	}

	msg := &Message{AccountKeys: make([]PublicKey, len(ordered))}
	copy(msg.RecentBlockhash[:], bh)
	position := make(map[PublicKey]uint8, len(ordered))
	for i, e := range ordered {
		msg.AccountKeys[i] = e.key
		position[e.key] = uint8(i)
		switch class(e) {
		case 0, 1:
			msg.Header.NumRequiredSignatures++
		case 2:
			msg.Header.NumRequiredSignatures++
			msg.Header.NumReadonlySignedAccounts++
		case 4:
			msg.Header.NumReadonlyUnsignedAccounts++
		}
	}

	for _, ix := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: position[ix.ProgramID],
			Accounts:       make([]uint8, len(ix.Accounts)),
			Data:           ix.Data,
		}
		for i, a := range ix.Accounts {
			ci.Accounts[i] = position[a.PublicKey]
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Signers returns the keys that must sign the message, in order.
func (m *Message) Signers() []PublicKey {
	return m.AccountKeys[:m.Header.NumRequiredSignatures]
}

// Serialize encodes the message in wire format.
func (m *Message) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteByte(m.Header.NumRequiredSignatures)
	buf.WriteByte(m.Header.NumReadonlySignedAccounts)
	buf.WriteByte(m.Header.NumReadonlyUnsignedAccounts)
	writeShortVec(&buf, len(m.AccountKeys))
	for _, k := range m.AccountKeys {
		buf.Write(k[:])
	}
	buf.Write(m.RecentBlockhash[:])
	writeShortVec(&buf, len(m.Instructions))
	for _, ix := range m.Instructions {
		buf.WriteByte(ix.ProgramIDIndex)
		writeShortVec(&buf, len(ix.Accounts))
		buf.Write(ix.Accounts)
		writeShortVec(&buf, len(ix.Data))
		buf.Write(ix.Data)
	}
	return buf.Bytes()
}

// SignedTransaction is a message with its signatures.
type SignedTransaction struct {
	Signatures [][64]byte
	Message    *Message
}

// SignMessage signs m with the given keypairs. Every required signer must be present.
func SignMessage(m *Message, keypairs ...*Keypair) (*SignedTransaction, error) {
	byKey := make(map[PublicKey]*Keypair, len(keypairs))
	for _, kp := range keypairs {
		byKey[kp.PublicKey()] = kp
	}
	payload := m.Serialize()
	tx := &SignedTransaction{Message: m}
	for _, signer := range m.Signers() {
		kp, ok := byKey[signer]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, signer)
		}
		tx.Signatures = append(tx.Signatures, kp.Sign(payload))
	}
	return tx, nil
}

// Signature returns the base58 transaction id, the first signature.
func (t *SignedTransaction) Signature() string {
	if len(t.Signatures) == 0 {
		return ""
	}
	return base58.Encode(t.Signatures[0][:])
}

// Serialize encodes the transaction in wire format.
func (t *SignedTransaction) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	writeShortVec(&buf, len(t.Signatures))
	for _, s := range t.Signatures {
		buf.Write(s[:])
	}
	buf.Write(t.Message.Serialize())
	if buf.Len() > MaxTransactionSize {
		return nil, fmt.Errorf("transaction size %d exceeds %d", buf.Len(), MaxTransactionSize)
	}
	return buf.Bytes(), nil
}

// writeShortVec writes the compact-u16 length prefix.
func writeShortVec(buf *bytes.Buffer, n int) {
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
}

// readShortVec decodes a compact-u16 and returns the value and bytes consumed.
func readShortVec(data []byte) (int, int, error) {
	n := 0
	for i := 0; i < 3; i++ {
		if i >= len(data) {
			return 0, 0, fmt.Errorf("short vec: truncated")
		}
		n |= int(data[i]&0x7f) << (7 * i)
		if data[i]&0x80 == 0 {
			return n, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("short vec: too long")
}

// DecodeMessage parses a wire-format message.
func DecodeMessage(data []byte) (*Message, error) {
	if len(data) < 3 {
		return nil, fmt.Errorf("message: truncated header")
	}
	m := &Message{Header: MessageHeader{data[0], data[1], data[2]}}
	off := 3

	n, used, err := readShortVec(data[off:])
	if err != nil {
		return nil, err
	}
	off += used
	if off+n*PublicKeyLength+32 > len(data) {
		return nil, fmt.Errorf("message: truncated accounts")
	}
	m.AccountKeys = make([]PublicKey, n)
	for i := range m.AccountKeys {
		copy(m.AccountKeys[i][:], data[off:off+PublicKeyLength])
		off += PublicKeyLength
	}
	copy(m.RecentBlockhash[:], data[off:off+32])
	off += 32

	n, used, err = readShortVec(data[off:])
	if err != nil {
		return nil, err
	}
	off += used
	for i := 0; i < n; i++ {
		if off >= len(data) {
			return nil, fmt.Errorf("message: truncated instruction %d", i)
		}
		ci := CompiledInstruction{ProgramIDIndex: data[off]}
		off++
		cnt, used, err := readShortVec(data[off:])
		if err != nil {
			return nil, err
		}
		off += used
		if off+cnt > len(data) {
			return nil, fmt.Errorf("message: truncated instruction accounts")
		}
		ci.Accounts = append([]uint8(nil), data[off:off+cnt]...)
		off += cnt
		dl, used, err := readShortVec(data[off:])
		if err != nil {
			return nil, err
		}
		off += used
		if off+dl > len(data) {
			return nil, fmt.Errorf("message: truncated instruction data")
		}
		ci.Data = append([]byte(nil), data[off:off+dl]...)
		off += dl
		m.Instructions = append(m.Instructions, ci)
	}
	return m, nil
}

// DecodeTransaction parses a wire-format signed transaction.
func DecodeTransaction(data []byte) (*SignedTransaction, error) {
	n, off, err := readShortVec(data)
	if err != nil {
		return nil, err
	}
	if off+n*64 > len(data) {
		return nil, fmt.Errorf("transaction: truncated signatures")
	}
	tx := &SignedTransaction{Signatures: make([][64]byte, n)}
	for i := range tx.Signatures {
		copy(tx.Signatures[i][:], data[off:off+64])
		off += 64
	}
	tx.Message, err = DecodeMessage(data[off:])
	if err != nil {
		return nil, err
	}
	return tx, nil
}
