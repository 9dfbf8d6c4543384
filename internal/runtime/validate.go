package runtime

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"Tally/internal/address"
	"Tally/internal/types"
)

const (
	// hashSize is the expected size of an instruction hash.
	hashSize = 32

	// senderSize is the expected size of an Ed25519 public key.
	senderSize = ed25519.PublicKeySize

	// signatureSize is the expected size of an Ed25519 signature.
	signatureSize = ed25519.SignatureSize

	// programSize is the expected size of a program identity.
	programSize = address.Size

	// maxFunctionName bounds the function name length.
	maxFunctionName = 64
)

// ErrInvalidInstruction marks instructions rejected before reaching the program.
var ErrInvalidInstruction = errors.New("invalid instruction")

// call is a verified instruction copied out of its FlatBuffers buffer.
type call struct {
	hash     [32]byte
	sender   address.Address
	program  address.Address
	function string
	args     []byte
}

// decodeInstruction parses and authenticates raw instruction bytes.
// Checks structural integrity, hash correctness and the Ed25519 signature.
func decodeInstruction(data []byte) (c *call, retErr error) {
	// FlatBuffers panics on malformed data, recover gracefully
	defer func() {
		if r := recover(); r != nil {
			c = nil
			retErr = fmt.Errorf("%w: malformed instruction data", ErrInvalidInstruction)
		}
	}()

	if len(data) < 8 {
		return nil, fmt.Errorf("%w: data too short", ErrInvalidInstruction)
	}

	ix := types.GetRootAsInstruction(data, 0)

	if err := validateFieldSizes(ix); err != nil {
		return nil, err
	}

	if err := validateHash(ix); err != nil {
		return nil, err
	}

	if err := validateSignature(ix); err != nil {
		return nil, err
	}

	c = &call{
		function: string(ix.FunctionName()),
		args:     append([]byte(nil), ix.ArgsBytes()...),
	}
	copy(c.hash[:], ix.HashBytes())
	copy(c.sender[:], ix.SenderBytes())
	copy(c.program[:], ix.ProgramBytes())

	return c, nil
}

// validateFieldSizes checks that all fixed-size fields have the correct length.
func validateFieldSizes(ix *types.Instruction) error {
	if n := len(ix.HashBytes()); n != hashSize {
		return fmt.Errorf("%w: hash size %d, want %d", ErrInvalidInstruction, n, hashSize)
	}

	if n := len(ix.SenderBytes()); n != senderSize {
		return fmt.Errorf("%w: sender size %d, want %d", ErrInvalidInstruction, n, senderSize)
	}

	if n := len(ix.SignatureBytes()); n != signatureSize {
		return fmt.Errorf("%w: signature size %d, want %d", ErrInvalidInstruction, n, signatureSize)
	}

	if n := len(ix.ProgramBytes()); n != programSize {
		return fmt.Errorf("%w: program size %d, want %d", ErrInvalidInstruction, n, programSize)
	}

	if n := len(ix.FunctionName()); n == 0 || n > maxFunctionName {
		return fmt.Errorf("%w: function name length %d", ErrInvalidInstruction, n)
	}

	return nil
}

// validateHash recomputes the instruction hash and compares it to the declared hash.
func validateHash(ix *types.Instruction) error {
	var program [32]byte
	copy(program[:], ix.ProgramBytes())

	unsigned := types.UnsignedInstructionBytes(ix.SenderBytes(), program, string(ix.FunctionName()), ix.ArgsBytes())
	expected := blake3.Sum256(unsigned)

	if !bytes.Equal(ix.HashBytes(), expected[:]) {
		return fmt.Errorf("%w: hash mismatch", ErrInvalidInstruction)
	}

	return nil
}

// validateSignature verifies the Ed25519 signature over the instruction hash.
func validateSignature(ix *types.Instruction) error {
	if !ed25519.Verify(ix.SenderBytes(), ix.HashBytes(), ix.SignatureBytes()) {
		return fmt.Errorf("%w: invalid signature", ErrInvalidInstruction)
	}

	return nil
}
