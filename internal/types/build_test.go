package types

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/zeebo/blake3"
)

func TestSignInstruction(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)
	program := [32]byte{0x7a}
	args := []byte{1, 2, 3}

	data, hash := SignInstruction(priv, program, "vote_poll", args)

	ix := GetRootAsInstruction(data, 0)

	if !bytes.Equal(ix.HashBytes(), hash[:]) {
		t.Error("hash field does not match returned hash")
	}

	if !bytes.Equal(ix.SenderBytes(), pub) {
		t.Error("sender is not the signing key")
	}

	if !bytes.Equal(ix.ProgramBytes(), program[:]) {
		t.Error("program mismatch")
	}

	if string(ix.FunctionName()) != "vote_poll" || !bytes.Equal(ix.ArgsBytes(), args) {
		t.Errorf("unexpected function %q args %x", ix.FunctionName(), ix.ArgsBytes())
	}

	if !ed25519.Verify(pub, hash[:], ix.SignatureBytes()) {
		t.Error("signature does not verify")
	}

	want := blake3.Sum256(UnsignedInstructionBytes(ix.SenderBytes(), program, "vote_poll", args))
	if want != hash {
		t.Error("hash is not blake3 of the unsigned instruction")
	}
}

func TestMutateArgs(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	data, _ := SignInstruction(priv, [32]byte{}, "close_poll", []byte{0, 0})
	ix := GetRootAsInstruction(data, 0)

	if !ix.MutateArgs(1, 9) {
		t.Fatal("MutateArgs failed")
	}

	if ix.Args(1) != 9 || ix.ArgsLength() != 2 {
		t.Errorf("args = %x", ix.ArgsBytes())
	}
}
