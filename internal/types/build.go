package types

import (
	"crypto/ed25519"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"
)

// UnsignedInstructionBytes builds the instruction without hash and signature.
// Its blake3 digest is the instruction hash.
func UnsignedInstructionBytes(sender []byte, program [32]byte, funcName string, args []byte) []byte {
	builder := flatbuffers.NewBuilder(256 + len(args))

	argsVec := builder.CreateByteVector(args)
	senderVec := builder.CreateByteVector(sender)
	programVec := builder.CreateByteVector(program[:])
	funcNameOff := builder.CreateString(funcName)

	InstructionStart(builder)
	InstructionAddSender(builder, senderVec)
	InstructionAddProgram(builder, programVec)
	InstructionAddFunctionName(builder, funcNameOff)
	InstructionAddArgs(builder, argsVec)
	off := InstructionEnd(builder)

	builder.Finish(off)

	return builder.FinishedBytes()
}

// BuildInstructionTable writes a complete Instruction table into builder.
func BuildInstructionTable(builder *flatbuffers.Builder, sender []byte, program [32]byte, funcName string, args []byte, hash [32]byte, sig []byte) flatbuffers.UOffsetT {
	hashVec := builder.CreateByteVector(hash[:])
	sigVec := builder.CreateByteVector(sig)
	argsVec := builder.CreateByteVector(args)
	senderVec := builder.CreateByteVector(sender)
	programVec := builder.CreateByteVector(program[:])
	funcNameOff := builder.CreateString(funcName)

	InstructionStart(builder)
	InstructionAddHash(builder, hashVec)
	InstructionAddSender(builder, senderVec)
	InstructionAddSignature(builder, sigVec)
	InstructionAddProgram(builder, programVec)
	InstructionAddFunctionName(builder, funcNameOff)
	InstructionAddArgs(builder, argsVec)

	return InstructionEnd(builder)
}

// SignInstruction builds a signed instruction for funcName on program.
// Returns the serialized bytes and the instruction hash.
func SignInstruction(privKey ed25519.PrivateKey, program [32]byte, funcName string, args []byte) ([]byte, [32]byte) {
	pubKey := privKey.Public().(ed25519.PublicKey)

	hash := blake3.Sum256(UnsignedInstructionBytes(pubKey, program, funcName, args))
	sig := ed25519.Sign(privKey, hash[:])

	builder := flatbuffers.NewBuilder(512 + len(args))
	off := BuildInstructionTable(builder, pubKey, program, funcName, args, hash, sig)
	builder.Finish(off)

	return builder.FinishedBytes(), hash
}
