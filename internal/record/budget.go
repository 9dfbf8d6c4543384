package record

const (
	// MinOptions is the smallest option count a poll may have.
	MinOptions = 2

	// MaxOptions is the largest option count a poll may have.
	MaxOptions = 10

	// MaxQuestionLen is the maximum question length in bytes.
	MaxQuestionLen = 200

	// MaxOptionLen is the maximum option length in bytes.
	MaxOptionLen = 50
)

// Fixed field widths of the persisted layout.
const (
	HeaderSize   = 8  // discriminator
	IdentitySize = 32 // creator, voter, poll address
	PollIDSize   = 8
	LenPrefix    = 4
	CounterSize  = 8
	FlagSize     = 1
	NonceSize    = 1
	IndexSize    = 1
	ReservedSize = 32
)

// VoteSpace is the fixed size of a vote record:
// header + voter + poll + option index + nonce.
const VoteSpace = HeaderSize + IdentitySize + IdentitySize + IndexSize + NonceSize

// pollSpace is computed once from the declared bounds.
var pollSpace = computePollSpace(MaxOptions, MaxQuestionLen, MaxOptionLen)

// PollSpace returns the number of bytes allocated for every poll record.
// It is derived from the declared upper bounds, never from runtime lengths,
// so a record is allocated once and never resized.
func PollSpace() int {
	return pollSpace
}

// computePollSpace sums the maximum footprint of each poll field.
func computePollSpace(maxOptions, maxQuestion, maxOption int) int {
	size := HeaderSize
	size += IdentitySize                                 // creator
	size += PollIDSize                                   // poll id
	size += LenPrefix + maxQuestion                      // question
	size += LenPrefix + maxOptions*(LenPrefix+maxOption) // options
	size += LenPrefix + maxOptions*CounterSize           // votes
	size += FlagSize                                     // is active
	size += NonceSize                                    // derivation nonce
	size += ReservedSize                                 // safety margin

	return size
}
