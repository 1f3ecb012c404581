package iso7816

import (
	"fmt"

	"github.com/gregLibert/cardkit/pkg/apdu"
)

// READ RECORD COMMAND LOGIC (ISO 7816-4):
// The READ RECORD command (INS 'B2') reads the content of one or more records
// from the current Elementary File (EF) or a specified SFI.
//
// P1 (Record Number or ID):
// - If P2 indicates "Record number" (Bits 3=1), P1 is the record number (00 = current).
// - If P2 indicates "Record identifier" (Bits 3=0), P1 is the record identifier.
//
// P2 (Reference Control):
// - Bits 8-4: Short File Identifier (SFI). If 0, use Current EF.
// - Bit 3:    0=Reference by ID, 1=Reference by Number.
// - Bits 2-1: Occurrence/Mode (First, Last, Next, Prev, or All).

// ReadRecordMode defines how to interpret P1 and which record(s) to read.
type ReadRecordMode byte

const (
	// P1 is Record IDENTIFIER (Bit 3 = 0)
	RefByIDFirstOccurrence    ReadRecordMode = 0b000
	RefByIDLastOccurrence     ReadRecordMode = 0b001
	RefByIDNextOccurrence     ReadRecordMode = 0b010
	RefByIDPreviousOccurrence ReadRecordMode = 0b011

	// P1 is Record NUMBER (Bit 3 = 1)
	RefByNumReadP1              ReadRecordMode = 0b100
	RefByNumReadAllFromP1       ReadRecordMode = 0b101
	RefByNumReadAllFromLastToP1 ReadRecordMode = 0b110
)

func (m ReadRecordMode) String() string {
	switch m {
	case RefByIDFirstOccurrence:
		return "Ref ID: First Occurrence"
	case RefByIDLastOccurrence:
		return "Ref ID: Last Occurrence"
	case RefByIDNextOccurrence:
		return "Ref ID: Next Occurrence"
	case RefByIDPreviousOccurrence:
		return "Ref ID: Previous Occurrence"
	case RefByNumReadP1:
		return "Ref Num: Read Record P1"
	case RefByNumReadAllFromP1:
		return "Ref Num: Read All from P1"
	case RefByNumReadAllFromLastToP1:
		return "Ref Num: Read All from Last to P1"
	default:
		return fmt.Sprintf("Unknown Mode (0x%X)", byte(m))
	}
}

// NewReadRecordCommand creates a raw READ RECORD command.
func NewReadRecordCommand(
	cla apdu.Class,
	sfi byte,
	p1 byte,
	mode ReadRecordMode,
) *apdu.Command {
	// P2 Construction (Table 49): (SFI << 3) | Mode
	p2 := (sfi << 3) | byte(mode)

	ins, _ := apdu.NewInstruction(apdu.InsReadRecord)

	// FIX: READ RECORD is a "Case 2" command (No data sent, Data expected).
	// We MUST request a response length. Using MaxShortLe (256) ensures
	// the encoder appends '00' at the end of the APDU.
	return apdu.NewCommand(cla, ins, p1, p2, nil, apdu.MaxShortLe)
}

// ReadRecord reads a specific record by its Number (Mode '100').
func ReadRecord(cla apdu.Class, sfi byte, recordNumber byte) *apdu.Command {
	return NewReadRecordCommand(cla, sfi, recordNumber, RefByNumReadP1)
}

// ReadAllRecords reads all records starting from startRecordNumber (Mode '101').
func ReadAllRecords(cla apdu.Class, sfi byte, startRecordNumber byte) *apdu.Command {
	return NewReadRecordCommand(cla, sfi, startRecordNumber, RefByNumReadAllFromP1)
}
