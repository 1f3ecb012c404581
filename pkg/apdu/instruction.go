package apdu

import (
	"fmt"

	"github.com/gregLibert/cardkit/pkg/bits"
)

// Instruction Byte (INS) Logic according to ISO/IEC 7816-4.
//
// 1. Data Encoding (Bit 1): for interindustry classes, the least significant
//    bit often indicates whether the data field is BER-TLV encoded.
// 2. Reserved Ranges: INS values whose upper nibble is '6' or '9' are
//    reserved for status words / transport control (ISO/IEC 7816-3).

// InsCode is a typed representation of the instruction byte.
type InsCode byte

// Standard Instruction (INS) codes as defined in ISO/IEC 7816-4.
const (
	InsDeactivateFile            InsCode = 0x04
	InsEraseRecord               InsCode = 0x0C
	InsEraseBinary               InsCode = 0x0E
	InsEraseBinaryBER            InsCode = 0x0F
	InsVerify                    InsCode = 0x20
	InsVerifyBER                 InsCode = 0x21
	InsManageSecurityEnvironment InsCode = 0x22
	InsChangeReferenceData       InsCode = 0x24
	InsDisableVerifReq           InsCode = 0x26
	InsEnableVerifReq            InsCode = 0x28
	InsPerformSecurityOperation  InsCode = 0x2A
	InsResetRetryCounter         InsCode = 0x2C
	InsActivateFile              InsCode = 0x44
	InsGenerateAsymmetricKeyPair InsCode = 0x46
	InsManageChannel             InsCode = 0x70
	InsExternalAuthenticate      InsCode = 0x82
	InsGetChallenge              InsCode = 0x84
	InsGeneralAuthenticate       InsCode = 0x86
	InsGeneralAuthenticateBER    InsCode = 0x87
	InsInternalAuthenticate      InsCode = 0x88
	InsSearchBinary              InsCode = 0xA0
	InsSearchBinaryBER           InsCode = 0xA1
	InsSearchRecord              InsCode = 0xA2
	InsSelect                    InsCode = 0xA4
	InsReadBinary                InsCode = 0xB0
	InsReadBinaryBER             InsCode = 0xB1
	InsReadRecord                InsCode = 0xB2
	InsReadRecordBER             InsCode = 0xB3
	InsGetResponse               InsCode = 0xC0
	InsEnvelope                  InsCode = 0xC2
	InsEnvelopeBER               InsCode = 0xC3
	InsGetData                   InsCode = 0xCA
	InsGetDataBER                InsCode = 0xCB
	InsWriteBinary               InsCode = 0xD0
	InsWriteBinaryBER            InsCode = 0xD1
	InsWriteRecord                InsCode = 0xD2
	InsUpdateBinary              InsCode = 0xD6
	InsUpdateBinaryBER           InsCode = 0xD7
	InsPutData                   InsCode = 0xDA
	InsPutDataBER                InsCode = 0xDB
	InsUpdateRecord              InsCode = 0xDC
	InsUpdateRecordBER           InsCode = 0xDD
	InsCreateFile                InsCode = 0xE0
	InsAppendRecord              InsCode = 0xE2
	InsDeleteFile                InsCode = 0xE4
	InsTerminateDF               InsCode = 0xE6
	InsTerminateEF               InsCode = 0xE8
	InsTerminateCardUsage        InsCode = 0xFE
)

func (i InsCode) String() string {
	switch i {
	case InsDeactivateFile:
		return "DEACTIVATE FILE"
	case InsEraseRecord:
		return "ERASE RECORD"
	case InsEraseBinary, InsEraseBinaryBER:
		return "ERASE BINARY"
	case InsVerify, InsVerifyBER:
		return "VERIFY"
	case InsManageSecurityEnvironment:
		return "MANAGE SECURITY ENVIRONMENT"
	case InsChangeReferenceData:
		return "CHANGE REFERENCE DATA"
	case InsDisableVerifReq:
		return "DISABLE VERIFICATION REQUIREMENT"
	case InsEnableVerifReq:
		return "ENABLE VERIFICATION REQUIREMENT"
	case InsPerformSecurityOperation:
		return "PERFORM SECURITY OPERATION"
	case InsResetRetryCounter:
		return "RESET RETRY COUNTER"
	case InsActivateFile:
		return "ACTIVATE FILE"
	case InsGenerateAsymmetricKeyPair:
		return "GENERATE ASYMMETRIC KEY PAIR"
	case InsManageChannel:
		return "MANAGE CHANNEL"
	case InsExternalAuthenticate:
		return "EXTERNAL AUTHENTICATE"
	case InsGetChallenge:
		return "GET CHALLENGE"
	case InsGeneralAuthenticate, InsGeneralAuthenticateBER:
		return "GENERAL AUTHENTICATE"
	case InsInternalAuthenticate:
		return "INTERNAL AUTHENTICATE"
	case InsSearchBinary, InsSearchBinaryBER:
		return "SEARCH BINARY"
	case InsSearchRecord:
		return "SEARCH RECORD"
	case InsSelect:
		return "SELECT"
	case InsReadBinary, InsReadBinaryBER:
		return "READ BINARY"
	case InsReadRecord, InsReadRecordBER:
		return "READ RECORD"
	case InsGetResponse:
		return "GET RESPONSE"
	case InsEnvelope, InsEnvelopeBER:
		return "ENVELOPE"
	case InsGetData, InsGetDataBER:
		return "GET DATA"
	case InsWriteBinary, InsWriteBinaryBER:
		return "WRITE BINARY"
	case InsUpdateBinary, InsUpdateBinaryBER:
		return "UPDATE BINARY"
	case InsPutData, InsPutDataBER:
		return "PUT DATA"
	case InsUpdateRecord, InsUpdateRecordBER:
		return "UPDATE RECORD"
	case InsCreateFile:
		return "CREATE FILE"
	case InsAppendRecord:
		return "APPEND RECORD"
	case InsDeleteFile:
		return "DELETE FILE"
	case InsTerminateDF:
		return "TERMINATE DF"
	case InsTerminateEF:
		return "TERMINATE EF"
	case InsTerminateCardUsage:
		return "TERMINATE CARD USAGE"
	default:
		return fmt.Sprintf("Unknown INS (0x%02X)", byte(i))
	}
}

// Instruction represents the parsed ISO 7816-4 Instruction byte (INS).
type Instruction struct {
	Raw      InsCode
	IsBERTLV bool
}

// NewInstruction validates and decodes an INS byte, rejecting the '6X'/'9X'
// ranges reserved for status words and transport control.
func NewInstruction(ins InsCode) (Instruction, error) {
	highNibble := byte(ins) & 0xF0
	if highNibble == 0x60 || highNibble == 0x90 {
		return Instruction{}, fmt.Errorf("invalid INS 0x%02X: 6X and 9X are reserved", ins)
	}

	return Instruction{
		Raw:      ins,
		IsBERTLV: bits.IsSet(byte(ins), 1),
	}, nil
}

// Verbose returns a human-readable description of the instruction.
func (i Instruction) Verbose() string {
	format := "Standard"
	if i.IsBERTLV {
		format = "BER-TLV"
	}
	return fmt.Sprintf("INS: 0x%02X | Command: %s | Format: %s", byte(i.Raw), i.Raw.String(), format)
}
