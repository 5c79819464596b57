// Package rawixn converts third-party JSON instruction descriptions into
// canonical solana.Instruction values.
//
// Upstream APIs describe instructions with drifting schemas: the program id,
// payload, and account list each appear under several field names, and the
// payload arrives raw, base64, or base58 encoded. Parsing here is defensive
// rather than strict-schema.
package rawixn

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/stashfi/savings-server/pkg/solana"
)

const (
	// maxPreviewLength caps the diagnostic preview so a hostile or broken
	// upstream response can't flood logs.
	maxPreviewLength = 2048

	maxPreviewStringLength = 128
)

// Field name synonyms, tried in order.
var (
	programFields = []string{"programId", "program_id", "program"}
	dataFields    = []string{"data", "payload"}
	accountFields = []string{"accounts", "keys"}

	pubkeyFields   = []string{"pubkey", "publicKey", "public_key", "address"}
	signerFields   = []string{"isSigner", "is_signer", "signer"}
	writableFields = []string{"isWritable", "is_writable", "writable"}
)

// MalformedInstructionError indicates an upstream instruction object that
// could not be normalized, naming the field that was missing or invalid.
type MalformedInstructionError struct {
	Field  string
	Reason string
}

func (e *MalformedInstructionError) Error() string {
	return fmt.Sprintf("malformed instruction: field %q: %s", e.Field, e.Reason)
}

func newMalformedInstructionError(field, reason string) error {
	return &MalformedInstructionError{Field: field, Reason: reason}
}

// Normalize converts a single JSON instruction object into a canonical
// instruction.
func Normalize(raw json.RawMessage) (solana.Instruction, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return solana.Instruction{}, newMalformedInstructionError("(root)", "not a JSON object")
	}

	program, err := parseProgram(obj)
	if err != nil {
		return solana.Instruction{}, err
	}

	data, err := parseData(obj)
	if err != nil {
		return solana.Instruction{}, err
	}

	accounts, err := parseAccounts(obj)
	if err != nil {
		return solana.Instruction{}, err
	}

	return solana.NewInstruction(program, data, accounts...), nil
}

// NormalizeAll converts a JSON array of instruction objects.
func NormalizeAll(raw json.RawMessage) ([]solana.Instruction, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, newMalformedInstructionError("(root)", "not a JSON array")
	}

	instructions := make([]solana.Instruction, 0, len(items))
	for i, item := range items {
		ixn, err := Normalize(item)
		if err != nil {
			return nil, errors.Wrapf(err, "instruction at index %d", i)
		}
		instructions = append(instructions, ixn)
	}
	return instructions, nil
}

func parseProgram(obj map[string]json.RawMessage) (ed25519.PublicKey, error) {
	for _, field := range programFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}

		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, newMalformedInstructionError(field, "not a string")
		}

		program, err := base58.Decode(encoded)
		if err != nil || len(program) != ed25519.PublicKeySize {
			return nil, newMalformedInstructionError(field, "invalid base58 public key")
		}

		return program, nil
	}

	return nil, newMalformedInstructionError(programFields[0], "required field missing")
}

func parseData(obj map[string]json.RawMessage) ([]byte, error) {
	for _, field := range dataFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}

		// Raw byte array form
		var byteValues []uint16
		if err := json.Unmarshal(raw, &byteValues); err == nil {
			data := make([]byte, len(byteValues))
			for i, v := range byteValues {
				if v > 0xff {
					return nil, newMalformedInstructionError(field, "byte value out of range")
				}
				data[i] = byte(v)
			}
			return data, nil
		}

		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, newMalformedInstructionError(field, "neither a byte array nor a string")
		}

		if len(encoded) == 0 {
			return []byte{}, nil
		}

		// Base64 is the common aggregator encoding, base58 is the common
		// wallet encoding. Strict base64 first so padding mismatches fall
		// through rather than silently misparse.
		if data, err := base64.StdEncoding.DecodeString(encoded); err == nil {
			return data, nil
		}
		if data, err := base58.Decode(encoded); err == nil {
			return data, nil
		}

		return nil, newMalformedInstructionError(field, "string is neither valid base64 nor base58")
	}

	// Payload is optional. Associated account creation, for example, carries
	// no instruction data at all.
	return []byte{}, nil
}

func parseAccounts(obj map[string]json.RawMessage) ([]solana.AccountMeta, error) {
	for _, field := range accountFields {
		raw, ok := obj[field]
		if !ok {
			continue
		}

		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, newMalformedInstructionError(field, "not an array")
		}

		accounts := make([]solana.AccountMeta, 0, len(items))
		for i, item := range items {
			account, err := parseAccount(item)
			if err != nil {
				return nil, errors.Wrapf(err, "%s[%d]", field, i)
			}
			accounts = append(accounts, account)
		}
		return accounts, nil
	}

	return nil, newMalformedInstructionError(accountFields[0], "required field missing")
}

func parseAccount(raw json.RawMessage) (solana.AccountMeta, error) {
	// Bare string form: a readonly non-signer address
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		pub, err := base58.Decode(encoded)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return solana.AccountMeta{}, newMalformedInstructionError(pubkeyFields[0], "invalid base58 public key")
		}
		return solana.NewReadonlyAccountMeta(pub, false), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return solana.AccountMeta{}, newMalformedInstructionError(pubkeyFields[0], "account is neither a string nor an object")
	}

	var pub ed25519.PublicKey
	for _, field := range pubkeyFields {
		rawKey, ok := obj[field]
		if !ok {
			continue
		}

		var keyStr string
		if err := json.Unmarshal(rawKey, &keyStr); err != nil {
			return solana.AccountMeta{}, newMalformedInstructionError(field, "not a string")
		}

		decoded, err := base58.Decode(keyStr)
		if err != nil || len(decoded) != ed25519.PublicKeySize {
			return solana.AccountMeta{}, newMalformedInstructionError(field, "invalid base58 public key")
		}

		pub = decoded
		break
	}
	if pub == nil {
		return solana.AccountMeta{}, newMalformedInstructionError(pubkeyFields[0], "required field missing")
	}

	isSigner := parseFlag(obj, signerFields)
	isWritable := parseFlag(obj, writableFields)

	return solana.AccountMeta{
		PublicKey:  pub,
		IsSigner:   isSigner,
		IsWritable: isWritable,
	}, nil
}

func parseFlag(obj map[string]json.RawMessage, fields []string) bool {
	for _, field := range fields {
		raw, ok := obj[field]
		if !ok {
			continue
		}

		var value bool
		if err := json.Unmarshal(raw, &value); err == nil {
			return value
		}
	}
	return false
}

// Preview renders a truncated single-line rendering of a raw upstream object
// for diagnostics. Long string fields are elided and the total output is
// capped so logging a preview is always safe.
func Preview(raw json.RawMessage) string {
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return truncate(string(raw), maxPreviewLength)
	}

	elided := elideStrings(value)
	b, err := json.Marshal(elided)
	if err != nil {
		return truncate(string(raw), maxPreviewLength)
	}

	return truncate(string(b), maxPreviewLength)
}

func elideStrings(value interface{}) interface{} {
	switch t := value.(type) {
	case string:
		if len(t) > maxPreviewStringLength {
			return fmt.Sprintf("%s...(%d bytes)", t[:maxPreviewStringLength], len(t))
		}
		return t
	case []interface{}:
		for i := range t {
			t[i] = elideStrings(t[i])
		}
		return t
	case map[string]interface{}:
		for k := range t {
			t[k] = elideStrings(t[k])
		}
		return t
	default:
		return value
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
