package rawixn

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateKey(t *testing.T) string {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub)
}

func TestNormalize_FieldSynonyms(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)
	data := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})

	for _, programField := range []string{"programId", "program_id", "program"} {
		for _, accountField := range []string{"accounts", "keys"} {
			raw := fmt.Sprintf(
				`{"%s": "%s", "data": "%s", "%s": [{"pubkey": "%s", "isSigner": true, "isWritable": true}]}`,
				programField, program, data, accountField, account,
			)

			ixn, err := Normalize(json.RawMessage(raw))
			require.NoError(t, err)

			assert.Equal(t, program, base58.Encode(ixn.Program))
			assert.Equal(t, []byte{1, 2, 3}, ixn.Data)
			require.Len(t, ixn.Accounts, 1)
			assert.Equal(t, account, base58.Encode(ixn.Accounts[0].PublicKey))
			assert.True(t, ixn.Accounts[0].IsSigner)
			assert.True(t, ixn.Accounts[0].IsWritable)
		}
	}
}

func TestNormalize_DataEncodings(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	for _, tc := range []struct {
		name string
		data string
	}{
		{"base64", fmt.Sprintf(`"%s"`, base64.StdEncoding.EncodeToString(payload))},
		{"base58", fmt.Sprintf(`"%s"`, base58.Encode(payload))},
		{"byte array", `[222, 173, 190, 239]`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			raw := fmt.Sprintf(
				`{"programId": "%s", "data": %s, "accounts": ["%s"]}`,
				program, tc.data, account,
			)

			ixn, err := Normalize(json.RawMessage(raw))
			require.NoError(t, err)
			assert.Equal(t, payload, ixn.Data)
		})
	}
}

func TestNormalize_PayloadFieldSynonym(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)

	raw := fmt.Sprintf(
		`{"programId": "%s", "payload": "%s", "accounts": ["%s"]}`,
		program, base64.StdEncoding.EncodeToString([]byte{7}), account,
	)

	ixn, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, ixn.Data)
}

func TestNormalize_MissingPayloadIsEmpty(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)

	raw := fmt.Sprintf(`{"programId": "%s", "accounts": ["%s"]}`, program, account)

	ixn, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Empty(t, ixn.Data)
}

func TestNormalize_BareStringAccount(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)

	raw := fmt.Sprintf(`{"programId": "%s", "accounts": ["%s"]}`, program, account)

	ixn, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)

	require.Len(t, ixn.Accounts, 1)
	assert.Equal(t, account, base58.Encode(ixn.Accounts[0].PublicKey))
	assert.False(t, ixn.Accounts[0].IsSigner)
	assert.False(t, ixn.Accounts[0].IsWritable)
}

func TestNormalize_AccountFlagSynonyms(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)

	raw := fmt.Sprintf(
		`{"programId": "%s", "accounts": [{"address": "%s", "signer": true, "writable": true}]}`,
		program, account,
	)

	ixn, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)

	require.Len(t, ixn.Accounts, 1)
	assert.True(t, ixn.Accounts[0].IsSigner)
	assert.True(t, ixn.Accounts[0].IsWritable)
}

func TestNormalize_Malformed(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)

	for _, tc := range []struct {
		name  string
		raw   string
		field string
	}{
		{"not an object", `[]`, "(root)"},
		{"missing program", fmt.Sprintf(`{"accounts": ["%s"]}`, account), "programId"},
		{"invalid program key", fmt.Sprintf(`{"programId": "notakey", "accounts": ["%s"]}`, account), "programId"},
		{"missing accounts", fmt.Sprintf(`{"programId": "%s"}`, program), "accounts"},
		{"byte value out of range", fmt.Sprintf(`{"programId": "%s", "data": [300], "accounts": ["%s"]}`, program, account), "data"},
		{"undecodable data string", fmt.Sprintf(`{"programId": "%s", "data": "!!!", "accounts": ["%s"]}`, program, account), "data"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(json.RawMessage(tc.raw))
			require.Error(t, err)

			var malformed *MalformedInstructionError
			require.True(t, errors.As(err, &malformed))
			assert.Equal(t, tc.field, malformed.Field)
		})
	}
}

func TestNormalize_MalformedAccountEntry(t *testing.T) {
	program := generateKey(t)

	raw := fmt.Sprintf(`{"programId": "%s", "accounts": [{"isSigner": true}]}`, program)

	_, err := Normalize(json.RawMessage(raw))
	require.Error(t, err)

	var malformed *MalformedInstructionError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "pubkey", malformed.Field)
}

func TestNormalizeAll(t *testing.T) {
	program := generateKey(t)
	account := generateKey(t)

	t.Run("happy path", func(t *testing.T) {
		raw := fmt.Sprintf(
			`[{"programId": "%s", "accounts": ["%s"]}, {"program": "%s", "keys": ["%s"]}]`,
			program, account, program, account,
		)

		instructions, err := NormalizeAll(json.RawMessage(raw))
		require.NoError(t, err)
		assert.Len(t, instructions, 2)
	})

	t.Run("error names the index", func(t *testing.T) {
		raw := fmt.Sprintf(
			`[{"programId": "%s", "accounts": ["%s"]}, {"accounts": ["%s"]}]`,
			program, account, account,
		)

		_, err := NormalizeAll(json.RawMessage(raw))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "index 1")

		var malformed *MalformedInstructionError
		assert.True(t, errors.As(err, &malformed))
	})

	t.Run("not an array", func(t *testing.T) {
		_, err := NormalizeAll(json.RawMessage(`{}`))
		require.Error(t, err)
	})
}

func TestPreview(t *testing.T) {
	t.Run("elides long strings", func(t *testing.T) {
		long := strings.Repeat("a", 500)
		raw := fmt.Sprintf(`{"data": "%s"}`, long)

		preview := Preview(json.RawMessage(raw))
		assert.Less(t, len(preview), len(raw))
		assert.Contains(t, preview, "(500 bytes)")
	})

	t.Run("caps total output", func(t *testing.T) {
		var fields []string
		for i := 0; i < 200; i++ {
			fields = append(fields, fmt.Sprintf(`"field%d": %d`, i, i))
		}
		raw := "{" + strings.Join(fields, ", ") + "}"

		preview := Preview(json.RawMessage(raw))
		assert.LessOrEqual(t, len(preview), maxPreviewLength+len("...(truncated)"))
	})

	t.Run("invalid json passes through truncated", func(t *testing.T) {
		preview := Preview(json.RawMessage(`not json`))
		assert.Equal(t, "not json", preview)
	})
}
