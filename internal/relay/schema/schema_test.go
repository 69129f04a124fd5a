package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldSpec(t *testing.T) {
	fields, err := ParseFieldSpec("address bidder, uint256 bidAmount, uint256 timestamp")
	require.NoError(t, err)
	require.Len(t, fields, 3)

	assert.Equal(t, Field{Type: "address", Name: "bidder"}, fields[0])
	assert.Equal(t, Field{Type: "uint256", Name: "bidAmount"}, fields[1])
	assert.Equal(t, Field{Type: "uint256", Name: "timestamp"}, fields[2])
}

func TestParseFieldSpecRejectsMalformedSegments(t *testing.T) {
	_, err := ParseFieldSpec("uint256")
	assert.Error(t, err)

	_, err = ParseFieldSpec("uint256 a b, address c")
	assert.Error(t, err)

	_, err = ParseFieldSpec("  ,  ")
	assert.Error(t, err)
}

func TestLookupKnownAndUnknown(t *testing.T) {
	reg := MustDefaultRegistry()

	desc, err := reg.Lookup("BID_PLACED")
	require.NoError(t, err)
	assert.Equal(t, "BID_PLACED", desc.Name)
	assert.Equal(t, []string{"bidder", "bidAmount", "txHash", "timestamp"}, desc.FieldNames())
	assert.NotEmpty(t, desc.ID)

	_, err = reg.Lookup("NOT_A_SCHEMA")
	var unknown *UnknownEventTypeError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "NOT_A_SCHEMA", unknown.EventType)
	assert.Contains(t, unknown.Known, "BID_PLACED")
}

func TestRegistryIsClosedAndDeterministic(t *testing.T) {
	reg := MustDefaultRegistry()

	assert.True(t, reg.Has("AUCTION_STARTED"))
	assert.False(t, reg.Has("auction_started"), "names are case sensitive")

	all := reg.All()
	require.Len(t, all, 4)
	assert.Equal(t, []string{"AUCTION_ENDED", "AUCTION_STARTED", "BID_PLACED", "NFT_MINTED"}, reg.Names())
	for i, desc := range all {
		assert.Equal(t, reg.Names()[i], desc.Name)
	}
}

func TestNewRegistryRejectsDuplicatesAndEmptyNames(t *testing.T) {
	_, err := NewRegistry([]Definition{
		{Name: "A", FieldSpec: "uint256 x", ID: "0x01"},
		{Name: "A", FieldSpec: "uint256 y", ID: "0x02"},
	})
	assert.Error(t, err)

	_, err = NewRegistry([]Definition{{Name: "", FieldSpec: "uint256 x", ID: "0x01"}})
	assert.Error(t, err)
}

func TestCheckFieldsExactMatch(t *testing.T) {
	reg := MustDefaultRegistry()
	desc, err := reg.Lookup("BID_PLACED")
	require.NoError(t, err)

	valid := map[string]any{
		"bidder":    "0xABC",
		"bidAmount": "0.5",
		"txHash":    "0xdead",
		"timestamp": "1700000000",
	}
	assert.NoError(t, desc.CheckFields(valid))
}

func TestCheckFieldsReportsMissingAndUnexpected(t *testing.T) {
	reg := MustDefaultRegistry()
	desc, err := reg.Lookup("BID_PLACED")
	require.NoError(t, err)

	data := map[string]any{
		"bidder": "0xABC",
		"color":  "red",
		"extra":  true,
	}
	err = desc.CheckFields(data)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)

	assert.Equal(t, []string{"bidAmount", "timestamp", "txHash"}, mismatch.Missing)
	assert.Equal(t, []string{"color", "extra"}, mismatch.Unexpected)
	assert.Contains(t, mismatch.Error(), "missing fields")
	assert.Contains(t, mismatch.Error(), "unexpected fields")
}

func TestCheckFieldsDoesNotWrapSentinels(t *testing.T) {
	reg := MustDefaultRegistry()
	desc, err := reg.Lookup("AUCTION_ENDED")
	require.NoError(t, err)

	err = desc.CheckFields(map[string]any{})
	assert.False(t, errors.Is(err, &UnknownEventTypeError{}), "mismatch must not be an unknown-type error")
	var mismatch *MismatchError
	assert.ErrorAs(t, err, &mismatch)
}
