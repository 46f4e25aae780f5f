package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotVersion(t *testing.T) {
	base := SlotVersion("blk_1", "default", []string{"a", "b", "c"})

	assert.Equal(t, base, SlotVersion("blk_1", "default", []string{"a", "b", "c"}))
	assert.NotEqual(t, base, SlotVersion("blk_1", "default", []string{"b", "a", "c"}))
	assert.NotEqual(t, base, SlotVersion("blk_1", "default", []string{"a", "b"}))
	assert.NotEqual(t, base, SlotVersion("blk_1", "other", []string{"a", "b", "c"}))
	assert.Len(t, base, 16)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		key     string
		wantErr bool
	}{
		{"note", false},
		{"core.task-list", false},
		{"", true},
		{"Note", true},
		{"1note", true},
		{"no spaces", true},
		{strings.Repeat("a", MaxKeyLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			err := ValidateKey(tt.key)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSlot(t *testing.T) {
	assert.NoError(t, ValidateSlot(""))
	assert.NoError(t, ValidateSlot("body.columns"))
	assert.Error(t, ValidateSlot("bad slot"))
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, ValidateID("blk_01H", "id", true))
	assert.Error(t, ValidateID("", "id", true))
	assert.Error(t, ValidateID("a/b", "id", true))
	assert.NoError(t, ValidateID("", "id", false))
}

func TestValidatePayload(t *testing.T) {
	assert.NoError(t, ValidatePayload(map[string]any{"title": "ok"}))

	deep := map[string]any{}
	cur := deep
	for i := 0; i < MaxJSONDepth+2; i++ {
		next := map[string]any{}
		cur["n"] = next
		cur = next
	}
	assert.Error(t, ValidatePayload(deep))

	big := map[string]any{"blob": strings.Repeat("x", MaxPayloadSize)}
	assert.Error(t, ValidatePayload(big))
}
