package round

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckTag(t *testing.T) {
	tag := []byte{0x00, 0x00, 0x04, 0x02}

	tests := []struct {
		name    string
		data    []byte
		dataLen int
		tagLen  int
		want    bool
	}{
		{"exact prefix", []byte{0, 0, 4, 2, 9, 9}, 6, 4, true},
		{"trailing bytes ignored", []byte{0, 0, 4, 2, 0xff, 0xff}, 6, 4, true},
		{"data exactly tag length", []byte{0, 0, 4, 2}, 4, 4, true},
		{"data shorter than tag", []byte{0, 0, 4}, 3, 4, false},
		{"declared length shorter than tag", []byte{0, 0, 4, 2}, 2, 4, false},
		{"first byte differs", []byte{1, 0, 4, 2}, 4, 4, false},
		{"last byte differs", []byte{0, 0, 4, 3}, 4, 4, false},
		{"empty tag", []byte{7}, 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckTag(tt.data, tt.dataLen, tag, tt.tagLen))
		})
	}
}
