package biometric

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomEmbedding(r *rand.Rand, dim int) Embedding {
	e := make(Embedding, dim)
	for i := range e {
		e[i] = r.NormFloat64() * 0.1
	}
	return e
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		e := randomEmbedding(r, Dim)
		blob := Encode(e)
		require.Len(t, blob, Dim*8)

		got, err := Decode(blob, Dim)
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64(e), []float64(got), 1e-12)
	}
}

func TestEncode_LittleEndian(t *testing.T) {
	blob := Encode(Embedding{1.0})
	// 1.0 = 0x3FF0000000000000
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, blob)
}

func TestDecode_RejectsCorruptBlobs(t *testing.T) {
	valid := Encode(make(Embedding, Dim))

	tests := []struct {
		name string
		blob []byte
	}{
		{"empty", []byte{}},
		{"not multiple of 8", valid[:len(valid)-3]},
		{"one byte short", valid[:len(valid)-1]},
		{"one value short", valid[:len(valid)-8]},
		{"one value long", append(append([]byte{}, valid...), make([]byte, 8)...)},
		{"float32 blob", make([]byte, Dim*4)},
		{"odd length", make([]byte, 1027)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.blob, Dim)
			require.Error(t, err)
			assert.Nil(t, got)
			assert.ErrorIs(t, err, ErrMalformedEmbedding)

			var me *MalformedEmbeddingError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, Dim, me.Expected)
		})
	}
}

func TestValidate(t *testing.T) {
	ok := make(Embedding, Dim)
	assert.NoError(t, ok.Validate(Dim))

	assert.ErrorIs(t, make(Embedding, Dim-1).Validate(Dim), ErrMalformedEmbedding)
	assert.ErrorIs(t, Embedding(nil).Validate(Dim), ErrMalformedEmbedding)

	nan := make(Embedding, Dim)
	nan[5] = math.NaN()
	err := nan.Validate(Dim)
	require.ErrorIs(t, err, ErrMalformedEmbedding)
	assert.Contains(t, err.Error(), "index 5")

	inf := make(Embedding, Dim)
	inf[0] = math.Inf(1)
	assert.ErrorIs(t, inf.Validate(Dim), ErrMalformedEmbedding)
}

func TestFloat32Conversion(t *testing.T) {
	e := Embedding{0.25, -1.5, 3}
	f := e.Float32()
	assert.Equal(t, []float32{0.25, -1.5, 3}, f)
	assert.Equal(t, e, FromFloat32(f))
}

func TestMalformedEmbeddingError_Owner(t *testing.T) {
	err := &MalformedEmbeddingError{Expected: 128, Actual: 127, Bytes: 1016, Owner: "student/S1"}
	assert.Equal(t, "malformed embedding: expected 128 values, got 127 (student/S1)", err.Error())

	err = &MalformedEmbeddingError{Expected: 128, Bytes: 1020}
	assert.Equal(t, "malformed embedding: 1020 bytes is not a multiple of 8", err.Error())
}
