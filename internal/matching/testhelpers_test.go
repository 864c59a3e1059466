package matching

import (
	"context"
	"math"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/biometric"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mock"
	"github.com/stretchr/testify/require"
)

const testDim = biometric.Dim

// basis returns a vector with scale at index i.
func basis(i int, scale float64) biometric.Embedding {
	e := make(biometric.Embedding, testDim)
	e[i] = scale
	return e
}

// shifted returns e moved by distance d along axis i.
func shifted(e biometric.Embedding, i int, d float64) biometric.Embedding {
	out := append(biometric.Embedding(nil), e...)
	out[i] += d
	return out
}

func enroll(t *testing.T, store *mock.MockIdentityStore, role database.Role, id string, e biometric.Embedding) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &database.Identity{ID: id, Role: role, Name: id, Embedding: e}))
}

func distance(t *testing.T, a, b biometric.Embedding) float64 {
	t.Helper()
	d, err := biometric.Distance(a, b)
	require.NoError(t, err)
	return d
}

func almost(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
