package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want int
	}{
		{"equal", "1.2.3", "1.2.3", 0},
		{"missing trailing components", "1.2", "1.2.0", 0},
		{"major wins", "2.0", "1.9.9", 1},
		{"minor older", "1.2.9", "1.10.0", -1},
		{"longer is newer", "1.2.0.1", "1.2", 1},
		{"non numeric degrades to zero", "1.x.3", "1.0.3", 0},
		{"negative degrades to zero", "1.-1", "1.0", 0},
		{"empty vs zero", "", "0.0", 0},
		{"empty vs release", "", "0.1", -1},
		{"whitespace", " 1.2 ", "1.2", 0},
		{"unknown installed version", "Unknown", "1.0", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compare(tt.a, tt.b))
		})
	}
}

func TestCompare_Antisymmetric(t *testing.T) {
	versions := []string{"", "0", "1", "1.0", "1.0.1", "1.2", "1.10", "2.0", "2.0.0.0", "10.1", "a.b", "3.beta.1"}

	for _, a := range versions {
		assert.Equal(t, 0, Compare(a, a), "Compare(%q, %q)", a, a)

		for _, b := range versions {
			assert.Equal(t, -Compare(b, a), Compare(a, b), "Compare(%q, %q)", a, b)
		}
	}
}

func TestLess(t *testing.T) {
	assert.True(t, Less("1.9.9", "2.0"))
	assert.False(t, Less("2.0", "2.0.0"))
	assert.False(t, Less("2.1", "2.0"))
}
