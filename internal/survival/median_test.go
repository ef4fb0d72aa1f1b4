package survival

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedianOf(t *testing.T) {
	tests := []struct {
		name string
		in   []Duration
		want Median
	}{
		{"empty", nil, Median{Infinite: true}},
		{"one censored", []Duration{Observed(10), Observed(20), Censored(3600)}, Median{Seconds: 20}},
		{"all censored", []Duration{Censored(3600), Censored(3600)}, Median{Infinite: true}},
		{"odd unsorted", []Duration{Observed(30), Observed(10), Observed(20)}, Median{Seconds: 20}},
		{"even", []Duration{Observed(40), Observed(10), Observed(20), Observed(30)}, Median{Seconds: 25}},
		{"even upper censored", []Duration{Observed(10), Censored(100)}, Median{Infinite: true}},
		{"even censored tail", []Duration{Observed(10), Observed(20), Observed(30), Censored(5)}, Median{Seconds: 25}},
		{"majority censored", []Duration{Observed(1), Censored(9), Censored(9)}, Median{Infinite: true}},
		{"censored horizon below observed", []Duration{Censored(1), Observed(50), Observed(60)}, Median{Seconds: 60}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MedianOf(tt.in))
		})
	}
}

func TestMedianMinutes(t *testing.T) {
	m, ok := Median{Seconds: 61}.Minutes()
	assert.True(t, ok)
	assert.Equal(t, int64(2), m)

	m, _ = Median{Seconds: 60}.Minutes()
	assert.Equal(t, int64(1), m)

	m, _ = Median{Seconds: 0}.Minutes()
	assert.Equal(t, int64(0), m)

	_, ok = Median{Infinite: true}.Minutes()
	assert.False(t, ok)
	assert.Equal(t, "inf", Median{Infinite: true}.String())
	assert.Equal(t, "3", Median{Seconds: 125.5}.String())
}

func TestDuration(t *testing.T) {
	d := Censored(86400)
	assert.True(t, d.IsCensored())
	assert.Equal(t, int64(86400), d.Seconds())
	assert.False(t, Observed(5).IsCensored())
}
