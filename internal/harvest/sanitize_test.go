package harvest

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "more banner with cursor reposition",
			in:   "interface Gi0/1\n ---- More ----\x1b[42D    \x1b[42D description uplink\n",
			want: "interface Gi0/1\n      description uplink",
		},
		{
			name: "bare control fragments",
			in:   "a\n---- More ----[42Db\n",
			want: "a\nb",
		},
		{
			name: "help line",
			in:   "vlan 10\n\x1b[0mMore: <space>,  Quit: q or CTRL+Z, One line: <return>\nvlan 20",
			want: "vlan 10\nvlan 20",
		},
		{
			name: "help line without escape",
			in:   "vlan 10\n[0mMore: <space>,  Quit: q or CTRL+Z, One line: <return>vlan 20",
			want: "vlan 10\nvlan 20",
		},
		{
			name: "collapses blank lines",
			in:   "\n\nhostname sw\n\n\n\ninterface x\n\n",
			want: "hostname sw\ninterface x",
		},
		{
			name: "crlf",
			in:   "hostname sw\r\n\r\nend\r\n",
			want: "hostname sw\nend",
		},
		{
			name: "artifact revealed by removal",
			in:   "x---- Mo---- More ----re ----y",
			want: "xy",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	pieces := []string{
		"---- More ----", "\x1b[42D", "[42D", "\x1b", "[0mMore: <space>,  Quit: q or CTRL+Z, One line: <return>",
		"\n", "\n\n", "\r\n", " ", "---- ", "More", " ----", "[42", "D", "interface", "return", "switchA#",
	}
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		var b strings.Builder
		for j := rng.Intn(20); j > 0; j-- {
			b.WriteString(pieces[rng.Intn(len(pieces))])
		}
		in := b.String()
		once := Sanitize(in)

		assert.Equal(t, once, Sanitize(once), "input %q", in)
		assert.NotContains(t, once, "---- More ----", "input %q", in)
		assert.NotContains(t, once, "[42D", "input %q", in)
		assert.NotContains(t, once, "More: <space>,  Quit: q or CTRL+Z, One line: <return>", "input %q", in)
		assert.NotContains(t, once, "\n\n", "input %q", in)
	}
}
