package specialty

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveBuiltins(t *testing.T) {
	t.Parallel()

	for _, builtin := range List() {
		builtin := builtin
		t.Run(builtin.Name, func(t *testing.T) {
			t.Parallel()
			cfg, err := Resolve(builtin.Name, "")
			require.NoError(t, err)
			require.Equal(t, builtin.Name, cfg.Name)
			require.NotEmpty(t, cfg.Terms)
			require.NotEmpty(t, cfg.Description)
		})
	}
}

func TestResolveCustomTrimsAndDropsEmpty(t *testing.T) {
	t.Parallel()

	cfg, err := Resolve(CustomName, "a, b ,, c")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, cfg.Terms)
	require.Equal(t, "Custom Search", cfg.Name)
}

func TestResolveInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		custom string
	}{
		{name: "unknown", input: "NotReal"},
		{name: "custom empty", input: CustomName, custom: ""},
		{name: "custom only separators", input: CustomName, custom: " , ,"},
		{name: "case sensitive", input: "cardiology"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Resolve(tt.input, tt.custom)
			require.True(t, errors.Is(err, ErrInvalidSpecialty), "got %v", err)
		})
	}
}

func TestListReturnsCopies(t *testing.T) {
	t.Parallel()

	first := List()
	require.Len(t, first, 5)
	first[0].Terms[0] = "mutated"

	cfg, err := Resolve("Cardiology", "")
	require.NoError(t, err)
	require.Equal(t, "cardiology", cfg.Terms[0])
}
