package lerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Parallel()

	testcases := []struct {
		desc     string
		err      *Error
		expected string
	}{
		{
			desc:     "runtime without traceback",
			err:      &Error{Kind: RuntimeErr, Filename: "@main.lua", Line: 3, Err: ErrInvalidLen},
			expected: "lua:@main.lua:3: invalid length operand",
		},
		{
			desc: "runtime with traceback",
			err: &Error{
				Kind:      UserErr,
				Filename:  "@main.lua",
				Line:      1,
				Err:       ErrAssertion,
				Traceback: []string{"\t@main.lua:1: in main chunk"},
			},
			expected: "lua:@main.lua:1: assertion failed!\nstack traceback:\n\t@main.lua:1: in main chunk",
		},
		{
			desc:     "runtime without line info",
			err:      &Error{Kind: RuntimeErr, Filename: "main.lua", Err: ErrStackOverflow},
			expected: "lua: stack overflow",
		},
		{
			desc:     "user error without location",
			err:      &Error{Kind: UserErr, Err: errors.New("boom")},
			expected: "lua: boom",
		},
		{
			desc:     "load with field",
			err:      &Error{Kind: LoadErr, Filename: "test.luac", Offset: 4, Field: "version", Err: ErrHeaderMismatch},
			expected: "Load Error: test.luac: offset 4: version: header mismatch",
		},
		{
			desc:     "load without field",
			err:      &Error{Kind: LoadErr, Filename: "test.luac", Offset: 40, Err: ErrUnexpectedEOF},
			expected: "Load Error: test.luac: offset 40: unexpected end of chunk",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.desc, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, tc.err.Error())
		})
	}
}

func TestErrorIs(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("wrapped: %w", &Error{Kind: LoadErr, Err: fmt.Errorf("code: %w", ErrUnknownOpcode)})
	assert.ErrorIs(t, err, ErrUnknownOpcode)
	assert.True(t, Is(err, LoadErr))
	assert.False(t, Is(err, RuntimeErr))
	assert.False(t, Is(errors.New("plain"), LoadErr))
}
