package util_test

import (
	"testing"
	"time"

	"github.com/chapool/go-wallet-signer/internal/util"
	"github.com/stretchr/testify/assert"
)

func TestGetEnvAsStringArr(t *testing.T) {
	t.Setenv("UTIL_TEST_ARR", " a, b,,c ")
	assert.Equal(t, []string{"a", "b", "c"}, util.GetEnvAsStringArr("UTIL_TEST_ARR", nil))
	assert.Equal(t, []string{"x"}, util.GetEnvAsStringArr("UTIL_TEST_UNSET", []string{"x"}))

	t.Setenv("UTIL_TEST_PIPE", "a|b")
	assert.Equal(t, []string{"a", "b"}, util.GetEnvAsStringArr("UTIL_TEST_PIPE", nil, "|"))
}

func TestGetEnvAsNumbers(t *testing.T) {
	t.Setenv("UTIL_TEST_INT", "42")
	t.Setenv("UTIL_TEST_BAD", "nope")
	assert.Equal(t, 42, util.GetEnvAsInt("UTIL_TEST_INT", 1))
	assert.Equal(t, 1, util.GetEnvAsInt("UTIL_TEST_BAD", 1))
	assert.Equal(t, uint64(42), util.GetEnvAsUint64("UTIL_TEST_INT", 7))
	assert.Equal(t, uint64(7), util.GetEnvAsUint64("UTIL_TEST_BAD", 7))
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("UTIL_TEST_DUR", "1m30s")
	t.Setenv("UTIL_TEST_DUR_BAD", "soon")
	assert.Equal(t, 90*time.Second, util.GetEnvAsDuration("UTIL_TEST_DUR", time.Second))
	assert.Equal(t, time.Second, util.GetEnvAsDuration("UTIL_TEST_DUR_BAD", time.Second))
	assert.Equal(t, time.Second, util.GetEnvAsDuration("UTIL_TEST_DUR_UNSET", time.Second))
}

func TestGetEnvAsBool(t *testing.T) {
	t.Setenv("UTIL_TEST_BOOL", "true")
	assert.True(t, util.GetEnvAsBool("UTIL_TEST_BOOL", false))
	assert.False(t, util.GetEnvAsBool("UTIL_TEST_BOOL_UNSET", false))
}

func TestStrip0x(t *testing.T) {
	assert.Equal(t, "abcd", util.Strip0x("0xabcd"))
	assert.Equal(t, "abcd", util.Strip0x("0Xabcd"))
	assert.Equal(t, "abcd", util.Strip0x("abcd"))
	assert.True(t, util.Has0x("0x"))
	assert.False(t, util.Has0x("x0"))
}
