package util

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConvertList(t *testing.T) {
	t.Parallel()

	got := ConvertList([]int{1, 2, 3}, strconv.Itoa)
	assert.Equal(t, []string{"1", "2", "3"}, got)
	assert.Empty(t, ConvertList(nil, strconv.Itoa))
}

func TestPtrVal(t *testing.T) {
	t.Parallel()

	p := Ptr(42)
	assert.Equal(t, 42, *p)
	assert.Equal(t, 42, Val(p))
	assert.Zero(t, Val[int](nil))
}

func TestNewRestyClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewRestyClient(0)
	assert.Equal(t, 10*time.Second, c.GetClient().Timeout)

	c = NewRestyClient(3 * time.Second)
	assert.Equal(t, 3*time.Second, c.GetClient().Timeout)
}

func TestMustCounterReregistration(t *testing.T) {
	t.Parallel()

	a := MustCounter("util_test_counter_total", "test counter")
	b := MustCounter("util_test_counter_total", "test counter")
	assert.Equal(t, a, b)

	va := MustCounterVec("util_test_counter_vec_total", "test counter vec", "kind")
	vb := MustCounterVec("util_test_counter_vec_total", "test counter vec", "kind")
	assert.Equal(t, va, vb)
}
