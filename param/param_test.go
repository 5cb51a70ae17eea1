package param

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/arloliu/go-labrpc/logger"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

// labTree builds:
//
//	power            get/set float
//	A:B              set string
//	laser:output     toggle
//	laser:offset     set float
//	dac:channel-N:volt  get, N in [1,4]
type labTree struct {
	root    *Node
	mu      sync.Mutex
	power   float64
	b       string
	toggles int
	offset  float64
}

func newLabTree(t *testing.T) *labTree {
	t.Helper()
	lt := &labTree{}

	volt := MustNew(WithGetter(IndexedValue(func(info []any) (string, error) {
		ch, err := InfoAt[int](info, 0)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("ch%d", ch), nil
	})))

	root, err := New(
		WithChild("power", MustNew(
			WithGetter(Value(func() float64 {
				lt.mu.Lock()
				defer lt.mu.Unlock()
				return lt.power
			})),
			WithSetter(SetFloat(func(v float64) error {
				lt.mu.Lock()
				defer lt.mu.Unlock()
				lt.power = v
				return nil
			})),
		)),
		WithChild("A", MustNew(
			WithChild("B", MustNew(WithSetter(SetString(func(v string) error {
				lt.b = v
				return nil
			})))),
		)),
		WithChild("laser", MustNew(
			WithChild("output", MustNew(WithToggle(Toggle(func() error {
				lt.toggles++
				return nil
			})))),
			WithChild("offset", MustNew(WithSetter(SetFloat(func(v float64) error {
				lt.offset = v
				return nil
			})))),
		)),
		WithChild("dac", MustNew(
			WithChild("channel", MustNew(
				WithInfo(IntInfo(1, 4)),
				WithChild("volt", volt),
			)),
		)),
	)
	require.NoError(t, err)
	lt.root = root

	return lt
}

func TestParse(t *testing.T) {
	tests := []struct {
		msg   string
		op    opKind
		names []string
		infos []string
		rest  string
	}{
		{msg: "A:B=5", op: opSet, names: []string{"A", "B"}, rest: "5"},
		{msg: "  power ? ", op: opGet, names: []string{"power"}, rest: ""},
		{msg: "laser:output", op: opToggle, names: []string{"laser", "output"}, rest: ""},
		{msg: "dac:channel-2:volt?", op: opGet, names: []string{"dac", "channel", "volt"}, infos: []string{"", "2", ""}},
		// earliest separator wins, later symbols belong to the remainder
		{msg: "a?b=c", op: opGet, names: []string{"a"}, rest: "b=c"},
		{msg: "a=b?c", op: opSet, names: []string{"a"}, rest: "b?c"},
		{msg: "a=x:y", op: opSet, names: []string{"a"}, rest: "x:y"},
		{msg: "a:b?c:d", op: opGet, names: []string{"a", "b"}, rest: "c:d"},
		// '-' after the separator is plain text
		{msg: "offset=-1.5", op: opSet, names: []string{"offset"}, rest: "-1.5"},
		{msg: "Ch an nel - 3 ?", op: opGet, names: []string{"Channel"}, infos: []string{" 3 "}},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			require := require.New(t)

			cmd := parse(tt.msg)
			require.Equal(tt.op, cmd.op)
			require.Len(cmd.steps, len(tt.names))

			for i, st := range cmd.steps {
				require.Equal(tt.names[i], st.name)
				if tt.infos != nil {
					require.Equal(tt.infos[i], st.info)
					require.Equal(tt.infos[i] != "", st.hasInfo)
				} else {
					require.False(st.hasInfo)
				}
			}
			require.Equal(tt.rest, cmd.steps[len(cmd.steps)-1].rest)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	require := require.New(t)

	cmd := parse("   ")
	require.Equal(opToggle, cmd.op)
	require.Empty(cmd.steps)
	require.Empty(cmd.text)
}

func TestDispatch(t *testing.T) {
	lt := newLabTree(t)

	tests := []struct {
		msg  string
		want string
	}{
		{"A:B=5", "1|5"},
		{"a : b = hello world ", "1|hello world"},
		{"A:Z?", `0|Parameter "Z" for A does not exist, remaining message: Z?`},
		{"bogus?", `0|Parameter "bogus" for root does not exist, remaining message: bogus?`},
		{"power=3.5", "1|3.5"},
		{"POWER ?", "1|3.5"},
		{"power=abc", `0|value "abc" is not a number`},
		{"power", "0|Requested toggle function for power but this does not exist, remaining message: "},
		{"A:B?", "0|Requested get function for A:B but this does not exist, remaining message: "},
		{"laser:output=1", "0|Requested set function for laser:output but this does not exist, remaining message: 1"},
		{"laser:output", "1|"},
		{"laser:offset=-1.5", "1|-1.5"},
		{"dac:channel-2:volt?", "1|ch2"},
		{"dac:channel-9:volt?", "0|info 9 is out of range [1, 4]"},
		{"dac:channel:volt?", "0|Did not receive info for dac:channel when needed, remaining message: volt?"},
		{"dac-3:channel-2:volt?", "0|Received info 3 for dac when not needed, remaining message: channel-2:volt?"},
		{"", "0|Requested toggle function for root but this does not exist, remaining message: "},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			require.Equal(t, tt.want, lt.root.Run(tt.msg))
		})
	}

	require.Equal(t, "hello world", lt.b)
	require.Equal(t, 1, lt.toggles)
	require.InDelta(t, -1.5, lt.offset, 0)
}

func TestDispatch_InfoAccumulates(t *testing.T) {
	require := require.New(t)

	var got []any
	root := MustNew(
		WithChild("bank", MustNew(
			WithInfo(StringInfo()),
			WithChild("slot", MustNew(
				WithInfo(IntInfo(0, 10)),
				WithGetter(func(info []any) (string, error) {
					got = info
					return "ok", nil
				}),
			)),
		)),
	)

	require.Equal("1|ok", root.Run("bank-left:slot-7?"))
	require.Equal([]any{"left", 7}, got)
}

func TestDispatch_HandlerFailures(t *testing.T) {
	require := require.New(t)

	root := MustNew(
		WithChild("fail", MustNew(WithGetter(func([]any) (string, error) {
			return "", errors.New("instrument busy")
		}))),
		WithChild("panic", MustNew(WithGetter(func([]any) (string, error) {
			panic("boom")
		}))),
		WithChild("badinfo", MustNew(
			WithInfo(func(string) (any, error) { panic("bad") }),
			WithGetter(Value(func() int { return 1 })),
		)),
		WithChild("trip", MustNew(
			WithSetter(func(string, []any) (string, error) { panic("secret detail") }),
			WithToggle(func([]any) (string, error) { panic("secret detail") }),
		)),
	)

	require.Equal("0|instrument busy", root.Run("fail?"))
	require.Equal("0|An exception occured", root.Run("panic?"))
	require.Equal("0|An exception occured", root.Run("badinfo-1?"))
	require.Equal("0|An exception occured", root.Run("trip=1"))
	require.Equal("0|An exception occured", root.Run("trip"))
	require.NotContains(root.Run("trip"), "secret detail")

	reply := root.Dispatch("fail?")
	require.False(reply.OK)
	require.EqualError(reply.Err(), "an error occurred: instrument busy")
}

func TestDispatch_MalformedNeverPanics(t *testing.T) {
	lt := newLabTree(t)

	inputs := []string{
		"", ":", "::::", "=", "?", "-", "---?", "a-", "-=", "?:=", "A:", "A::B=1",
		"\x00\x01", "power=\n", "dac:channel-:volt?", "dac:channel-2-3:volt?",
		strings.Repeat(":", 1000), strings.Repeat("a-", 500), strings.Repeat("A:", 200) + "?",
	}

	for _, in := range inputs {
		require.NotPanics(t, func() {
			out := lt.root.Run(in)
			require.True(t, strings.HasPrefix(out, "0|") || strings.HasPrefix(out, "1|"), "input %q gave %q", in, out)
		})
	}
}

func TestNode_Children(t *testing.T) {
	require := require.New(t)

	root := MustNew()
	require.NoError(root.AddChild("Temp Sensor", MustNew()))
	require.ErrorIs(root.AddChild("", MustNew()), ErrInvalidName)
	require.ErrorIs(root.AddChild("a:b", MustNew()), ErrInvalidName)
	require.ErrorIs(root.AddChild("a-b", MustNew()), ErrInvalidName)
	require.ErrorIs(root.AddChild("x", nil), ErrInvalidName)

	_, err := New(WithChild("bad?", MustNew()))
	require.ErrorIs(err, ErrInvalidName)
	require.Panics(func() { MustNew(WithChild("=", MustNew())) })

	child, ok := root.Child("TEMPSENSOR")
	require.True(ok)
	require.NotNil(child)
	require.Equal([]string{"tempsensor"}, root.Children())

	require.True(root.RemoveChild("tempSensor"))
	require.False(root.RemoveChild("tempSensor"))
}

func TestNode_Resolve(t *testing.T) {
	require := require.New(t)
	lt := newLabTree(t)

	node, err := lt.root.Resolve("dac:channel-1:volt")
	require.NoError(err)
	require.NotNil(node.get)
	require.Equal("1|ch3", lt.root.Run("dac:channel-3:volt?"))

	same, err := lt.root.Resolve("")
	require.NoError(err)
	require.Same(lt.root, same)

	_, err = lt.root.Resolve("laser:missing:x")
	var addrErr *AddressError
	require.ErrorAs(err, &addrErr)
	require.Equal("missing", addrErr.Name)
	require.Equal("laser", addrErr.Path)
	require.Equal("missing:x", addrErr.Remaining)
}

func TestInfoAt(t *testing.T) {
	require := require.New(t)

	v, err := InfoAt[int]([]any{4}, 0)
	require.NoError(err)
	require.Equal(4, v)

	_, err = InfoAt[int]([]any{4}, 1)
	require.EqualError(err, "expected info value 1 but received 1 values")

	_, err = InfoAt[string]([]any{4}, 0)
	require.Error(err)
}

func TestSetters(t *testing.T) {
	require := require.New(t)

	var b bool
	out, err := SetBool(func(v bool) error { b = v; return nil })(" true ", nil)
	require.NoError(err)
	require.Equal("true", out)
	require.True(b)

	_, err = SetBool(func(bool) error { return nil })("maybe", nil)
	require.Error(err)

	var n int
	out, err = SetInt(func(v int) error { n = v; return nil })("42", nil)
	require.NoError(err)
	require.Equal("42", out)
	require.Equal(42, n)

	_, err = SetInt(func(int) error { return errors.New("read only") })("1", nil)
	require.EqualError(err, "read only")

	out, err = ValueErr(func() (string, error) { return "idle", nil })(nil)
	require.NoError(err)
	require.Equal("idle", out)
}
