package transforms

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, value any, specs ...string) any {
	t.Helper()
	out, err := NewEngine(NewRegistry()).Apply(value, specs, NewContext(nil, "f"))
	require.NoError(t, err)
	return out
}

func TestEngine_Pipelines(t *testing.T) {
	assert.Equal(t, "hello", apply(t, "  HELLO  ", "trim", "lower"))
	assert.Equal(t, int64(123), apply(t, "123", "cast:int"))
	assert.Equal(t, "value", apply(t, nil, "default:value"))
	assert.Equal(t, "kept", apply(t, "kept", "default:value"))
}

func TestEngine_UnknownTransform(t *testing.T) {
	_, err := NewEngine(nil).Apply("x", []string{"trim", "frobnicate"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownTransform))

	_, err = NewEngine(nil).Apply("x", []string{"truncate:abc"}, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownTransform))
}

func TestTextBuiltins(t *testing.T) {
	cases := []struct {
		spec string
		in   any
		want any
	}{
		{"upper", "abc", "ABC"},
		{"capitalize", "émile zola", "Émile zola"},
		{"title", "the old man", "The Old Man"},
		{"slugify", "Crème Brûlée & Co!", "creme-brulee-co"},
		{"snake_case", "parseHTTPRequest now", "parse_http_request_now"},
		{"camel_case", "first_name-value", "firstNameValue"},
		{"strip_tags", "<p>Hi <b>there</b></p>", "Hi there"},
		{"clean_whitespace", "  a \t b\n c ", "a b c"},
		{"normalize_multiline", "a  \r\nb\r\r\r\rc", "a\nb\n\nc"},
		{"null_if_empty", "   ", nil},
		{"truncate:5", "abcdefgh", "abcde"},
		{"truncate:3:...", "Größe", "Grö..."},
		{"truncate:10", "short", "short"},
		{"prefix:SKU-", int64(42), "SKU-42"},
		{"suffix: kg", "5", "5 kg"},
		{"split", "a, b,,c", []any{"a", "b", "c"}},
		{"split:|", "x|y", []any{"x", "y"}},
		{"hash:md5", "abc", "900150983cd24fb0d6963f7d28e17f72"},
		{"hash", "abc", "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"},
		{"upper", 12, 12},
		{"trim", []any{" a "}, []any{" a "}},
	}
	for _, tc := range cases {
		t.Run(tc.spec, func(t *testing.T) {
			assert.Equal(t, tc.want, apply(t, tc.in, tc.spec))
		})
	}
}

func TestNumericBuiltins(t *testing.T) {
	assert.Equal(t, int64(3), apply(t, "3.9", "floor"))
	assert.Equal(t, int64(4), apply(t, 3.1, "ceil"))
	assert.Equal(t, int64(1999), apply(t, "$19.99", "to_cents"))
	assert.Equal(t, 19.99, apply(t, int64(1999), "from_cents"))
	assert.Equal(t, 3.14, apply(t, "3.14159", "round:2"))
	assert.Equal(t, 7.5, apply(t, "2.5", "multiply:3"))
	assert.Equal(t, -42.0, apply(t, "(42)", "cast:float"))
	assert.Equal(t, int64(1200), apply(t, "1,200", "cast:int"))
	assert.Equal(t, "n/a", apply(t, "n/a", "floor"))

	tc := NewContext(nil, "price")
	out, err := NewEngine(nil).Apply(10, []string{"divide:0"}, tc)
	require.NoError(t, err)
	assert.Equal(t, 10, out)
	require.Len(t, tc.Warnings(), 1)
	assert.Contains(t, tc.Warnings()[0], "price: division by zero")
}

func TestCast(t *testing.T) {
	assert.Equal(t, true, apply(t, "Yes", "cast:bool"))
	assert.Equal(t, false, apply(t, "off", "cast:boolean"))
	assert.Equal(t, true, apply(t, int64(2), "cast:bool"))
	assert.Equal(t, "12.5", apply(t, 12.5, "cast:string"))
	assert.Equal(t, `{"a":1}`, apply(t, map[string]any{"a": 1}, "cast:string"))
	assert.Equal(t, []any{"a", "b"}, apply(t, "a,b", "cast:array"))
	assert.Equal(t, map[string]any{"k": "v"}, apply(t, `{"k":"v"}`, "cast:json"))
	assert.Equal(t, "2021-03-04 05:06:07", apply(t, "2021-03-04T05:06:07Z", "cast:datetime"))

	_, err := NewEngine(nil).Apply("x", []string{"cast:currency"}, nil)
	require.Error(t, err)

	tc := NewContext(nil, "qty")
	out, err := NewEngine(nil).Apply("many", []string{"cast:int"}, tc)
	require.NoError(t, err)
	assert.Equal(t, "many", out)
	assert.Len(t, tc.Warnings(), 1)
}

func TestCastDate_Plausibility(t *testing.T) {
	engine := NewEngine(nil)
	run := func(v any) (any, []string) {
		tc := &Context{Field: "published", Now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		out, err := engine.Apply(v, []string{"cast:date"}, tc)
		require.NoError(t, err)
		return out, tc.Warnings()
	}

	out, warnings := run("03/15/2020")
	assert.Equal(t, "2020-03-15", out)
	assert.Empty(t, warnings)

	out, warnings = run("1984")
	assert.Equal(t, "1984-01-01", out)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "bare year")

	out, warnings = run("someday")
	assert.Nil(t, out)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "unparsable")

	out, warnings = run("1970-01-01T00:00:00Z")
	assert.Nil(t, out)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "epoch-zero")

	out, warnings = run("")
	assert.Nil(t, out)
	assert.Empty(t, warnings)
}

func TestDateBuiltins(t *testing.T) {
	assert.Equal(t, "15/03/2020", apply(t, "2020-03-15", "date_format:d/m/Y"))
	assert.Equal(t, "2020-03-15 10:30", apply(t, "2020-03-15T10:30:00Z", "date_format:Y-m-d H:i"))
	assert.Equal(t, "2020-03-15", apply(t, "15.03.2020", "parse_date:d.m.Y"))
	assert.Equal(t, "03/15/2020", apply(t, "15.03.2020", `parse_date("d.m.Y", "m/d/Y")`))
	assert.Equal(t, int64(1584268200), apply(t, "2020-03-15T10:30:00Z", "timestamp"))
}

func TestConcatAndCoalesce(t *testing.T) {
	row := map[string]any{"first": "Ada", "last": "Lovelace", "nick": "", "alt": "Countess"}
	engine := NewEngine(nil)
	run := func(v any, spec string) any {
		out, err := engine.Apply(v, []string{spec}, NewContext(row, "name"))
		require.NoError(t, err)
		return out
	}

	assert.Equal(t, "Ada Lovelace", run(nil, `concat(first, " ", last)`))
	assert.Equal(t, "Dr. Ada, Lovelace", run("Dr.", `concat($value, " ", first, ", ", last)`))
	assert.Equal(t, "Ada-Lovelace", run("Ada", "concat:-:nick:last"))
	assert.Equal(t, "Countess", run("", "coalesce(nick, alt)"))
	assert.Equal(t, "unknown", run(nil, `coalesce(nick, "unknown")`))
	assert.Equal(t, "Lovelace", run(nil, "coalesce:nick:last"))
	assert.Equal(t, "given", run("given", "coalesce(alt)"))
}

func TestRegexReplace(t *testing.T) {
	assert.Equal(t, "a-b-c", apply(t, "a b  c", `regex_replace(/\s+/g, "-")`))
	assert.Equal(t, "x x", apply(t, "Foo FOO", `regex_replace(/foo/gi, "x")`))
	assert.Equal(t, "2024/01/31", apply(t, "31.01.2024", `regex_replace("(\\d+)\\.(\\d+)\\.(\\d+)", "$3/$2/$1")`))
	assert.Equal(t, "a_b_c", apply(t, "a,b,c", "regex_replace:,:_"))
	assert.Equal(t, "p1", apply(t, "p, 1", `regex_replace(/[, ]/, "")`))

	_, err := NewEngine(nil).Apply("x", []string{"regex_replace(/(/, \"\")"}, nil)
	require.Error(t, err)
}

func TestParseSpec(t *testing.T) {
	p, err := ParseSpec(`concat(first, ", ", 'it', /a,b/i)`)
	require.NoError(t, err)
	assert.True(t, p.Paren)
	assert.Equal(t, "concat", p.Name)
	require.Len(t, p.Args, 4)
	assert.Equal(t, Arg{Value: "first"}, p.Args[0])
	assert.Equal(t, Arg{Value: ", ", Quoted: true}, p.Args[1])
	assert.Equal(t, Arg{Value: "it", Quoted: true}, p.Args[2])
	assert.Equal(t, Arg{Value: "/a,b/i", Regex: true}, p.Args[3])

	p, err = ParseSpec("date_format:Y-m-d H:i")
	require.NoError(t, err)
	assert.Equal(t, "date_format", p.Name)
	assert.Equal(t, "Y-m-d H:i", p.Raw)

	_, err = ParseSpec(`concat("open)`)
	assert.Error(t, err)
	_, err = ParseSpec(":x")
	assert.Error(t, err)
}

type shout struct{}

func (shout) Apply(v any, _ *Context) any {
	if s, ok := v.(string); ok {
		return strings.ToUpper(s) + "!"
	}
	return v
}

func TestRegistry_CustomResolutionOrder(t *testing.T) {
	reg := NewRegistry()
	reg.Register("trim", shout{})
	reg.RegisterFactory("repeat", func(p Params) (Transform, error) {
		return Func(func(v any, _ *Context) any {
			return strings.Repeat(v.(string), len(p.Args))
		}), nil
	})
	engine := NewEngine(reg)

	out, err := engine.Apply(" hi ", []string{"trim"}, nil)
	require.NoError(t, err)
	assert.Equal(t, " HI !", out)

	out, err = engine.Apply("ab", []string{"repeat:x:y:z"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ababab", out)

	got, err := reg.Get("trim")
	require.NoError(t, err)
	assert.Equal(t, shout{}, got)
	_, err = reg.Get("missing")
	assert.EqualError(t, err, "transform not found: missing")

	assert.Contains(t, reg.List(), "repeat")
	assert.Contains(t, reg.List(), "regex_replace")
}

func TestLoadAliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transforms.yaml")
	content := `
- name: clean_email
  transforms: [trim, lower]
- name: email_key
  transforms: [clean_email, "hash:md5"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg := NewRegistry()
	aliases, err := LoadAliases(path, reg)
	require.NoError(t, err)
	assert.Len(t, aliases, 2)

	out, err := NewEngine(reg).Apply(" Ada@Example.COM ", []string{"clean_email"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", out)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("- name: broken\n  transforms: [nope]\n"), 0o644))
	_, err = LoadAliases(bad, NewRegistry())
	assert.ErrorIs(t, err, ErrUnknownTransform)
}
