package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ocr-watch/internal/errs"
)

func mustRule(t *testing.T, spec Spec) *Rule {
	t.Helper()
	r, err := New(spec)
	require.NoError(t, err)
	return r
}

func TestContainsAndNotContains(t *testing.T) {
	r := mustRule(t, Spec{ID: "c", Kind: Contains, Content: "Error"})
	assert.True(t, r.Match("an ERROR occurred"))
	assert.False(t, r.Match("all good"))

	cs := mustRule(t, Spec{ID: "cs", Kind: Contains, Content: "Error", Params: Params{CaseSensitive: true}})
	assert.False(t, cs.Match("an ERROR occurred"))
	assert.True(t, cs.Match("an Error occurred"))

	nc := mustRule(t, Spec{ID: "nc", Kind: NotContains, Content: "ready"})
	assert.True(t, nc.Match("loading"))
	assert.False(t, nc.Match("READY"))
}

func TestExact(t *testing.T) {
	r := mustRule(t, Spec{ID: "e", Kind: Exact, Content: "Done"})
	assert.True(t, r.Match("done"))
	assert.False(t, r.Match("done!"))

	cs := mustRule(t, Spec{ID: "e2", Kind: Exact, Content: "Done", Params: Params{CaseSensitive: true}})
	assert.False(t, cs.Match("done"))
}

func TestRegexIsCaseInsensitiveByDefault(t *testing.T) {
	r := mustRule(t, Spec{ID: "re", Kind: Regex, Content: `^level \d+$`})
	assert.True(t, r.Match("LEVEL 12"))

	cs := mustRule(t, Spec{ID: "re2", Kind: Regex, Content: `^level`, Params: Params{CaseSensitive: true}})
	assert.False(t, cs.Match("LEVEL 12"))
}

func TestInvalidRulesFailAtCreation(t *testing.T) {
	cases := []Spec{
		{ID: "bad-re", Kind: Regex, Content: "("},
		{ID: "bad-num", Kind: Numeric, Content: "ten"},
		{ID: "bad-op", Kind: Numeric, Content: "10", Params: Params{Operator: "approx"}},
		{ID: "bad-kind", Kind: "fuzzy", Content: "x"},
		{Kind: Contains, Content: "no id"},
	}
	for _, spec := range cases {
		t.Run(spec.ID, func(t *testing.T) {
			_, err := New(spec)
			require.Error(t, err)
			assert.True(t, errs.HasCode(err, errs.ErrRuleConfig))
		})
	}
}

func TestNumericCompare(t *testing.T) {
	gt := mustRule(t, Spec{ID: "n", Kind: Numeric, Content: "100", Params: Params{Operator: Gt}})

	assert.False(t, gt.Match("HP: 100"))
	assert.True(t, gt.Match("HP: 150.5"))
	assert.False(t, gt.Match("HP: n/a"))
	// only the first number counts
	assert.False(t, gt.Match("HP: 3 of 500"))

	eq := mustRule(t, Spec{ID: "eq", Kind: Numeric, Content: "7"})
	assert.True(t, eq.Match("value 7"))
	assert.Equal(t, Eq, eq.Spec().Params.Operator)

	ops := map[Operator][2]bool{
		Ne: {true, false},
		Ge: {false, true},
		Lt: {true, false},
		Le: {true, true},
	}
	for op, want := range ops {
		r := mustRule(t, Spec{ID: string(op), Kind: Numeric, Content: "5", Params: Params{Operator: op}})
		assert.Equal(t, want[0], r.Match("4"), "op %s with 4", op)
		assert.Equal(t, want[1], r.Match("5"), "op %s with 5", op)
	}
}

func TestExtractNumber(t *testing.T) {
	v, ok := ExtractNumber("price 12.50 usd")
	require.True(t, ok)
	assert.Equal(t, 12.5, v)

	_, ok = ExtractNumber("none here")
	assert.False(t, ok)
}

func TestChangedRule(t *testing.T) {
	r := mustRule(t, Spec{ID: "ch", Kind: Changed})

	assert.True(t, r.Match("A"), "first observation always matches")
	assert.False(t, r.Match("A"))
	assert.True(t, r.Match("B"))
	assert.False(t, r.Match("B"))
	assert.True(t, r.Match("A"))
}

func TestMatchRecordsState(t *testing.T) {
	r := mustRule(t, Spec{ID: "c", Kind: Contains, Content: "x"})
	assert.False(t, r.State().Matched)

	r.Match("no")
	assert.False(t, r.State().Matched)

	r.Match("xyz")
	st := r.State()
	assert.True(t, st.Matched)
	assert.Equal(t, "xyz", st.LastMatchText)
	assert.False(t, st.LastMatchTime.IsZero())
}
