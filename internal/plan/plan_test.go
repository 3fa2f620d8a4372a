package plan

import (
	"encoding/json"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/splitmerge/internal/assembly"
)

func TestFormatPages(t *testing.T) {
	tests := []struct {
		in   []int
		want string
	}{
		{nil, ""},
		{[]int{}, ""},
		{[]int{1, 2, 3, 5, 7, 8}, "1-3,5,7-8"},
		{[]int{8, 7, 5, 3, 2, 1}, "1-3,5,7-8"},
		{[]int{4}, "4"},
		{[]int{1, 2, 3, 4, 5, 6}, "1-6"},
		{[]int{2, 2, 3}, "2-3"},
		{[]int{1, 3, 5}, "1,3,5"},
		{[]int{100001, 100002}, "100001-100002"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatPages(tt.in), "FormatPages(%v)", tt.in)
	}
}

func TestFormatPagesDoesNotMutateInput(t *testing.T) {
	in := []int{3, 1, 2}
	FormatPages(in)
	assert.Equal(t, []int{3, 1, 2}, in)
}

func TestParsePages(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"", nil},
		{"1,2,3", []int{1, 2, 3}},
		{"1,3,2", []int{1, 3, 2}},
		{"1-3,5", []int{1, 2, 3, 5}},
		{" 1 - 2 , 4 ", []int{1, 2, 4}},
		{"2-1", nil},
		{"abc", nil},
		{"1,abc,3", []int{1, 3}},
		{"1,,3,", []int{1, 3}},
		{"0,-2,3-", nil},
		{"1-2-3", nil},
		{"+4", nil},
		{"5-5", []int{5}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParsePages(tt.in), "ParsePages(%q)", tt.in)
	}
}

func TestParsePagesStrict(t *testing.T) {
	got, err := ParsePagesStrict("1-3,7")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 7}, got)

	got, err = ParsePagesStrict("  ")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = ParsePagesStrict("250000")
	require.NoError(t, err)
	assert.Equal(t, []int{250000}, got)

	for _, bad := range []string{"2-1", "x", "1,,2", "0", "1-200000", "99999999999999999999"} {
		_, err := ParsePagesStrict(bad)
		assert.ErrorIs(t, err, ErrInvalidPageRange, bad)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		set := map[int]struct{}{}
		n := 1 + r.Intn(30)
		for len(set) < n {
			set[1+r.Intn(60)] = struct{}{}
		}
		var in []int
		for p := range set {
			in = append(in, p)
		}

		out := ParsePages(FormatPages(in))
		sort.Ints(in)
		sort.Ints(out)
		require.Equal(t, in, out)
	}
}

func TestFormatParseRoundTripLargePages(t *testing.T) {
	tests := []struct {
		name string
		in   []int
	}{
		{"above range bound", []int{100001, 100002}},
		{"far apart", []int{1, 5000000}},
		{"run longer than one token", pageRun(1, MaxRangePages+5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := ParsePagesStrict(FormatPages(tt.in))
			require.NoError(t, err)
			sort.Ints(out)
			assert.Equal(t, tt.in, out)
		})
	}
	assert.Equal(t, "1-100000,100001-100005", FormatPages(pageRun(1, MaxRangePages+5)))
}

func pageRun(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		out = append(out, p)
	}
	return out
}

func TestBuildGroupsAtSeparators(t *testing.T) {
	ws := assembly.New(
		assembly.Doc("A"),
		assembly.Doc("B", 3, 1, 2),
		assembly.Separator(),
		assembly.Doc("C", 5, 7, 8),
	)
	got := Build(ws)
	want := ExecutionPlan{
		{{Document: "A"}, {Document: "B", Pages: "1-3"}},
		{{Document: "C", Pages: "5,7-8"}},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 3, got.Parts())
}

func TestBuildKeepsEmptyEdgeGroups(t *testing.T) {
	leading := assembly.New(assembly.Separator(), assembly.Doc("A"))
	assert.Equal(t, ExecutionPlan{{}, {{Document: "A"}}}, Build(leading))

	trailing := assembly.New(assembly.Doc("A"), assembly.Separator())
	assert.Equal(t, ExecutionPlan{{{Document: "A"}}, {}}, Build(trailing))
}

func TestBuildAfterRemovingLoneGroupMember(t *testing.T) {
	ws := assembly.New(assembly.Doc("a"), assembly.Separator(), assembly.Doc("b"), assembly.Separator(), assembly.Doc("c"))
	ws.Remove(2)
	require.NoError(t, ws.Validate())

	req := NewRequest(ws, MetadataRedo, false, true)
	assert.Equal(t, ExecutionPlan{{{Document: "a"}}, {{Document: "c"}}}, req.Plan)
	assert.NoError(t, req.Validate())
}

func TestBuildEmpty(t *testing.T) {
	assert.Nil(t, Build(assembly.New()))
}

func TestRestore(t *testing.T) {
	p := ExecutionPlan{
		{{Document: "A", Pages: "1-2"}},
		{},
		{{Document: "B"}, {Document: "A", Pages: "3,x,5"}},
	}
	ws := Restore(p)
	require.NoError(t, ws.Validate())
	es := ws.Entries()
	require.Len(t, es, 4)
	assert.Equal(t, []int{1, 2}, es[0].Ref.Pages)
	assert.True(t, es[1].IsSeparator())
	assert.Nil(t, es[2].Ref.Pages)
	assert.Equal(t, []int{3, 5}, es[3].Ref.Pages)

	assert.Equal(t, ExecutionPlan{
		{{Document: "A", Pages: "1-2"}},
		{{Document: "B"}, {Document: "A", Pages: "3,5"}},
	}, Build(ws))
}

func TestRequestJSON(t *testing.T) {
	ws := assembly.New(assembly.Doc("12", 1, 2, 3), assembly.Separator(), assembly.Doc("13"))
	req := NewRequest(ws, MetadataCopyFirst, true, false)

	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"split_merge_plan": [[{"document":"12","pages":"1-3"}],[{"document":"13"}]],
		"delete_source": true,
		"metadata": "copy_first",
		"preview": false
	}`, string(b))

	var back Request
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, req, back)
}

func TestRequestValidate(t *testing.T) {
	ok := Request{Plan: ExecutionPlan{{{Document: "1"}}}, Metadata: MetadataRedo}
	require.NoError(t, ok.Validate())
	assert.Equal(t, MetadataRedo, NewRequest(assembly.New(assembly.Doc("1")), "", false, true).Metadata)

	tests := []struct {
		name string
		req  Request
		err  error
	}{
		{"metadata", Request{Plan: ok.Plan, Metadata: "keep"}, ErrInvalidMetadata},
		{"empty plan", Request{Metadata: MetadataRedo}, ErrEmptyPlan},
		{"empty group", Request{Plan: ExecutionPlan{{}}, Metadata: MetadataRedo}, ErrEmptyGroup},
		{"no document", Request{Plan: ExecutionPlan{{{Pages: "1"}}}, Metadata: MetadataRedo}, ErrInvalidPart},
		{"bad pages", Request{Plan: ExecutionPlan{{{Document: "1", Pages: "3-1"}}}, Metadata: MetadataRedo}, ErrInvalidPageRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.req.Validate(), tt.err)
		})
	}
}
