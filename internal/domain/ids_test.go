package domain

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectIDString(t *testing.T) {
	id := ObjectID{Dataset: "main", Kind: KindView, Name: "scored"}
	assert.Equal(t, "main.scored", id.String())
}

func TestObjectIDOrdering(t *testing.T) {
	ids := []ObjectID{
		{Dataset: "b", Kind: KindTable, Name: "t"},
		{Dataset: "a", Kind: KindRoutine, Name: "r"},
		{Dataset: "a", Kind: KindView, Name: "z"},
		{Dataset: "a", Kind: KindView, Name: "a"},
		{Dataset: "a", Kind: KindTable, Name: "t"},
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	want := []ObjectID{
		{Dataset: "a", Kind: KindTable, Name: "t"},
		{Dataset: "a", Kind: KindView, Name: "a"},
		{Dataset: "a", Kind: KindView, Name: "z"},
		{Dataset: "a", Kind: KindRoutine, Name: "r"},
		{Dataset: "b", Kind: KindTable, Name: "t"},
	}
	assert.Equal(t, want, ids)
}

func TestTarget(t *testing.T) {
	id := ObjectID{Dataset: "main", Kind: KindView, Name: "scored"}

	prod := Target{Project: "proj"}
	assert.Equal(t, "main", prod.DatasetName("main"))
	assert.Equal(t, "proj.main.scored", prod.FQN(id))

	stage := Target{Project: "proj", StageSuffix: "_test"}
	assert.Equal(t, "main_test", stage.DatasetName("main"))
	assert.Equal(t, "proj.main_test.scored", stage.FQN(id))
}

func TestSplitRef(t *testing.T) {
	tests := []struct {
		ref     string
		dataset string
		name    string
	}{
		{ref: "scored", dataset: "", name: "scored"},
		{ref: "main.scored", dataset: "main", name: "scored"},
		{ref: "ext.other.scored", dataset: "ext", name: "other.scored"},
	}
	for _, tt := range tests {
		ds, name := SplitRef(tt.ref)
		assert.Equal(t, tt.dataset, ds, tt.ref)
		assert.Equal(t, tt.name, name, tt.ref)
	}
}
