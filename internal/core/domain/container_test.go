package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestContainerPatchOnlyTouchesPresentFields(t *testing.T) {
	original := Container{ID: "abc", Name: "web", Image: "nginx", Status: "created", State: "created", Tags: []string{"prod"}}

	patched, changed := ContainerPatch{Status: strPtr("running")}.Apply(original)
	assert.True(t, changed)
	assert.Equal(t, "running", patched.Status)

	expected := original
	expected.Status = "running"
	assert.Equal(t, expected, patched)

	// Idempotent under repeated identical patches
	again, changed := ContainerPatch{Status: strPtr("running")}.Apply(patched)
	assert.False(t, changed)
	assert.Equal(t, patched, again)
}

func TestContainerPatchList(t *testing.T) {
	list := []Container{{ID: "a", Status: "exited"}, {ID: "b", Status: "exited"}}
	patch := ContainerPatch{Status: strPtr("running")}

	out, changed := patch.PatchList(list, "b")
	assert.True(t, changed)
	assert.Equal(t, "running", out[1].Status)
	assert.Equal(t, "exited", list[1].Status, "input slice must not be modified")

	same, changed := patch.PatchList(list, "missing")
	assert.False(t, changed)
	assert.Equal(t, list, same)
}

func TestHasTags(t *testing.T) {
	c := Container{Tags: []string{"prod", "web"}}
	assert.True(t, c.HasTags(nil))
	assert.True(t, c.HasTags([]string{"web"}))
	assert.False(t, c.HasTags([]string{"web", "db"}))
}
