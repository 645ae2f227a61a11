package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildKey(t *testing.T) {
	key, err := BuildKey(KeyParts{
		TenantID: "t1", SurveyID: "s1", ResponseID: "r1", FieldID: "photo", FileID: "f1", Ext: ".JPG",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1/surveys/s1/responses/r1/photo/f1.jpg", key)
}

func TestBuildKeyWithoutResponse(t *testing.T) {
	key, err := BuildKey(KeyParts{TenantID: "t1", SurveyID: "s1", FieldID: "photo", FileID: "f1", Ext: "png"})
	require.NoError(t, err)
	assert.Equal(t, "t1/surveys/s1/responses/unassigned/photo/f1.png", key)
}

func TestBuildKeyRejectsTraversal(t *testing.T) {
	cases := map[string]KeyParts{
		"dotdot tenant":   {TenantID: "..", SurveyID: "s", FieldID: "f", FileID: "x"},
		"slash in survey": {TenantID: "t", SurveyID: "a/b", FieldID: "f", FileID: "x"},
		"backslash field": {TenantID: "t", SurveyID: "s", FieldID: `..\..`, FileID: "x"},
		"empty field":     {TenantID: "t", SurveyID: "s", FieldID: "", FileID: "x"},
		"nul in file":     {TenantID: "t", SurveyID: "s", FieldID: "f", FileID: "x\x00"},
		"dotted ext":      {TenantID: "t", SurveyID: "s", FieldID: "f", FileID: "x", Ext: "tar.gz/.."},
	}
	for name, parts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := BuildKey(parts)
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestThumbnailKey(t *testing.T) {
	assert.Equal(t, "t/surveys/s/responses/r/f/id_thumb.jpg", ThumbnailKey("t/surveys/s/responses/r/f/id.png"))
	assert.Equal(t, "t/x/id_thumb.jpg", ThumbnailKey("t/x/id"))
}

func TestCleanKey(t *testing.T) {
	for _, bad := range []string{"", "/abs", "a/../b", "a//b", "a/./b", "..", `a\b`, "a/"} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
	k, err := CleanKey("t1/surveys/s1/x.png")
	require.NoError(t, err)
	assert.Equal(t, "t1/surveys/s1/x.png", k)
}
