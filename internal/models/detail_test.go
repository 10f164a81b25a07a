package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetailData_MarshalJSON(t *testing.T) {
	d := DetailData{
		"Contact":    Section(map[string]string{"Name": "Jane", "Email": "jane@x.org"}),
		"MeSH Terms": List("Cancer", "Therapy"),
		"language":   Scalar("Swedish"),
		"recordID":   Number(32018000123),
	}

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"Contact": {"Name": "Jane", "Email": "jane@x.org"},
		"MeSH Terms": ["Cancer", "Therapy"],
		"language": "Swedish",
		"recordID": 32018000123
	}`, string(raw))

	var back DetailData
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, d, back)
}

func TestDetailDataFromMap(t *testing.T) {
	t.Run("firestore shapes", func(t *testing.T) {
		d, err := DetailDataFromMap(map[string]interface{}{
			"Details":    map[string]interface{}{"Country": "Sweden"},
			"MeSH Terms": []interface{}{"Cancer"},
			"recordID":   int64(42),
			"language":   "English",
		})
		require.NoError(t, err)
		assert.Equal(t, KindSection, d["Details"].Kind)
		assert.Equal(t, []string{"Cancer"}, d["MeSH Terms"].List)
		assert.Equal(t, Number(42), d["recordID"])
		assert.Equal(t, Scalar("English"), d["language"])
	})

	t.Run("unsupported value", func(t *testing.T) {
		_, err := DetailDataFromMap(map[string]interface{}{"flag": true})
		assert.Error(t, err)
	})

	t.Run("non-string section entry", func(t *testing.T) {
		_, err := DetailDataFromMap(map[string]interface{}{
			"Details": map[string]interface{}{"Pages": int64(3)},
		})
		assert.Error(t, err)
	})
}

func TestFieldValue_UnmarshalJSONNumber(t *testing.T) {
	var v FieldValue
	require.NoError(t, json.Unmarshal([]byte(`4711`), &v))
	assert.Equal(t, Number(4711), v)

	assert.Error(t, json.Unmarshal([]byte(`1.5`), &v))
}

func TestDetailData_Lookup(t *testing.T) {
	d := DetailData{
		"Details": Section(map[string]string{"URL for published report": "https://x.org/r.pdf"}),
		"title":   Scalar("A"),
		"Terms":   List("x"),
	}

	v, ok := d.Lookup("Details", "URL for published report")
	assert.True(t, ok)
	assert.Equal(t, "https://x.org/r.pdf", v)

	v, ok = d.Lookup("", "title")
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	_, ok = d.Lookup("Terms", "x")
	assert.False(t, ok)
	_, ok = d.Lookup("", "Terms")
	assert.False(t, ok)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	doc := &Document{
		ID:         "1",
		DetailData: DetailData{"Contact": Section(map[string]string{"Name": "Jane"})},
	}
	c := doc.Clone()
	c.DetailData["Contact"].Section["Name"] = "John"

	assert.Equal(t, "Jane", doc.DetailData["Contact"].Section["Name"])
}
